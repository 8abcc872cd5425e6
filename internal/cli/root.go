// Package cli wires the release pipeline to its command line surface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/amaxwell/relcast/internal/config"
	"github.com/amaxwell/relcast/internal/pipeline"
	"github.com/amaxwell/relcast/internal/version"
)

// RootOptions holds the flags shared by the whole invocation.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the relcast command. The release pipeline is
// the root command itself: one positional argument, the new version.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relcast <new-version>",
		Short: "Build, sign, publish and upload an application release",
		Long: `relcast runs one release end to end: it bumps the version manifest,
rebuilds the application, wraps the bundle in a gzipped tarball, signs
it with the key from the keychain, appends the release to the appcast,
and uploads the tarball to the project hosting service.

The run is fail-fast with no rollback: the first failed step aborts the
release and leaves prior side effects in place for inspection.

Example:
  relcast 0.3
  relcast --config release/relcast.yaml --verbose 1.2.0`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "relcast.yaml", "path to the release configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func runRelease(cmd *cobra.Command, opts *RootOptions, rawVersion string) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	// Terminal input on macOS can arrive decomposed; the version ends
	// up in filenames and feed titles, so pin it to NFC here.
	newVersion := version.Normalize(rawVersion)
	if _, err := version.Parse(newVersion); err != nil {
		return WrapExitError(ExitCommandError, "invalid version argument", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	p := pipeline.New(cfg, pipeline.Deps{Log: log})
	res, err := p.Run(cmd.Context(), newVersion)
	if err != nil {
		if step := pipeline.FailedStep(err); step != "" {
			return WrapExitError(ExitFailure, "release aborted at "+string(step), err)
		}
		return WrapExitError(ExitFailure, "release aborted", err)
	}

	log.Info("release complete",
		"run", res.RunID,
		"from", res.OldVersion,
		"to", res.NewVersion,
		"archive", res.ArchivePath,
		"bytes", res.SizeBytes,
	)
	return nil
}
