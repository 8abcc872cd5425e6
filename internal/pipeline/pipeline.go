// Package pipeline sequences a release: version bump, build, package,
// sign, appcast update, upload.
//
// The run is strictly linear and fails fast. The first error halts the
// pipeline with no rollback; side effects already on disk (rewritten
// manifest, built archive) are left for the operator to inspect, since
// this is a supervised tool and partial state is evidence, not garbage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amaxwell/relcast/internal/archive"
	"github.com/amaxwell/relcast/internal/buildtool"
	"github.com/amaxwell/relcast/internal/config"
	"github.com/amaxwell/relcast/internal/feed"
	"github.com/amaxwell/relcast/internal/keychain"
	"github.com/amaxwell/relcast/internal/signing"
	"github.com/amaxwell/relcast/internal/upload"
	"github.com/amaxwell/relcast/internal/version"
)

// Step names the pipeline stage a failure occurred in. The progression
// is fixed: each step's preconditions are the previous step's
// postconditions.
type Step string

const (
	StepVersionBump Step = "version-bump"
	StepBuild       Step = "build"
	StepPackage     Step = "package"
	StepSign        Step = "sign"
	StepFeedUpdate  Step = "feed-update"
	StepUpload      Step = "upload"
)

// StepError wraps a component failure with the stage it aborted.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the stage a pipeline error occurred in, or "" if
// err carries no step information.
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// Deps are the injectable collaborators. Zero-value fields get the real
// implementations in New; tests substitute fakes.
type Deps struct {
	Store    *version.Store
	Builder  buildtool.Builder
	Secrets  keychain.Store
	Uploader upload.Uploader
	Now      func() time.Time
	Log      *slog.Logger
}

// Result reports what a completed run produced.
type Result struct {
	RunID       string
	OldVersion  string
	NewVersion  string
	ArchivePath string
	SizeBytes   int64
}

// Pipeline runs one release end to end.
type Pipeline struct {
	cfg      config.Config
	store    *version.Store
	builder  buildtool.Builder
	secrets  keychain.Store
	uploader upload.Uploader
	now      func() time.Time
	log      *slog.Logger
}

// New builds a pipeline over cfg, filling in any collaborators deps
// leaves nil.
func New(cfg config.Config, deps Deps) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		builder:  deps.Builder,
		secrets:  deps.Secrets,
		uploader: deps.Uploader,
		now:      deps.Now,
		log:      deps.Log,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.store == nil {
		p.store = version.NewStore(cfg.VersionManifest)
	}
	if p.builder == nil {
		p.builder = buildtool.ExecBuilder{Command: cfg.Build.Command, Dir: cfg.SourceDir}
	}
	if p.secrets == nil {
		p.secrets = keychain.ExecStore{}
	}
	if p.uploader == nil {
		p.uploader = upload.NewHTTPUploader(cfg.UploadHost, p.log)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Run releases newVersion. The version string must already be
// normalized and semver-parseable; Run enforces only the bump invariant
// (the new version must differ from the recorded one).
func (p *Pipeline) Run(ctx context.Context, newVersion string) (Result, error) {
	runID := uuid.NewString()
	log := p.log.With("run", runID, "version", newVersion)
	res := Result{RunID: runID, NewVersion: newVersion}

	// Bump the manifest first: if the version does not actually change,
	// nothing else may run.
	oldVersion, err := p.store.Read()
	if err != nil {
		return res, &StepError{Step: StepVersionBump, Err: err}
	}
	if err := p.store.Write(oldVersion, newVersion); err != nil {
		return res, &StepError{Step: StepVersionBump, Err: err}
	}
	res.OldVersion = oldVersion
	log.Info("version bumped", "from", oldVersion)

	if cmp, err := version.Compare(newVersion, oldVersion); err == nil && cmp < 0 {
		log.Warn("new version sorts below the old one", "old", oldVersion)
	}

	log.Info("building", "target", p.cfg.Build.Target, "configuration", p.cfg.Build.Configuration)
	if err := p.builder.Build(ctx, p.cfg.Build.Target, p.cfg.Build.Configuration); err != nil {
		return res, &StepError{Step: StepBuild, Err: err}
	}
	log.Info("build finished")

	archivePath, err := archive.Package(p.cfg.BuildDir, p.cfg.BundlePath(), newVersion)
	if err != nil {
		return res, &StepError{Step: StepPackage, Err: err}
	}
	res.ArchivePath = archivePath
	log.Info("archive created", "path", archivePath)

	sig, size, err := p.signArchive(ctx, archivePath)
	if err != nil {
		return res, &StepError{Step: StepSign, Err: err}
	}
	res.SizeBytes = size
	log.Info("archive signed", "bytes", size)

	release := feed.Release{
		OldVersion:        oldVersion,
		NewVersion:        newVersion,
		ArchivePath:       archivePath,
		DownloadURLPrefix: p.cfg.DownloadURLPrefix,
		Signature:         sig.Value,
		SignatureAttr:     sig.Attr,
		SizeBytes:         size,
		PubDate:           p.now(),
	}
	if err := feed.AppendRelease(p.cfg.AppcastPath, release); err != nil {
		return res, &StepError{Step: StepFeedUpdate, Err: err}
	}
	log.Info("appcast updated", "path", p.cfg.AppcastPath, "title", release.Title())

	if err := p.uploadArchive(ctx, archivePath, newVersion); err != nil {
		return res, &StepError{Step: StepUpload, Err: err}
	}
	log.Info("upload complete")

	return res, nil
}

// signArchive resolves the key, signs and discards the key material
// before returning, keeping the window where the key exists outside the
// secret store as small as possible.
func (p *Pipeline) signArchive(ctx context.Context, archivePath string) (signing.Signature, int64, error) {
	blob, err := p.secrets.Lookup(ctx, p.cfg.SigningKeyItem)
	if err != nil {
		return signing.Signature{}, 0, err
	}
	keyPEM, err := keychain.ParseSigningKey(blob)
	if err != nil {
		return signing.Signature{}, 0, err
	}
	defer signing.Wipe(keyPEM)

	return signing.SignAndMeasure(archivePath, keyPEM)
}

func (p *Pipeline) uploadArchive(ctx context.Context, archivePath, newVersion string) error {
	blob, err := p.secrets.Lookup(ctx, p.cfg.UploadCredentialItem)
	if err != nil {
		return err
	}
	username, password, err := keychain.ParseAccountPassword(blob)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("%s build (%s)", p.now().Format("20060102"), newVersion)
	return p.uploader.Upload(ctx, upload.Request{
		Path:     archivePath,
		Project:  p.cfg.Project,
		Username: username,
		Password: password,
		Summary:  summary,
		Labels:   p.cfg.Labels,
	})
}
