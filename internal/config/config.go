// Package config loads and validates the relcast configuration file.
//
// Configuration is a YAML document validated against an embedded CUE
// schema, so a typo'd or missing field is reported before the pipeline
// touches anything.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Build describes the external build tool invocation.
type Build struct {
	Command       string `yaml:"command" json:"command"`
	Target        string `yaml:"target" json:"target"`
	Configuration string `yaml:"configuration" json:"configuration"`
}

// Config is the full release configuration. All paths are absolute after
// Load; relative paths in the file are resolved against the file's own
// directory.
type Config struct {
	SourceDir            string   `yaml:"source_dir" json:"source_dir"`
	BuildDir             string   `yaml:"build_dir" json:"build_dir"`
	AppBundle            string   `yaml:"app_bundle" json:"app_bundle"`
	VersionManifest      string   `yaml:"version_manifest" json:"version_manifest"`
	AppcastPath          string   `yaml:"appcast_path" json:"appcast_path"`
	DownloadURLPrefix    string   `yaml:"download_url_prefix" json:"download_url_prefix"`
	SigningKeyItem       string   `yaml:"signing_key_item" json:"signing_key_item"`
	UploadCredentialItem string   `yaml:"upload_credential_item" json:"upload_credential_item"`
	Project              string   `yaml:"project" json:"project"`
	UploadHost           string   `yaml:"upload_host" json:"upload_host"`
	Build                Build    `yaml:"build" json:"build"`
	Labels               []string `yaml:"labels" json:"labels"`
}

// BundlePath returns the built app bundle location inside the build
// directory.
func (c Config) BundlePath() string {
	return filepath.Join(c.BuildDir, c.AppBundle)
}

// Load reads, defaults, validates and path-resolves the configuration
// file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.SourceDir = resolve(base, cfg.SourceDir)
	cfg.BuildDir = resolve(base, cfg.BuildDir)
	cfg.VersionManifest = resolve(base, cfg.VersionManifest)
	cfg.AppcastPath = resolve(base, cfg.AppcastPath)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Build.Command == "" {
		cfg.Build.Command = "xcodebuild"
	}
	if cfg.Build.Configuration == "" {
		cfg.Build.Configuration = "Release"
	}
	if cfg.Labels == nil {
		cfg.Labels = []string{}
	}
}

// Validate unifies the configuration with the embedded CUE schema and
// requires a concrete result. Errors include CUE's field positions.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup config schema: %w", err)
	}

	val := def.Unify(ctx.Encode(cfg))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
