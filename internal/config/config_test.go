package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `source_dir: .
build_dir: build/Release
app_bundle: TeX Live Utility.app
version_manifest: version.yaml
appcast_path: appcast/tlu_appcast.xml
download_url_prefix: http://mactlmgr.googlecode.com/files
signing_key_item: TeX Live Utility Sparkle Key
upload_credential_item: mactlmgr upload
project: mactlmgr
upload_host: googlecode.com
build:
  target: TeX Live Utility
labels:
  - Featured
  - Type-Archive
  - OpSys-OSX
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "TeX Live Utility.app", cfg.AppBundle)
	assert.Equal(t, "mactlmgr", cfg.Project)
	assert.Equal(t, []string{"Featured", "Type-Archive", "OpSys-OSX"}, cfg.Labels)

	// Defaults applied.
	assert.Equal(t, "xcodebuild", cfg.Build.Command)
	assert.Equal(t, "Release", cfg.Build.Configuration)

	// Relative paths resolved against the config file's directory.
	base := filepath.Dir(path)
	assert.Equal(t, base, cfg.SourceDir)
	assert.Equal(t, filepath.Join(base, "build", "Release"), cfg.BuildDir)
	assert.Equal(t, filepath.Join(base, "version.yaml"), cfg.VersionManifest)
	assert.Equal(t, filepath.Join(base, "appcast", "tlu_appcast.xml"), cfg.AppcastPath)
	assert.Equal(t, filepath.Join(base, "build", "Release", "TeX Live Utility.app"), cfg.BundlePath())
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeConfig(t, "source_dir: .\nbuild_dir: build\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_EmptyRequiredField(t *testing.T) {
	path := writeConfig(t, strings.Replace(validConfig, "project: mactlmgr", `project: ""`, 1))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, validConfig+"no_such_field: true\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
