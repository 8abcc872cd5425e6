package pipeline

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaxwell/relcast/internal/buildtool"
	"github.com/amaxwell/relcast/internal/config"
	"github.com/amaxwell/relcast/internal/feed"
	"github.com/amaxwell/relcast/internal/upload"
	"github.com/amaxwell/relcast/internal/version"
)

// fakeBuilder records the invocation and optionally creates the bundle,
// standing in for the external build tool.
type fakeBuilder struct {
	bundlePath    string
	calls         int
	target        string
	configuration string
	err           error
}

func (b *fakeBuilder) Build(ctx context.Context, target, configuration string) error {
	b.calls++
	b.target = target
	b.configuration = configuration
	if b.err != nil {
		return b.err
	}
	if err := os.MkdirAll(filepath.Join(b.bundlePath, "Contents"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.bundlePath, "Contents", "app"), []byte("built"), 0o755)
}

// fakeSecrets answers keychain lookups from a map.
type fakeSecrets struct {
	items map[string]string
}

func (s fakeSecrets) Lookup(ctx context.Context, item string) (string, error) {
	blob, ok := s.items[item]
	if !ok {
		return "", fmt.Errorf("no keychain item %q", item)
	}
	return blob, nil
}

// fakeUploader records the upload request.
type fakeUploader struct {
	calls int
	req   upload.Request
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, req upload.Request) error {
	u.calls++
	u.req = req
	if u.err != nil {
		return u.err
	}
	return nil
}

const appcastFixture = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:sparkle="http://www.andymatuschak.org/xml-namespaces/sparkle" xmlns:dc="http://purl.org/dc/elements/1.1/">
    <channel>
        <item>
            <title>Version 0.2</title>
            <pubDate>Tue, 30 Dec 2008 10:00:00 +0000</pubDate>
        </item>
    </channel>
</rss>
`

type fixture struct {
	cfg      config.Config
	builder  *fakeBuilder
	uploader *fakeUploader
	deps     Deps
}

func newFixture(t *testing.T, currentVersion string) fixture {
	t.Helper()
	root := t.TempDir()
	buildDir := filepath.Join(root, "build", "Release")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))

	manifest := filepath.Join(root, "version.yaml")
	require.NoError(t, os.WriteFile(manifest,
		[]byte(fmt.Sprintf("version: %q\nshort_version: %q\n", currentVersion, currentVersion)), 0o644))

	appcast := filepath.Join(root, "tlu_appcast.xml")
	require.NoError(t, os.WriteFile(appcast, []byte(appcastFixture), 0o644))

	cfg := config.Config{
		SourceDir:            root,
		BuildDir:             buildDir,
		AppBundle:            "TeX Live Utility.app",
		VersionManifest:      manifest,
		AppcastPath:          appcast,
		DownloadURLPrefix:    "http://mactlmgr.googlecode.com/files",
		SigningKeyItem:       "TeX Live Utility Sparkle Key",
		UploadCredentialItem: "mactlmgr upload",
		Project:              "mactlmgr",
		UploadHost:           "googlecode.com",
		Build:                config.Build{Command: "xcodebuild", Target: "TeX Live Utility", Configuration: "Release"},
		Labels:               []string{"Featured", "Type-Archive", "OpSys-OSX"},
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	builder := &fakeBuilder{bundlePath: cfg.BundlePath()}
	uploader := &fakeUploader{}
	secrets := fakeSecrets{items: map[string]string{
		cfg.SigningKeyItem:       string(keyPEM),
		cfg.UploadCredentialItem: "    \"acct\"<blob>=\"amaxwell\"\npassword: \"hunter2\"\n",
	}}
	deps := Deps{
		Builder:  builder,
		Secrets:  secrets,
		Uploader: uploader,
		Now:      func() time.Time { return time.Date(2009, 1, 2, 15, 4, 5, 0, time.UTC) },
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return fixture{cfg: cfg, builder: builder, uploader: uploader, deps: deps}
}

func TestRun_ReleasesNewVersion(t *testing.T) {
	f := newFixture(t, "0.2")
	p := New(f.cfg, f.deps)

	res, err := p.Run(context.Background(), "0.3")
	require.NoError(t, err)

	assert.Equal(t, "0.2", res.OldVersion)
	assert.Equal(t, "0.3", res.NewVersion)
	assert.NotEmpty(t, res.RunID)
	assert.Positive(t, res.SizeBytes)

	// Manifest bumped, both fields.
	v, err := version.NewStore(f.cfg.VersionManifest).Read()
	require.NoError(t, err)
	assert.Equal(t, "0.3", v)

	// Build invoked with the configured target and configuration.
	assert.Equal(t, 1, f.builder.calls)
	assert.Equal(t, "TeX Live Utility", f.builder.target)
	assert.Equal(t, "Release", f.builder.configuration)

	// Archive named from the bundle and version.
	assert.Equal(t, filepath.Join(f.cfg.BuildDir, "TeX Live Utility.app-0.3.tgz"), res.ArchivePath)
	_, statErr := os.Stat(res.ArchivePath)
	assert.NoError(t, statErr)

	// Feed gained exactly one new entry, previous entries intact.
	titles, err := feed.Titles(f.cfg.AppcastPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Version 0.2", "Version 0.3"}, titles)

	// Upload received the exact archive path and release metadata.
	assert.Equal(t, 1, f.uploader.calls)
	assert.Equal(t, res.ArchivePath, f.uploader.req.Path)
	assert.Equal(t, "mactlmgr", f.uploader.req.Project)
	assert.Equal(t, "amaxwell", f.uploader.req.Username)
	assert.Equal(t, "hunter2", f.uploader.req.Password)
	assert.Equal(t, "20090102 build (0.3)", f.uploader.req.Summary)
	assert.Equal(t, []string{"Featured", "Type-Archive", "OpSys-OSX"}, f.uploader.req.Labels)
}

func TestRun_SameVersionFailsBeforeBuild(t *testing.T) {
	f := newFixture(t, "0.3")
	p := New(f.cfg, f.deps)

	_, err := p.Run(context.Background(), "0.3")
	require.Error(t, err)
	assert.Equal(t, StepVersionBump, FailedStep(err))
	assert.True(t, version.IsInvariantError(err))

	// Nothing downstream ran.
	assert.Equal(t, 0, f.builder.calls)
	assert.Equal(t, 0, f.uploader.calls)
	data, err := os.ReadFile(f.cfg.AppcastPath)
	require.NoError(t, err)
	assert.Equal(t, appcastFixture, string(data))
}

func TestRun_BuildFailureAborts(t *testing.T) {
	f := newFixture(t, "0.2")
	f.builder.err = &buildtool.BuildError{Command: "xcodebuild", Err: errors.New("exit status 65")}
	p := New(f.cfg, f.deps)

	_, err := p.Run(context.Background(), "0.3")
	require.Error(t, err)
	assert.Equal(t, StepBuild, FailedStep(err))

	// Fail fast, no rollback: the manifest stays bumped for the
	// operator to inspect, but the feed was never touched.
	v, readErr := version.NewStore(f.cfg.VersionManifest).Read()
	require.NoError(t, readErr)
	assert.Equal(t, "0.3", v)

	titles, tErr := feed.Titles(f.cfg.AppcastPath)
	require.NoError(t, tErr)
	assert.Equal(t, []string{"Version 0.2"}, titles)
	assert.Equal(t, 0, f.uploader.calls)
}

func TestRun_UploadFailureAfterFeedUpdate(t *testing.T) {
	f := newFixture(t, "0.2")
	f.uploader.err = &upload.Error{Status: "403 Forbidden"}
	p := New(f.cfg, f.deps)

	_, err := p.Run(context.Background(), "0.3")
	require.Error(t, err)
	assert.Equal(t, StepUpload, FailedStep(err))

	// The feed update already happened and is left in place.
	titles, tErr := feed.Titles(f.cfg.AppcastPath)
	require.NoError(t, tErr)
	assert.Equal(t, []string{"Version 0.2", "Version 0.3"}, titles)
}

func TestRun_MissingSigningKeyAborts(t *testing.T) {
	f := newFixture(t, "0.2")
	f.deps.Secrets = fakeSecrets{items: map[string]string{}}
	p := New(f.cfg, f.deps)

	_, err := p.Run(context.Background(), "0.3")
	require.Error(t, err)
	assert.Equal(t, StepSign, FailedStep(err))
	assert.Equal(t, 0, f.uploader.calls)
}
