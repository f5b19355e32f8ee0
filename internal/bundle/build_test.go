package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ftl2/internal/domain"
)

func writeModule(t *testing.T, root, fqcn, body string) {
	t.Helper()
	path := filepath.Join(root, fqcnToRelPath(fqcn))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	resolver := &SourceResolver{CollectionRoot: root}
	return NewBuilder(resolver), root
}

var profile = domain.TargetProfile{InterpreterVersion: "3.11", OS: "linux", Arch: "amd64"}

func TestBuild_FingerprintIsOrderIndependent(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "# ftl2-deps: requests\nbody-a")
	writeModule(t, root, "pkg.remove", "body-b")

	bundle1, err := b.Build([]string{"pkg.install", "pkg.remove"}, profile)
	require.NoError(t, err)

	bundle2, err := b.Build([]string{"pkg.remove", "pkg.install"}, profile)
	require.NoError(t, err)

	assert.Equal(t, bundle1.Manifest.Fingerprint, bundle2.Manifest.Fingerprint)
}

func TestBuild_DifferentProfileYieldsDifferentFingerprint(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "body")

	bundle1, err := b.Build([]string{"pkg.install"}, profile)
	require.NoError(t, err)

	other := profile
	other.Arch = "arm64"
	bundle2, err := b.Build([]string{"pkg.install"}, other)
	require.NoError(t, err)

	assert.NotEqual(t, bundle1.Manifest.Fingerprint, bundle2.Manifest.Fingerprint)
}

func TestBuild_DifferentBodyYieldsDifferentFingerprint(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "body-v1")
	bundle1, err := b.Build([]string{"pkg.install"}, profile)
	require.NoError(t, err)

	writeModule(t, root, "pkg.install", "body-v2")
	bundle2, err := b.Build([]string{"pkg.install"}, profile)
	require.NoError(t, err)

	assert.NotEqual(t, bundle1.Manifest.Fingerprint, bundle2.Manifest.Fingerprint)
}

func TestBuild_CollectsDependenciesAcrossModules(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "# ftl2-deps: requests\nbody")
	writeModule(t, root, "net.fetch", "# ftl2-deps: requests, boto3\nbody")

	bundle, err := b.Build([]string{"pkg.install", "net.fetch"}, profile)
	require.NoError(t, err)
	assert.Equal(t, []string{"boto3", "requests"}, bundle.Manifest.Dependencies)
}

func TestBuild_MissingModuleFails(t *testing.T) {
	b, _ := newTestBuilder(t)
	_, err := b.Build([]string{"pkg.missing"}, profile)
	assert.Error(t, err)
}

func TestBuild_ArchiveContainsManifestAndModuleBodies(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "print('hello')")

	bundle, err := b.Build([]string{"pkg.install"}, profile)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(bundle.Archive))
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	entries := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = data
	}

	require.Contains(t, entries, "manifest.json")
	var manifest domain.BundleManifest
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &manifest))
	assert.Equal(t, bundle.Manifest.Fingerprint, manifest.Fingerprint)

	require.Contains(t, entries, "modules/pkg/install.py")
	assert.Equal(t, "print('hello')", string(entries["modules/pkg/install.py"]))
}
