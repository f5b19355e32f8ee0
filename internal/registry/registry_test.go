package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ftl2/internal/bundle"
	"github.com/oriys/ftl2/internal/domain"
)

type fakeNative struct{ called bool }

func (f *fakeNative) Run(_ context.Context, _ domain.Host, _ map[string]any, _ bool) (*domain.ResultPayload, error) {
	f.called = true
	return &domain.ResultPayload{Success: true}, nil
}

func TestResolve_PrecedenceExplicitBeatsNativeBeatsBundled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "install.py"), []byte("body"), 0o644))

	resolver := &bundle.SourceResolver{CollectionRoot: root}
	reg := New(map[string]string{"pkg.install": "/explicit/path.py"}, resolver)
	reg.RegisterNative("pkg.install", &fakeNative{})

	res, err := reg.Resolve("pkg.install")
	require.NoError(t, err)
	assert.Equal(t, KindExplicit, res.Kind)
	assert.Equal(t, "/explicit/path.py", res.Path)
}

func TestResolve_NativeBeatsBundledWhenNoExplicit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "install.py"), []byte("body"), 0o644))

	resolver := &bundle.SourceResolver{CollectionRoot: root}
	reg := New(nil, resolver)
	nm := &fakeNative{}
	reg.RegisterNative("pkg.install", nm)

	res, err := reg.Resolve("pkg.install")
	require.NoError(t, err)
	assert.Equal(t, KindNative, res.Kind)
	assert.Same(t, nm, res.Native)
}

func TestResolve_FallsBackToBundledCollection(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "install.py"), []byte("body"), 0o644))

	resolver := &bundle.SourceResolver{CollectionRoot: root}
	reg := New(nil, resolver)

	res, err := reg.Resolve("pkg.install")
	require.NoError(t, err)
	assert.Equal(t, KindBundled, res.Kind)
}

func TestResolve_NotFoundErrors(t *testing.T) {
	reg := New(nil, nil)
	_, err := reg.Resolve("pkg.missing")
	assert.Error(t, err)
}

func TestList_IncludesExplicitAndNativeNotBundled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "bundled_only.py"), []byte("body"), 0o644))

	resolver := &bundle.SourceResolver{CollectionRoot: root}
	reg := New(map[string]string{"explicit.mod": "/path.py"}, resolver)
	reg.RegisterNative("native.mod", &fakeNative{})

	names := reg.List()
	assert.Equal(t, []string{"explicit.mod", "native.mod"}, names)
	assert.NotContains(t, names, "pkg.bundled_only")
}

func TestDescribe_ReportsKindAndSource(t *testing.T) {
	reg := New(map[string]string{"explicit.mod": "/path.py"}, nil)
	reg.RegisterNative("native.mod", &fakeNative{})

	desc, err := reg.Describe("explicit.mod")
	require.NoError(t, err)
	assert.Equal(t, KindExplicit, desc.Kind)
	assert.Equal(t, "/path.py", desc.Source)

	desc, err = reg.Describe("native.mod")
	require.NoError(t, err)
	assert.Equal(t, KindNative, desc.Kind)
	assert.Equal(t, "native", desc.Source)
}
