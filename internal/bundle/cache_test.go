package bundle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrBuild_CachesAcrossCalls(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "body")

	cacheDir := t.TempDir()
	c := NewCache(cacheDir, b)

	bundle1, err := c.GetOrBuild(context.Background(), []string{"pkg.install"}, profile)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cacheDir, bundle1.Manifest.Fingerprint+".tar.gz"))
	require.NoError(t, err, "a successful build should persist its archive")

	bundle2, err := c.GetOrBuild(context.Background(), []string{"pkg.install"}, profile)
	require.NoError(t, err)
	assert.Equal(t, bundle1.Manifest.Fingerprint, bundle2.Manifest.Fingerprint)
}

func TestReadCached_ServesAcrossCacheInstances(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "body")

	cacheDir := t.TempDir()
	c1 := NewCache(cacheDir, b)
	built, err := c1.GetOrBuild(context.Background(), []string{"pkg.install"}, profile)
	require.NoError(t, err)

	// A second Cache instance over the same directory, with a builder
	// whose module source no longer exists, must still be able to serve
	// the fingerprint from disk.
	emptyResolver := &SourceResolver{CollectionRoot: t.TempDir()}
	c2 := NewCache(cacheDir, NewBuilder(emptyResolver))

	cached, ok := c2.readCached(built.Manifest.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, built.Manifest.Fingerprint, cached.Manifest.Fingerprint)
}

func TestGetOrBuild_DeduplicatesConcurrentBuilds(t *testing.T) {
	b, root := newTestBuilder(t)
	writeModule(t, root, "pkg.install", "body")

	c := NewCache(t.TempDir(), b)

	const n = 8
	var wg sync.WaitGroup
	fingerprints := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundle, err := c.GetOrBuild(context.Background(), []string{"pkg.install"}, profile)
			require.NoError(t, err)
			fingerprints[i] = bundle.Manifest.Fingerprint
		}(i)
	}
	wg.Wait()

	for _, fp := range fingerprints {
		assert.Equal(t, fingerprints[0], fp)
	}
}

func TestLogicalCacheKey_OrderIndependent(t *testing.T) {
	k1 := logicalCacheKey([]string{"a", "b"}, profile)
	k2 := logicalCacheKey([]string{"b", "a"}, profile)
	assert.Equal(t, k1, k2)
}
