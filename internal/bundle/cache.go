package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/logging"
	"github.com/oriys/ftl2/internal/metrics"
)

// Cache stores built bundles on disk keyed by fingerprint, and
// deduplicates concurrent builds of the same fingerprint within one
// process via singleflight — grounded on this codebase's
// content-hash-keyed LayerCache plus its pool package's declared (but
// unwired) singleflight.Group field, wired here to the concern it was
// evidently meant for.
type Cache struct {
	dir     string
	builder *Builder
	group   singleflight.Group
}

// NewCache constructs a Cache rooted at dir, which is created if
// missing.
func NewCache(dir string, builder *Builder) *Cache {
	os.MkdirAll(dir, 0o755)
	return &Cache{dir: dir, builder: builder}
}

// GetOrBuild always builds the Bundle for modules+profile first, to
// learn its fingerprint, then returns the copy already on disk under
// that fingerprint if there is one, or persists and returns the new
// build otherwise. Concurrent callers with the same modules+profile
// are deduplicated (one builds, others wait). A module whose source
// cannot be resolved fails the call even if a cached copy exists.
func (c *Cache) GetOrBuild(ctx context.Context, modules []string, profile domain.TargetProfile) (*domain.Bundle, error) {
	// A first pass build is required to learn the fingerprint (it is a
	// hash of resolved module content, not derivable from FQCNs alone),
	// but the singleflight key must be something callers can agree on
	// before paying that cost — a sorted-FQCNs-plus-profile logical key
	// serves that purpose; only the cache write is further keyed by the
	// bundle's own fingerprint.
	logicalKey := logicalCacheKey(modules, profile)

	v, err, shared := c.group.Do(logicalKey, func() (any, error) {
		return c.getOrBuildLocked(modules, profile)
	})
	if err != nil {
		return nil, err
	}
	bundle := v.(*domain.Bundle)
	if shared {
		logging.Op().Debug("bundle build deduplicated", "fingerprint", bundle.Manifest.Fingerprint)
	}
	return bundle, nil
}

func (c *Cache) getOrBuildLocked(modules []string, profile domain.TargetProfile) (*domain.Bundle, error) {
	built, err := c.builder.Build(modules, profile)
	if err != nil {
		metrics.RecordBundleBuild("error")
		return nil, err
	}

	fp := built.Manifest.Fingerprint
	cachedPath := c.archivePath(fp)

	if existing, ok := c.readCached(fp); ok {
		metrics.RecordBundleCacheHit()
		return existing, nil
	}

	if err := c.writeCached(cachedPath, built); err != nil {
		return nil, err
	}
	metrics.RecordBundleBuild("ok")
	return built, nil
}

func (c *Cache) archivePath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".tar.gz")
}

func (c *Cache) manifestPath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".manifest.json")
}

func (c *Cache) readCached(fingerprint string) (*domain.Bundle, bool) {
	archivePath := c.archivePath(fingerprint)
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, false
	}
	manifestData, err := os.ReadFile(c.manifestPath(fingerprint))
	if err != nil {
		return nil, false
	}
	var manifest domain.BundleManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, false
	}
	return &domain.Bundle{Manifest: manifest, Archive: data}, true
}

// writeCached persists a built bundle under a per-fingerprint lock
// file, so concurrent writers across separate processes (not just
// goroutines within one) do not race on the same cache entry.
func (c *Cache) writeCached(archivePath string, b *domain.Bundle) error {
	lockPath := archivePath + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// Another process is writing this fingerprint concurrently; the
		// in-flight build result is still valid to return to this caller,
		// it just won't be the one that persists it.
		return nil
	}
	defer func() {
		lock.Close()
		os.Remove(lockPath)
	}()

	manifestData, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle manifest: %w", err)
	}
	if err := os.WriteFile(c.manifestPath(b.Manifest.Fingerprint), manifestData, 0o644); err != nil {
		return fmt.Errorf("write bundle manifest: %w", err)
	}
	if err := os.WriteFile(archivePath, b.Archive, 0o644); err != nil {
		return fmt.Errorf("write bundle archive: %w", err)
	}
	return nil
}

func logicalCacheKey(modules []string, profile domain.TargetProfile) string {
	sorted := append([]string(nil), modules...)
	sort.Strings(sorted)
	key := fmt.Sprintf("%s|%s|%s", profile.InterpreterVersion, profile.OS, profile.Arch)
	for _, m := range sorted {
		key += "|" + m
	}
	return key
}
