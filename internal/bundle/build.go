// Package bundle discovers module dependencies and produces
// content-addressed, cached archives that a gate's entry stub can
// dispatch against.
package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// entryStubVersion is bumped whenever the embedded entry-point stub's
// behavior changes; it participates in the fingerprint so stale
// caches are never reused across stub versions.
const entryStubVersion = "1"

// moduleSource is a resolved module ready to be packaged.
type moduleSource struct {
	fqcn string
	body []byte
	deps []string
}

// Builder produces Bundles. resolver locates module source files;
// a single Builder is shared across concurrent builds.
type Builder struct {
	resolver *SourceResolver
}

// NewBuilder constructs a Builder over the given resolver.
func NewBuilder(resolver *SourceResolver) *Builder {
	return &Builder{resolver: resolver}
}

// Build resolves every FQCN in modules, collects the dependency names
// each module's own header declares, and produces an archive plus its
// manifest and fingerprint. Dependencies are not resolved transitively
// and their libraries are not packed into the archive; only their
// names are listed in the manifest. It does not consult or populate
// any cache — see Cache.GetOrBuild for the deduplicated, cached path
// callers should normally use.
func (b *Builder) Build(modules []string, profile domain.TargetProfile) (*domain.Bundle, error) {
	sources := make([]moduleSource, 0, len(modules))
	seenDeps := map[string]bool{}
	var allDeps []string

	names := append([]string(nil), modules...)
	sort.Strings(names)

	for _, fqcn := range names {
		path, err := b.resolver.Resolve(fqcn)
		if err != nil {
			return nil, err
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, &ferr.BundleBuildFailed{Detail: fmt.Sprintf("read %s: %v", fqcn, err)}
		}
		deps := parseMetadata(body)
		sources = append(sources, moduleSource{fqcn: fqcn, body: body, deps: deps})
		for _, d := range deps {
			if !seenDeps[d] {
				seenDeps[d] = true
				allDeps = append(allDeps, d)
			}
		}
	}
	sort.Strings(allDeps)

	manifest := domain.BundleManifest{
		Modules:      make([]domain.ManifestModule, 0, len(sources)),
		Dependencies: allDeps,
		EntryVersion: entryStubVersion,
		Profile:      profile,
	}
	for _, s := range sources {
		manifest.Modules = append(manifest.Modules, domain.ManifestModule{
			FQCN:     s.fqcn,
			BodyHash: contentHash(s.body),
		})
	}
	manifest.Fingerprint = fingerprint(manifest)

	archive, err := packArchive(manifest, sources)
	if err != nil {
		return nil, &ferr.BundleBuildFailed{Detail: fmt.Sprintf("pack archive: %v", err)}
	}

	return &domain.Bundle{Manifest: manifest, Archive: archive}, nil
}

// fingerprint hashes the sorted manifest entries, the entry stub
// version, and the target profile — order-independent in its module
// inputs because Build always sorts before hashing (invariant 1:
// fingerprint determinism).
func fingerprint(m domain.BundleManifest) string {
	h := sha256.New()
	for _, mod := range m.Modules {
		fmt.Fprintf(h, "module:%s:%s\n", mod.FQCN, mod.BodyHash)
	}
	for _, dep := range m.Dependencies {
		fmt.Fprintf(h, "dep:%s\n", dep)
	}
	fmt.Fprintf(h, "entry:%s\n", m.EntryVersion)
	fmt.Fprintf(h, "profile:%s:%s:%s\n", m.Profile.InterpreterVersion, m.Profile.OS, m.Profile.Arch)
	return hex.EncodeToString(h.Sum(nil))
}

func contentHash(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}

// packArchive writes a manifest.json plus every module body into a
// gzip-compressed tar. The archive is not self-executing and embeds no
// entry stub: the stub is the separate cmd/ftl2-gate binary, which
// reads this archive from the path it is given.
func packArchive(manifest domain.BundleManifest, sources []moduleSource) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeTarEntry(tw, "manifest.json", manifestJSON); err != nil {
		return nil, err
	}

	for _, s := range sources {
		name := fqcnToRelPath(s.fqcn)
		if err := writeTarEntry(tw, "modules/"+name, s.body); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
