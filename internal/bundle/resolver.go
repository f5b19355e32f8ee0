package bundle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/ftl2/internal/ferr"
)

// SourceResolver locates a module's source file on disk. Search
// order: explicit user-supplied directories first, then the built-in
// collection root, matching spec.md §4.6 step 1.
type SourceResolver struct {
	SearchDirs     []string
	CollectionRoot string
}

// Resolve finds the file backing fqcn ("namespace.collection.name" or
// a bare name) and returns its path.
func (r *SourceResolver) Resolve(fqcn string) (string, error) {
	rel := fqcnToRelPath(fqcn)

	for _, dir := range r.SearchDirs {
		candidate := filepath.Join(dir, rel)
		if fileExists(candidate) {
			return candidate, nil
		}
	}

	if r.CollectionRoot != "" {
		candidate := filepath.Join(r.CollectionRoot, rel)
		if fileExists(candidate) {
			return candidate, nil
		}
	}

	return "", &ferr.BundleBuildFailed{Detail: "module not found: " + fqcn}
}

func fqcnToRelPath(fqcn string) string {
	segments := strings.Split(fqcn, ".")
	return filepath.Join(segments...) + ".py"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
