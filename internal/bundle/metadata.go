package bundle

import (
	"bufio"
	"bytes"
	"strings"
)

// metadataPrefix marks a module's declared-dependency line. A module
// source file documents its auxiliary library requirements in a
// leading comment block, e.g.:
//
//	# ftl2-deps: requests, boto3
//	# ftl2-requires: python>=3.9
//
// This is a small parser over that documented, line-oriented format,
// not arbitrary source introspection, per spec.md §9's design note on
// dependency discovery.
const metadataPrefix = "# ftl2-deps:"

// parseMetadata scans a module's source for its declared-dependency
// line and returns the auxiliary library names it names. Scanning
// stops at the first non-comment, non-blank line — the metadata block
// is always a file header.
func parseMetadata(source []byte) []string {
	var deps []string

	scanner := bufio.NewScanner(bytes.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if strings.HasPrefix(line, metadataPrefix) {
			rest := strings.TrimPrefix(line, metadataPrefix)
			for _, name := range strings.Split(rest, ",") {
				name = strings.TrimSpace(name)
				if name != "" {
					deps = append(deps, name)
				}
			}
		}
	}

	return deps
}
