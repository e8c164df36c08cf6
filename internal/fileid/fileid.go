// Package fileid derives source identity from file paths: the stable document id of a file
// and the collection it belongs to under an ingestion root.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const prefix = "file:"

// FileDocID returns the document id for a file. The path is cleaned first, so re-ingesting
// the same file always replaces the same source.
func FileDocID(absolutePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return prefix + hex.EncodeToString(sum[:])
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+sha256.Size*2
}

// Collection returns the name of the first directory below the innermost root that contains
// path, lower-cased. Files directly inside a root, or outside every root, have no collection.
//
//	roots: /docs   path: /docs/Standards/iso-4406.pdf  ->  "standards"
func Collection(roots []string, path string) string {
	clean := filepath.Clean(path)
	best := ""
	for _, r := range roots {
		r = filepath.Clean(r)
		rel, err := filepath.Rel(r, clean)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(r) > len(best) {
			best = r
		}
	}
	if best == "" {
		return ""
	}
	rel, _ := filepath.Rel(best, clean)
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(parts[0])
}
