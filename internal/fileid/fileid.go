// Package fileid derives stable document ids from source file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "doc-"

// DocumentID returns a short stable id for the file at path. Paths are
// cleaned first, so equivalent spellings of one path share an id. Callers
// pass absolute paths.
func DocumentID(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:8])
}
