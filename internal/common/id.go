package common

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// DocumentID derives a stable document id from a canonical path or URL.
// Repeat discovery of the same resource yields the same id, which is what
// makes dedup and incremental processing possible.
// Format: doc_<first 32 hex chars of sha256>
func DocumentID(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return "doc_" + hex.EncodeToString(sum[:])[:32]
}

// ContentHash returns the full sha256 hex digest of a content body.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NewBatchID generates a unique batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
