package vault

import (
	"errors"
	"fmt"

	"github.com/privault/privault/pkg/store"
)

var (
	// ErrEmptyContent indicates an attempt to ingest zero bytes.
	ErrEmptyContent = errors.New("vault: content is empty")

	// ErrBlobMissing indicates a metadata record whose ciphertext blob is
	// gone. The inconsistency is surfaced, never silently repaired.
	ErrBlobMissing = errors.New("vault: ciphertext blob missing for record")

	// ErrIntegrity indicates the decrypted plaintext no longer matches the
	// stored content hash. Always fatal to the retrieval.
	ErrIntegrity = errors.New("vault: decrypted content does not match stored hash")

	// ErrReferenceCollision indicates two distinct content hashes derived the
	// same storage reference. Ingestion aborts rather than overwrite.
	ErrReferenceCollision = errors.New("vault: storage reference already occupied by different content")

	// ErrNotImage indicates a similarity probe that is not a decodable image.
	ErrNotImage = errors.New("vault: content is not a decodable image")
)

// DuplicateFileError reports that identical content is already stored. It
// carries the winning record so callers can treat the conflict as
// informational.
type DuplicateFileError struct {
	Existing *store.FileRecord
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("vault: content already stored as %s", e.Existing.ContentHash)
}
