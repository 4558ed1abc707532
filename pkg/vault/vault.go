// Package vault orchestrates ingestion and retrieval: hash, dedup-check,
// encrypt, persist, record, and the inverse with integrity re-verification.
// It composes four injected collaborators and contains no crypto, storage or
// SQL of its own.
package vault

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/privault/privault/pkg/blob"
	"github.com/privault/privault/pkg/hashing"
	"github.com/privault/privault/pkg/store"
)

// ContentHasher produces the identity and similarity digests of file bytes.
type ContentHasher interface {
	HashContent(data []byte) string
	HashPerceptual(data []byte) string
}

// Encryptor performs authenticated encryption under the vault's key.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// MetadataStore persists one FileRecord per distinct stored file.
type MetadataStore interface {
	Insert(rec *store.FileRecord) error
	FindByHash(contentHash string) (*store.FileRecord, error)
	FindByRef(storageRef string) (*store.FileRecord, error)
	ListAll() ([]store.FileSummary, error)
	ListFingerprinted() ([]store.FileRecord, error)
	Delete(contentHash string) error
	RecordScanResult(contentHash, url string, similarity int) (*store.ScanResult, error)
	ScanResults(contentHash string) ([]store.ScanResult, error)
}

// BlobStore persists ciphertext blobs at derived references.
type BlobStore interface {
	Write(ref string, data []byte) error
	Read(ref string) ([]byte, error)
	Delete(ref string) error
}

// Match is one similarity hit returned by FindSimilar.
type Match struct {
	ContentHash      string `json:"content_hash"`
	OriginalFilename string `json:"original_filename"`
	Distance         int    `json:"distance"`
}

// Manager is the only component external collaborators call.
type Manager struct {
	hasher ContentHasher
	enc    Encryptor
	meta   MetadataStore
	blobs  BlobStore
}

func New(hasher ContentHasher, enc Encryptor, meta MetadataStore, blobs BlobStore) *Manager {
	return &Manager{hasher: hasher, enc: enc, meta: meta, blobs: blobs}
}

// Ingest stores data under its content hash. Identical content is stored at
// most once: a duplicate fails with *DuplicateFileError carrying the
// existing record, whether detected up front or by losing the insert race.
func (m *Manager) Ingest(filename string, data []byte) (*store.FileRecord, error) {
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}

	contentHash := m.hasher.HashContent(data)
	perceptualHash := m.hasher.HashPerceptual(data)

	existing, err := m.meta.FindByHash(contentHash)
	if err == nil {
		return nil, &DuplicateFileError{Existing: existing}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ref := blob.RefForHash(contentHash)

	// A record already owning the derived reference means either a distinct
	// hash sharing the prefix (abort, never overwrite) or identical content
	// that landed between the lookup above and now.
	if owner, err := m.meta.FindByRef(ref); err == nil {
		if owner.ContentHash != contentHash {
			return nil, fmt.Errorf("%w: %s", ErrReferenceCollision, ref)
		}
		return nil, &DuplicateFileError{Existing: owner}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ciphertext, err := m.enc.Encrypt(data)
	if err != nil {
		return nil, err
	}
	if err := m.blobs.Write(ref, ciphertext); err != nil {
		return nil, err
	}

	rec := &store.FileRecord{
		ContentHash:      contentHash,
		PerceptualHash:   perceptualHash,
		OriginalFilename: filename,
		StorageRef:       ref,
		SizeBytes:        int64(len(data)),
		CreatedAt:        time.Now().UTC(),
	}

	if err := m.meta.Insert(rec); err != nil {
		if errors.Is(err, store.ErrDuplicateContent) {
			// Lost the dedup race. The winner's record owns this reference,
			// and the bytes there are a valid envelope of the identical
			// content, so the blob is not orphaned; deleting it would
			// destroy the winner's data.
			winner, findErr := m.meta.FindByHash(contentHash)
			if findErr != nil {
				return nil, err
			}
			if winner.StorageRef != ref {
				m.cleanupOrphan(ref)
			}
			return nil, &DuplicateFileError{Existing: winner}
		}
		// Any other insert failure leaves the blob with no owning record.
		// This is the one compensating action the vault performs.
		m.cleanupOrphan(ref)
		if errors.Is(err, store.ErrRefConflict) {
			return nil, fmt.Errorf("%w: %s", ErrReferenceCollision, ref)
		}
		return nil, err
	}

	return rec, nil
}

func (m *Manager) cleanupOrphan(ref string) {
	if err := m.blobs.Delete(ref); err != nil {
		log.Printf("vault: failed to clean up orphaned blob %s: %v", ref, err)
	}
}

// Retrieve returns the plaintext for contentHash. Plaintext is only
// released after the GCM tag verifies and the re-computed content hash
// matches the stored one.
func (m *Manager) Retrieve(contentHash string) ([]byte, error) {
	rec, err := m.meta.FindByHash(contentHash)
	if err != nil {
		return nil, err
	}

	ciphertext, err := m.blobs.Read(rec.StorageRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBlobMissing, rec.StorageRef)
		}
		return nil, err
	}

	plaintext, err := m.enc.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	if got := m.hasher.HashContent(plaintext); got != rec.ContentHash {
		log.Printf("vault: SECURITY integrity failure for %s: decrypted hash %s", rec.ContentHash, got)
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, rec.ContentHash)
	}

	return plaintext, nil
}

// Delete removes a stored file: the record first, then the blob, so a
// partially deleted file is never observable through lookups.
func (m *Manager) Delete(contentHash string) error {
	rec, err := m.meta.FindByHash(contentHash)
	if err != nil {
		return err
	}
	if err := m.meta.Delete(contentHash); err != nil {
		return err
	}
	return m.blobs.Delete(rec.StorageRef)
}

// List returns summaries of everything in the vault, newest first.
func (m *Manager) List() ([]store.FileSummary, error) {
	return m.meta.ListAll()
}

// Info returns the record for contentHash.
func (m *Manager) Info(contentHash string) (*store.FileRecord, error) {
	return m.meta.FindByHash(contentHash)
}

// FindSimilar fingerprints the probe image and returns every stored image
// within threshold Hamming distance, closest first. A threshold <= 0 uses
// hashing.DefaultMatchThreshold.
func (m *Manager) FindSimilar(imageData []byte, threshold int) ([]Match, error) {
	probe := m.hasher.HashPerceptual(imageData)
	if probe == "" {
		return nil, ErrNotImage
	}
	if threshold <= 0 {
		threshold = hashing.DefaultMatchThreshold
	}

	candidates, err := m.meta.ListFingerprinted()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rec := range candidates {
		d, err := hashing.Distance(probe, rec.PerceptualHash)
		if err != nil {
			// A malformed stored fingerprint only degrades similarity search.
			log.Printf("vault: skipping record %s: %v", rec.ContentHash, err)
			continue
		}
		if d <= threshold {
			matches = append(matches, Match{
				ContentHash:      rec.ContentHash,
				OriginalFilename: rec.OriginalFilename,
				Distance:         d,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ContentHash < matches[j].ContentHash
	})
	return matches, nil
}

// RecordScanResult persists an external sighting of a stored file.
func (m *Manager) RecordScanResult(contentHash, url string, similarity int) (*store.ScanResult, error) {
	return m.meta.RecordScanResult(contentHash, url, similarity)
}

// ScanResults returns all recorded sightings for contentHash.
func (m *Manager) ScanResults(contentHash string) ([]store.ScanResult, error) {
	return m.meta.ScanResults(contentHash)
}
