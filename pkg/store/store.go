// Package store is the vault's metadata store: one SQLite row per distinct
// stored file, keyed by content hash. It is the single source of truth for
// "does this content already exist": its uniqueness constraint is the only
// synchronization primitive the dedup race needs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateContent indicates a record with the same content hash is
	// already present. Expected during duplicate uploads, not a crash condition.
	ErrDuplicateContent = errors.New("store: content hash already exists")

	// ErrNotFound indicates no record exists for the given content hash.
	ErrNotFound = errors.New("store: record not found")

	// ErrRefConflict indicates a different content hash already owns the
	// storage reference.
	ErrRefConflict = errors.New("store: storage ref already owned by different content")
)

// FileRecord is one distinct stored file.
type FileRecord struct {
	ContentHash      string    `json:"content_hash"`
	PerceptualHash   string    `json:"perceptual_hash,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	StorageRef       string    `json:"storage_ref"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
}

// FileSummary is the listing view surfaced to callers: no storage internals.
type FileSummary struct {
	ContentHash      string    `json:"content_hash"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
}

// ScanResult records where a stored image was later spotted in the wild.
type ScanResult struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	URL         string    `json:"url"`
	Similarity  int       `json:"similarity"`
	FoundAt     time.Time `json:"found_at"`
}

// Store wraps the SQLite metadata database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Single writer: SQLite serializes writes anyway, and one connection
	// avoids SQLITE_BUSY under concurrent ingestion.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		content_hash TEXT PRIMARY KEY,
		perceptual_hash TEXT,
		original_filename TEXT NOT NULL,
		storage_ref TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at);
	CREATE INDEX IF NOT EXISTS idx_files_perceptual ON files(perceptual_hash);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_files_storage_ref ON files(storage_ref);

	CREATE TABLE IF NOT EXISTS scan_results (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL REFERENCES files(content_hash),
		url TEXT NOT NULL,
		similarity INTEGER NOT NULL,
		found_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scan_results_hash ON scan_results(content_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert adds a new record. It fails with ErrDuplicateContent when the
// content hash is already present; INSERT OR IGNORE plus RowsAffected keeps
// the check atomic under concurrent identical uploads.
func (s *Store) Insert(rec *FileRecord) error {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO files
		 (content_hash, perceptual_hash, original_filename, storage_ref, size_bytes, created_at)
		 VALUES (?, NULLIF(?, ''), ?, ?, ?, ?)`,
		rec.ContentHash, rec.PerceptualHash, rec.OriginalFilename,
		rec.StorageRef, rec.SizeBytes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	if affected == 0 {
		// Either the hash is taken (the expected dedup conflict) or, far less
		// likely, a different hash owns the same derived reference.
		if _, findErr := s.FindByHash(rec.ContentHash); findErr == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateContent, rec.ContentHash)
		}
		return fmt.Errorf("%w: %s", ErrRefConflict, rec.StorageRef)
	}
	return nil
}

// FindByHash returns the record for contentHash, or ErrNotFound.
func (s *Store) FindByHash(contentHash string) (*FileRecord, error) {
	var rec FileRecord
	var phash sql.NullString
	err := s.db.QueryRow(
		`SELECT content_hash, perceptual_hash, original_filename, storage_ref, size_bytes, created_at
		 FROM files WHERE content_hash = ?`, contentHash,
	).Scan(&rec.ContentHash, &phash, &rec.OriginalFilename, &rec.StorageRef, &rec.SizeBytes, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, contentHash)
		}
		return nil, fmt.Errorf("store: find: %w", err)
	}
	rec.PerceptualHash = phash.String
	return &rec, nil
}

// FindByRef returns the record that owns a storage reference, or
// ErrNotFound. Used to detect distinct hashes colliding on a derived
// reference before any ciphertext is written.
func (s *Store) FindByRef(storageRef string) (*FileRecord, error) {
	var rec FileRecord
	var phash sql.NullString
	err := s.db.QueryRow(
		`SELECT content_hash, perceptual_hash, original_filename, storage_ref, size_bytes, created_at
		 FROM files WHERE storage_ref = ?`, storageRef,
	).Scan(&rec.ContentHash, &phash, &rec.OriginalFilename, &rec.StorageRef, &rec.SizeBytes, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ref %s", ErrNotFound, storageRef)
		}
		return nil, fmt.Errorf("store: find by ref: %w", err)
	}
	rec.PerceptualHash = phash.String
	return &rec, nil
}

// ListAll returns summaries of every record, newest first.
func (s *Store) ListAll() ([]FileSummary, error) {
	rows, err := s.db.Query(
		`SELECT content_hash, original_filename, size_bytes, created_at
		 FROM files ORDER BY created_at DESC, content_hash`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []FileSummary
	for rows.Next() {
		var sum FileSummary
		if err := rows.Scan(&sum.ContentHash, &sum.OriginalFilename, &sum.SizeBytes, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListFingerprinted returns every record carrying a perceptual hash.
func (s *Store) ListFingerprinted() ([]FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT content_hash, perceptual_hash, original_filename, storage_ref, size_bytes, created_at
		 FROM files WHERE perceptual_hash IS NOT NULL ORDER BY created_at DESC, content_hash`)
	if err != nil {
		return nil, fmt.Errorf("store: list fingerprinted: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.ContentHash, &rec.PerceptualHash, &rec.OriginalFilename,
			&rec.StorageRef, &rec.SizeBytes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list fingerprinted scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record for contentHash, along with any scan results.
// Returns ErrNotFound when no record exists.
func (s *Store) Delete(contentHash string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM scan_results WHERE content_hash = ?", contentHash); err != nil {
		return fmt.Errorf("store: delete scan results: %w", err)
	}
	res, err := tx.Exec("DELETE FROM files WHERE content_hash = ?", contentHash)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, contentHash)
	}
	return tx.Commit()
}

// Count returns the number of file records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// RecordScanResult persists an external sighting of the file identified by
// contentHash. The referenced record must exist.
func (s *Store) RecordScanResult(contentHash, url string, similarity int) (*ScanResult, error) {
	if _, err := s.FindByHash(contentHash); err != nil {
		return nil, err
	}
	res := &ScanResult{
		ID:          uuid.NewString(),
		ContentHash: contentHash,
		URL:         url,
		Similarity:  similarity,
		FoundAt:     time.Now().UTC(),
	}
	_, err := s.db.Exec(
		"INSERT INTO scan_results (id, content_hash, url, similarity, found_at) VALUES (?, ?, ?, ?, ?)",
		res.ID, res.ContentHash, res.URL, res.Similarity, res.FoundAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: record scan result: %w", err)
	}
	return res, nil
}

// ScanResults returns all recorded sightings for contentHash, newest first.
func (s *Store) ScanResults(contentHash string) ([]ScanResult, error) {
	rows, err := s.db.Query(
		"SELECT id, content_hash, url, similarity, found_at FROM scan_results WHERE content_hash = ? ORDER BY found_at DESC",
		contentHash)
	if err != nil {
		return nil, fmt.Errorf("store: scan results: %w", err)
	}
	defer rows.Close()

	var out []ScanResult
	for rows.Next() {
		var r ScanResult
		if err := rows.Scan(&r.ID, &r.ContentHash, &r.URL, &r.Similarity, &r.FoundAt); err != nil {
			return nil, fmt.Errorf("store: scan results scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
