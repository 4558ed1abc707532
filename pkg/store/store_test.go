package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(hash string, createdAt time.Time) *FileRecord {
	return &FileRecord{
		ContentHash:      hash,
		PerceptualHash:   "",
		OriginalFilename: "a.txt",
		StorageRef:       filepath.Join(hash[:2], hash[2:4], hash[:16]+".enc"),
		SizeBytes:        10,
		CreatedAt:        createdAt,
	}
}

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func TestInsertAndFind(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord(hashA, time.Now().UTC())
	rec.PerceptualHash = "a1b2c3d4e5f60718"
	require.NoError(t, s.Insert(rec))

	got, err := s.FindByHash(hashA)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Equal(t, rec.PerceptualHash, got.PerceptualHash)
	assert.Equal(t, rec.OriginalFilename, got.OriginalFilename)
	assert.Equal(t, rec.StorageRef, got.StorageRef)
	assert.Equal(t, rec.SizeBytes, got.SizeBytes)
}

func TestInsertDuplicate(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(testRecord(hashA, time.Now().UTC())))
	err := s.Insert(testRecord(hashA, time.Now().UTC()))
	assert.ErrorIs(t, err, ErrDuplicateContent)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate insert must not grow the store")
}

func TestInsertRace(t *testing.T) {
	s := openTestStore(t)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Insert(testRecord(hashA, time.Now().UTC()))
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			assert.ErrorIs(t, err, ErrDuplicateContent)
			losers++
		}
	}
	assert.Equal(t, 1, winners, "exactly one insert must win the race")
	assert.Equal(t, workers-1, losers)
}

func TestFindByRef(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord(hashA, time.Now().UTC())
	require.NoError(t, s.Insert(rec))

	got, err := s.FindByRef(rec.StorageRef)
	require.NoError(t, err)
	assert.Equal(t, hashA, got.ContentHash)

	_, err = s.FindByRef("zz/zz/zzzzzzzzzzzzzzzz.enc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertRefConflict(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord(hashA, time.Now().UTC())
	require.NoError(t, s.Insert(rec))

	// Different content hash, same derived reference.
	conflicting := testRecord(hashB, time.Now().UTC())
	conflicting.StorageRef = rec.StorageRef

	err := s.Insert(conflicting)
	assert.ErrorIs(t, err, ErrRefConflict)
}

func TestFindMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindByHash(hashA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNullablePerceptualHash(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(testRecord(hashA, time.Now().UTC())))

	got, err := s.FindByHash(hashA)
	require.NoError(t, err)
	assert.Empty(t, got.PerceptualHash)
}

func TestListAllOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Insert(testRecord(hashA, base.Add(-2*time.Hour))))
	require.NoError(t, s.Insert(testRecord(hashB, base.Add(-time.Hour))))
	require.NoError(t, s.Insert(testRecord(hashC, base)))

	list, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, hashC, list[0].ContentHash)
	assert.Equal(t, hashB, list[1].ContentHash)
	assert.Equal(t, hashA, list[2].ContentHash)
}

func TestListFingerprinted(t *testing.T) {
	s := openTestStore(t)

	plain := testRecord(hashA, time.Now().UTC())
	image := testRecord(hashB, time.Now().UTC())
	image.PerceptualHash = "0123456789abcdef"
	require.NoError(t, s.Insert(plain))
	require.NoError(t, s.Insert(image))

	got, err := s.ListFingerprinted()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hashB, got[0].ContentHash)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(testRecord(hashA, time.Now().UTC())))
	require.NoError(t, s.Delete(hashA))

	_, err := s.FindByHash(hashA)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Delete(hashA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanResults(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(testRecord(hashA, time.Now().UTC())))

	res, err := s.RecordScanResult(hashA, "https://example.com/leak.jpg", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)

	got, err := s.ScanResults(hashA)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com/leak.jpg", got[0].URL)
	assert.Equal(t, 3, got[0].Similarity)
}

func TestScanResultRequiresRecord(t *testing.T) {
	s := openTestStore(t)

	_, err := s.RecordScanResult(hashA, "https://example.com/leak.jpg", 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesScanResults(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert(testRecord(hashA, time.Now().UTC())))
	_, err := s.RecordScanResult(hashA, "https://example.com/leak.jpg", 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(hashA))

	got, err := s.ScanResults(hashA)
	require.NoError(t, err)
	assert.Empty(t, got)
}
