package tus

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *FilesManager {
	t.Helper()
	dir := t.TempDir()
	return New(dir, nil)
}

// P1: new_temporary followed by drop without persist leaves no trace.
func TestNewTemporaryDropWithoutPersist(t *testing.T) {
	fm := newTestManager(t)

	tmp := fm.NewTemporary()
	id := tmp.Uuid()
	require.NoError(t, fm.Initialize(tmp, 10, ""))
	tmp.Release()

	assert.Equal(t, 0, fm.Size())
	_, err := os.Stat(fm.dataPath(id))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fm.metaPath(id))
	assert.True(t, os.IsNotExist(err))
}

// P2: new_temporary + initialize + persist leaves exactly two files with
// the declared metadata.
func TestInitializePersistRoundTrip(t *testing.T) {
	fm := newTestManager(t)

	tmp := fm.NewTemporary()
	require.NoError(t, fm.Initialize(tmp, 42, "hello"))
	fm.Persist(tmp)
	tmp.Release()

	assert.Equal(t, 1, fm.Size())

	resource, err := fm.Acquire(tmp.Uuid())
	require.NoError(t, err)
	defer resource.Release()

	md := resource.Metadata()
	assert.Equal(t, int64(0), md.Offset)
	assert.Equal(t, uint64(42), md.Length)
	assert.Equal(t, "hello", md.Comment)
}

// P4: Acquire returns Busy while a lease is outstanding, and NotFound for
// an id that was never persisted.
func TestAcquireBusyAndNotFound(t *testing.T) {
	fm := newTestManager(t)

	_, err := fm.Acquire("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	tmp := fm.NewTemporary()
	require.NoError(t, fm.Initialize(tmp, 1, ""))
	fm.Persist(tmp)
	tmp.Release()

	first, err := fm.Acquire(tmp.Uuid())
	require.NoError(t, err)

	_, err = fm.Acquire(tmp.Uuid())
	assert.ErrorIs(t, err, ErrBusy)

	first.Release()

	second, err := fm.Acquire(tmp.Uuid())
	require.NoError(t, err)
	second.Release()
}

// P6: ids minted by repeated NewTemporary calls are distinct.
func TestNewTemporaryIdsAreDistinct(t *testing.T) {
	fm := newTestManager(t)

	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		tmp := fm.NewTemporary()
		_, dup := seen[tmp.Uuid()]
		assert.False(t, dup)
		seen[tmp.Uuid()] = struct{}{}
		tmp.Release()
	}
}

// R1: writing N bytes across any partitioning of offset-correct writes
// yields a data file whose SHA-1 matches the original sequence's.
func TestWriteThenChecksumRoundTrip(t *testing.T) {
	fm := newTestManager(t)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	want := sha1.Sum(payload) //nolint:gosec

	tmp := fm.NewTemporary()
	require.NoError(t, fm.Initialize(tmp, uint64(len(payload)), ""))
	fm.Persist(tmp)
	id := tmp.Uuid()
	tmp.Release()

	resource, err := fm.Acquire(id)
	require.NoError(t, err)

	chunks := [][]byte{payload[:10], payload[10:25], payload[25:]}
	offset := int64(0)
	for _, chunk := range chunks {
		written := resource.Write(offset, chunk)
		require.Equal(t, len(chunk), written)
		offset += int64(written)
	}
	require.NoError(t, resource.Commit(offset))
	resource.Release()

	resource, err = fm.Acquire(id)
	require.NoError(t, err)
	defer resource.Release()

	got := resource.ChecksumSHA1Hex(0, 0)
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(want[:])), got)
}

// DeleteAll removes every known pair and clears both sets.
func TestDeleteAll(t *testing.T) {
	fm := newTestManager(t)

	for i := 0; i < 3; i++ {
		tmp := fm.NewTemporary()
		require.NoError(t, fm.Initialize(tmp, 1, ""))
		fm.Persist(tmp)
		tmp.Release()
	}

	assert.Equal(t, 3, fm.Size())
	removed := fm.DeleteAll()
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, fm.Size())
}

// List returns ids in sorted order.
func TestListIsSorted(t *testing.T) {
	fm := newTestManager(t)

	for i := 0; i < 5; i++ {
		tmp := fm.NewTemporary()
		require.NoError(t, fm.Initialize(tmp, 1, ""))
		fm.Persist(tmp)
		tmp.Release()
	}

	ids := fm.List()
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1] <= ids[i])
	}
}

// Acquiring a deletion-marked resource and releasing it removes both
// files and drops the id from known.
func TestMarkDeleteRemovesFiles(t *testing.T) {
	fm := newTestManager(t)

	tmp := fm.NewTemporary()
	require.NoError(t, fm.Initialize(tmp, 4, ""))
	fm.Persist(tmp)
	id := tmp.Uuid()
	tmp.Release()

	resource, err := fm.Acquire(id)
	require.NoError(t, err)
	resource.MarkDelete()
	require.NoError(t, resource.Commit(0))
	resource.Release()

	assert.Equal(t, 0, fm.Size())
	_, err = os.Stat(fm.dataPath(id))
	assert.True(t, os.IsNotExist(err))
}
