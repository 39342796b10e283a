// Package tus implements the upload resource manager and protocol state
// machine described in the tus 1.0.0 resumable upload specification. It has
// no knowledge of HTTP transport: callers feed it a RequestView and get back
// a ResponseView.
package tus

import (
	"crypto/sha1" //nolint:gosec // sha1 is mandated by the tus checksum extension
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/umitkablan/betus/logging"
)

// MetadataFileSuffix names the sidecar metadata file for an upload id U,
// stored alongside the data file at the same path plus this suffix.
const MetadataFileSuffix = ".mdata"

// checksumBlockSize is the read block size used while streaming the data
// file for SHA-1 computation. Spec §4.1 calls 2 KiB "sufficient".
const checksumBlockSize = 2048

// FilesManager owns a directory on the local filesystem and mints, leases,
// and deletes the on-disk file pairs backing tus uploads. It is safe for
// concurrent use; the known/in-use bookkeeping is serialized by one mutex,
// while file I/O happens outside the lock — correctness then rests on the
// at-most-one-lease-per-id invariant (I3), exactly as spec §4.1 describes.
type FilesManager struct {
	dir string
	log *logging.Logger

	mu    sync.Mutex
	known map[string]struct{}
	inUse map[string]struct{}
}

// New creates a FilesManager rooted at dir. The directory must already
// exist; New does not create it.
func New(dir string, log *logging.Logger) *FilesManager {
	return &FilesManager{
		dir:   dir,
		log:   log,
		known: make(map[string]struct{}),
		inUse: make(map[string]struct{}),
	}
}

// Size returns the number of upload ids currently known (temporary and
// persisted, combined).
func (fm *FilesManager) Size() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.known)
}

// List returns the sorted ids currently in the known set. It takes no
// lease and performs no I/O; it is a supplemental, read-only view of the
// known set.
func (fm *FilesManager) List() []string {
	fm.mu.Lock()
	ids := make([]string, 0, len(fm.known))
	for id := range fm.known {
		ids = append(ids, id)
	}
	fm.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (fm *FilesManager) dataPath(id string) string {
	return filepath.Join(fm.dir, id)
}

func (fm *FilesManager) metaPath(id string) string {
	return filepath.Join(fm.dir, id+MetadataFileSuffix)
}

// newUniqueID mints a fresh id and reserves it in the known set under the
// mutex, retrying on the (practically impossible) event of a collision.
func (fm *FilesManager) newUniqueID() string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for {
		id := uuid.New().String()
		if _, exists := fm.known[id]; !exists {
			fm.known[id] = struct{}{}
			fm.inUse[id] = struct{}{}
			return id
		}
	}
}

// TmpFilesResource is an upload whose files exist on disk but whose
// existence has not yet been advertised to clients. Callers must defer
// Release immediately after NewTemporary: if the resource was never
// persisted by the time Release runs, both files are removed and the id
// is dropped from the known set, satisfying invariant I5.
type TmpFilesResource struct {
	fm        *FilesManager
	id        string
	dataFile  *os.File
	metaFile  *os.File
	persisted bool
	released  bool
}

// Uuid returns the id minted for this resource.
func (t *TmpFilesResource) Uuid() string { return t.id }

// writeTemporaryData writes data at offset 0 of a temporary resource's
// data file, used by POST's creation-with-upload path before the
// resource is persisted. It returns the number of bytes written, or 0 on
// any I/O failure.
func writeTemporaryData(t *TmpFilesResource, data []byte) int {
	if t.dataFile == nil {
		return 0
	}
	if _, err := t.dataFile.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	n, err := t.dataFile.Write(data)
	if err != nil {
		return 0
	}
	return n
}

// NewTemporary mints a fresh id and opens empty data and metadata files for
// it. Minting never fails from the caller's point of view; if the files
// cannot be created (e.g. an unwritable directory) the failure surfaces
// later, from Initialize.
func (fm *FilesManager) NewTemporary() *TmpFilesResource {
	id := fm.newUniqueID()

	dataFile, err := os.Create(fm.dataPath(id))
	if err != nil {
		fm.logf("create data file for %s: %v", id, err)
	}
	metaFile, err := os.Create(fm.metaPath(id))
	if err != nil {
		fm.logf("create metadata file for %s: %v", id, err)
	}

	return &TmpFilesResource{fm: fm, id: id, dataFile: dataFile, metaFile: metaFile}
}

// Initialize truncates/extends the data file to totalLength bytes (sparse
// is fine) and writes the initial metadata record (offset=0, the declared
// length, and the opaque comment). It is the only writer of length and
// comment over the resource's life.
func (fm *FilesManager) Initialize(t *TmpFilesResource, totalLength uint64, comment string) error {
	if t.dataFile == nil || t.metaFile == nil {
		return ErrBadDescriptor
	}

	if err := t.dataFile.Truncate(int64(totalLength)); err != nil {
		fm.logf("truncate data file for %s: %v", t.id, err)
		return ErrBadDescriptor
	}

	if err := writeMetadataHeader(t.metaFile, 0, totalLength, comment); err != nil {
		fm.logf("write metadata header for %s: %v", t.id, err)
		return ErrBadDescriptor
	}

	return nil
}

// Persist marks the temporary resource as persisted: it and its files
// survive the matching Release. Idempotent.
func (fm *FilesManager) Persist(t *TmpFilesResource) {
	t.persisted = true
}

// Release ends a TmpFilesResource's lease. If the resource was persisted,
// its files are kept and the id remains in the known set (with its lease
// dropped). Otherwise both files are removed and the id is dropped
// entirely, per invariant I5. Safe to call more than once; safe to defer.
func (t *TmpFilesResource) Release() {
	if t.released {
		return
	}
	t.released = true

	if t.dataFile != nil {
		t.dataFile.Close()
	}
	if t.metaFile != nil {
		t.metaFile.Close()
	}

	fm := t.fm
	fm.mu.Lock()
	delete(fm.inUse, t.id)
	if !t.persisted {
		delete(fm.known, t.id)
	}
	fm.mu.Unlock()

	if !t.persisted {
		fm.removeFiles(t.id)
	}
}

// Resource is an exclusive, process-local lease on a persisted upload's
// file pair, obtained via Acquire. The lease is exclusive by construction
// (not a shared pointer): only the lease holder may read or write the
// pair's files, and the caller must call Release exactly once, typically
// via defer.
type Resource struct {
	fm         *FilesManager
	id         string
	dataFile   *os.File
	metaFile   *os.File
	deleteMark bool
	released   bool
}

// Uuid returns the id this lease is held for.
func (r *Resource) Uuid() string { return r.id }

// Acquire grants an exclusive lease on a known, persisted upload. It never
// blocks: if the id is unknown it returns ErrNotFound; if another lease is
// already outstanding it returns ErrBusy — "a deliberate conflict signal,
// not a wait" per spec §4.1.
func (fm *FilesManager) Acquire(id string) (*Resource, error) {
	fm.mu.Lock()
	if _, known := fm.known[id]; !known {
		fm.mu.Unlock()
		return nil, ErrNotFound
	}
	if _, busy := fm.inUse[id]; busy {
		fm.mu.Unlock()
		return nil, ErrBusy
	}
	fm.inUse[id] = struct{}{}
	fm.mu.Unlock()

	dataFile, err := os.OpenFile(fm.dataPath(id), os.O_RDWR, 0o644)
	if err != nil {
		fm.logf("open data file for %s: %v", id, err)
		fm.mu.Lock()
		delete(fm.inUse, id)
		fm.mu.Unlock()
		return nil, ErrInternal
	}
	metaFile, err := os.OpenFile(fm.metaPath(id), os.O_RDWR, 0o644)
	if err != nil {
		fm.logf("open metadata file for %s: %v", id, err)
		dataFile.Close()
		fm.mu.Lock()
		delete(fm.inUse, id)
		fm.mu.Unlock()
		return nil, ErrInternal
	}

	return &Resource{fm: fm, id: id, dataFile: dataFile, metaFile: metaFile}, nil
}

// Metadata reads the current record from the metadata file. A read failure
// yields {Offset: -1}, the sentinel the protocol layer maps to 410 Gone or
// 500 depending on context.
func (r *Resource) Metadata() Metadata {
	if _, err := r.metaFile.Seek(0, io.SeekStart); err != nil {
		return corruptMetadata()
	}
	return readMetadata(r.metaFile)
}

// ChecksumSHA1Hex streams count bytes of the data file starting at begin
// (or through EOF if count is 0) and returns their SHA-1 digest as
// uppercase hex. It returns "" if the requested range runs past the data
// file's current size.
func (r *Resource) ChecksumSHA1Hex(begin int64, count int64) string {
	info, err := r.dataFile.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	if begin < 0 || begin >= size {
		return ""
	}
	if count == 0 {
		count = size - begin
	}
	if count > size-begin {
		return ""
	}

	if _, err := r.dataFile.Seek(begin, io.SeekStart); err != nil {
		return ""
	}

	h := sha1.New()
	remaining := count
	buf := make([]byte, checksumBlockSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := r.dataFile.Read(buf[:n])
		if read > 0 {
			h.Write(buf[:read])
			remaining -= int64(read)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return ""
		}
	}

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// Write seeks to offset in the data file and writes the concatenation of
// every segment in data. It returns the total number of bytes written, or
// 0 on any I/O failure — the caller treats 0 as an internal-error cause.
func (r *Resource) Write(offset int64, data ...[]byte) int {
	if _, err := r.dataFile.Seek(offset, io.SeekStart); err != nil {
		r.fm.logf("seek data file for %s: %v", r.id, err)
		return 0
	}

	written := 0
	for _, segment := range data {
		n, err := r.dataFile.Write(segment)
		written += n
		if err != nil {
			r.fm.logf("write data file for %s: %v", r.id, err)
			return 0
		}
	}
	return written
}

// ReadRange returns an io.ReadCloser over [begin, begin+length) of the
// data file; if length is negative it reads through end-of-file. It is
// used by the byte-range download extension, not by the tus state
// machine itself. The returned reader does not itself release the
// lease — the caller still owns that via Resource.Release.
func (r *Resource) ReadRange(begin int64, length int64) (io.ReadCloser, error) {
	info, err := r.dataFile.Stat()
	if err != nil {
		return nil, ErrInternal
	}
	size := info.Size()

	if begin < 0 {
		begin = size + begin
	}
	if begin < 0 || begin > size {
		return nil, ErrBadRequest
	}

	if length < 0 {
		length = size - begin
	}
	if begin+length > size {
		length = size - begin
	}

	if _, err := r.dataFile.Seek(begin, io.SeekStart); err != nil {
		return nil, ErrInternal
	}

	return io.NopCloser(io.LimitReader(r.dataFile, length)), nil
}

// MarkDelete flags this lease for deletion: on Release, both files are
// unlinked and the id is dropped from the known set.
func (r *Resource) MarkDelete() {
	r.deleteMark = true
}

// Commit finalizes the effect of the requests served under this lease. If
// MarkDelete was called, Commit is a no-op (the actual unlink happens in
// Release, after the files are closed); otherwise it rewrites the
// metadata's offset field in place to newOffset.
func (r *Resource) Commit(newOffset int64) error {
	if r.deleteMark {
		return nil
	}
	if err := writeOffsetField(r.metaFile, newOffset); err != nil {
		r.fm.logf("commit offset for %s: %v", r.id, err)
		return ErrInternal
	}
	return nil
}

// Release ends the lease: the id is removed from the in-use set, and if
// the lease was marked for deletion, both files are unlinked and the id is
// dropped from the known set as well. Safe to call more than once; safe to
// defer.
func (r *Resource) Release() {
	if r.released {
		return
	}
	r.released = true

	r.dataFile.Close()
	r.metaFile.Close()

	fm := r.fm
	fm.mu.Lock()
	delete(fm.inUse, r.id)
	if r.deleteMark {
		delete(fm.known, r.id)
	}
	fm.mu.Unlock()

	if r.deleteMark {
		fm.removeFiles(r.id)
	}
}

// DeleteAll unlinks every known pair, clears both sets, and returns the
// number of ids removed. Callers are responsible for ensuring no
// outstanding leases exist — in practice this is used at shutdown and in
// tests.
func (fm *FilesManager) DeleteAll() int {
	fm.mu.Lock()
	ids := make([]string, 0, len(fm.known))
	for id := range fm.known {
		ids = append(ids, id)
	}
	fm.known = make(map[string]struct{})
	fm.inUse = make(map[string]struct{})
	fm.mu.Unlock()

	for _, id := range ids {
		fm.removeFiles(id)
	}
	return len(ids)
}

// removeFiles unlinks both files for id. Unlink errors are logged, not
// propagated: they cannot recover state, and the in-memory sets are the
// authoritative record for the remainder of the process's life.
func (fm *FilesManager) removeFiles(id string) {
	if err := os.Remove(fm.dataPath(id)); err != nil && !os.IsNotExist(err) {
		fm.logf("remove data file for %s: %v", id, err)
	}
	if err := os.Remove(fm.metaPath(id)); err != nil && !os.IsNotExist(err) {
		fm.logf("remove metadata file for %s: %v", id, err)
	}
}

func (fm *FilesManager) logf(format string, args ...any) {
	if fm.log == nil {
		return
	}
	fm.log.Warn(fmt.Sprintf(format, args...))
}
