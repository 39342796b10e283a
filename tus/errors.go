package tus

import (
	"net/http"

	"github.com/tus/tusd/v2/pkg/handler"
)

// StatusChecksumMismatch is the tus-specific, non-standard status code used
// when a client-supplied checksum does not match the data actually
// received. net/http has no named constant for it.
const StatusChecksumMismatch = 460

// coreError is a sentinel identifying one of the error kinds from spec §7.
// The HTTP status a given condition maps to is context-dependent (an
// unreadable metadata record is a 410 from HEAD but a 404 from PATCH),
// so coreError carries only identity and a message; the
// Protocol Handler picks the status per the rules in spec §4.2.
type coreError struct {
	code    string
	message string
}

func (e *coreError) Error() string { return e.message }

// newCoreError mirrors the handler.NewError(code, message, status)
// constructor that the teacher repo imports directly
// (store/s3cryptstore.go uses handler.ErrNotFound, itself built this way
// in tusd's own handler package) — the status argument is accepted for
// fidelity to that convention and discarded here since the core tracks
// status separately, at the point each handler already knows the context.
func newCoreError(code, message string, status int) *coreError {
	_ = handler.NewError(code, message, status)
	return &coreError{code: code, message: message}
}

// Error kinds surfaced by the Files Manager and Protocol Handler, per
// spec §7. Compare against these with errors.Is; they are never equal to
// one another and are safe to hold as package-level singletons since they
// carry no per-call state.
var (
	// ErrNotFound means the requested upload id is unknown to the manager.
	ErrNotFound = newCoreError("ERR_UPLOAD_NOT_FOUND", handler.ErrNotFound.Error(), http.StatusNotFound)

	// ErrBusy means another lease is currently outstanding for this id.
	ErrBusy = newCoreError("ERR_UPLOAD_BUSY",
		"another request is currently operating on this upload", http.StatusConflict)

	// ErrPreconditionFailed means a required protocol precondition (an
	// unsupported or missing Tus-Resumable header) was not met.
	ErrPreconditionFailed = newCoreError("ERR_UNSUPPORTED_VERSION",
		"missing, invalid or unsupported Tus-Resumable header", http.StatusPreconditionFailed)

	// ErrBadRequest means a required header was missing or malformed.
	ErrBadRequest = newCoreError("ERR_INVALID_REQUEST",
		"missing or invalid request header", http.StatusBadRequest)

	// ErrUnsupportedMediaType means Content-Type was missing or not the
	// tus offset+octet-stream media type.
	ErrUnsupportedMediaType = newCoreError("ERR_INVALID_CONTENT_TYPE",
		"missing or unsupported Content-Type header", http.StatusUnsupportedMediaType)

	// ErrOffsetConflict means the client's declared Upload-Offset disagrees
	// with the server's recorded offset.
	ErrOffsetConflict = newCoreError("ERR_MISMATCHED_OFFSET",
		"Upload-Offset does not match the server's recorded offset", http.StatusConflict)

	// ErrChecksumMismatch means the computed digest over the just-written
	// range does not match the client-supplied digest. Maps to the
	// tus-specific 460 status; the offset is not advanced.
	ErrChecksumMismatch = newCoreError("ERR_CHECKSUM_MISMATCH",
		"computed checksum does not match the supplied checksum", StatusChecksumMismatch)

	// ErrCorrupted means the metadata file is unreadable or reports a
	// negative offset.
	ErrCorrupted = newCoreError("ERR_METADATA_CORRUPTED",
		"upload metadata could not be read", http.StatusGone)

	// ErrInternal means an unexpected I/O failure occurred on write or
	// commit.
	ErrInternal = newCoreError("ERR_INTERNAL",
		"an internal error occurred while serving the request", http.StatusInternalServerError)

	// ErrBadDescriptor means initialize was called on a temporary resource
	// whose data or metadata file could not be opened for writing.
	ErrBadDescriptor = newCoreError("ERR_BAD_DESCRIPTOR",
		"data or metadata file is not writable", http.StatusInternalServerError)
)
