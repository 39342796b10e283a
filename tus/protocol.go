package tus

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/umitkablan/betus/filters"
	"github.com/umitkablan/betus/logging"
	"github.com/umitkablan/betus/metrics"
)

// Archiver is the Protocol Handler's view of the archival extension: ship
// the bytes of a finished or terminated upload somewhere durable. A
// *store.Archiver satisfies this without either package importing the
// other.
type Archiver interface {
	Archive(ctx context.Context, id string, data []byte) error
}

// ProtocolVersion is the only tus protocol version this server speaks.
const ProtocolVersion = "1.0.0"

// ServerHeader identifies the server on every response, mirroring the
// name/version banner in an HTTP Server header.
const ServerHeader = "BeTus 0.1"

// MaxUploadSize is the value advertised in Tus-Max-Size: 1 GiB.
const MaxUploadSize = 1073741824

// SupportedExtensions lists the tus extensions this server implements.
const SupportedExtensions = "creation,creation-with-upload,terminate,checksum"

// filesPathPrefix is the only path prefix the Protocol Handler recognizes.
const filesPathPrefix = "/files"

// RequestView is the core's only view of an inbound request: a method, a
// request target, a header map, and a body. It deliberately does not
// reuse any transport-layer request type so the core stays independent of
// how requests actually arrive.
type RequestView struct {
	Method string
	Target string
	Header map[string][]string
	Body   []byte
}

// ResponseView is the core's only view of an outbound response.
type ResponseView struct {
	Status int
	Header map[string][]string
	Body   []byte
}

func newResponse(status int) ResponseView {
	return ResponseView{Status: status, Header: map[string][]string{}}
}

func (rv *ResponseView) set(key, value string) {
	rv.Header[key] = []string{value}
}

func (r RequestView) header(key string) string {
	values := r.Header[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Handler is the Protocol Handler: stateless with respect to uploads,
// holding only a reference to one Files Manager. BaseURL, if non-empty,
// is used as the Location fallback when a request carries no usable Host
// header; Metrics and Log are both optional and nil-safe.
type Handler struct {
	fm      *FilesManager
	BaseURL string
	Metrics *metrics.Recorder
	Log     *logging.Logger

	// Archiver, if set, receives the full bytes of an upload that just
	// reached offset == length via PATCH, or that was just terminated
	// via DELETE. The bytes are read while the lease is still held, and
	// Archive is then invoked from its own goroutine, so it never blocks or
	// fails the triggering response.
	Archiver Archiver
}

// NewHandler builds a Protocol Handler over fm.
func NewHandler(fm *FilesManager) *Handler {
	return &Handler{fm: fm, BaseURL: "http://127.0.0.1:8080"}
}

// MakeResponse is the Protocol Handler's single operation: translate one
// request view into one response view.
func (h *Handler) MakeResponse(req RequestView) ResponseView {
	if req.Method == "OPTIONS" {
		return h.processOptions(req)
	}

	if !strings.HasPrefix(req.Target, filesPathPrefix) {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	if req.header("Tus-Resumable") != ProtocolVersion {
		resp := newResponse(412)
		h.applyCommonHeaders(&resp)
		return resp
	}

	switch req.Method {
	case "HEAD":
		return h.processHead(req)
	case "POST":
		return h.processPost(req)
	case "PATCH":
		return h.processPatch(req)
	case "DELETE":
		return h.processDelete(req)
	default:
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}
}

// applyCommonHeaders sets the headers every response carries: the
// protocol version, the server banner, and, if the body is empty, an
// explicit Content-Length: 0.
func (h *Handler) applyCommonHeaders(resp *ResponseView) {
	resp.set("Tus-Resumable", ProtocolVersion)
	resp.set("Server", ServerHeader)
	if len(resp.Body) == 0 {
		resp.set("Content-Length", "0")
	}
}

func (h *Handler) processOptions(req RequestView) ResponseView {
	if !strings.HasPrefix(req.Target, filesPathPrefix) {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	resp := newResponse(204)
	resp.set("Tus-Version", ProtocolVersion)
	resp.set("Tus-Max-Size", strconv.Itoa(MaxUploadSize))
	resp.set("Tus-Extension", SupportedExtensions)
	resp.set("Tus-Checksum-Algorithm", "sha1")
	h.applyCommonHeaders(&resp)
	return resp
}

// uploadIDFromTarget extracts the {uuid} segment from /files/{uuid}; it
// returns "" if the target is exactly /files or has extra path segments.
func uploadIDFromTarget(target string) string {
	rest := strings.TrimPrefix(target, filesPathPrefix)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func (h *Handler) processPost(req RequestView) ResponseView {
	lengthHeader := req.header("Upload-Length")
	length, err := strconv.ParseUint(lengthHeader, 10, 64)
	if lengthHeader == "" || err != nil || length == 0 {
		resp := newResponse(400)
		h.applyCommonHeaders(&resp)
		return resp
	}

	comment := req.header("Upload-Metadata")

	tmp := h.fm.NewTemporary()
	defer tmp.Release()

	if err := h.fm.Initialize(tmp, length, comment); err != nil {
		h.logf("initialize upload %s: %v", tmp.Uuid(), err)
		resp := newResponse(500)
		h.applyCommonHeaders(&resp)
		return resp
	}

	uploadOffset := uint64(0)
	wroteInitial := false

	contentLengthHeader := req.header("Content-Length")
	contentLength, _ := strconv.ParseInt(contentLengthHeader, 10, 64)
	if contentLengthHeader != "" && contentLength > 0 {
		if req.header("Content-Type") != "application/offset+octet-stream" {
			resp := newResponse(415)
			h.applyCommonHeaders(&resp)
			return resp
		}

		written := writeTemporaryData(tmp, req.Body)
		if written == 0 {
			resp := newResponse(500)
			h.applyCommonHeaders(&resp)
			return resp
		}
		if err := writeOffsetField(tmp.metaFile, int64(written)); err != nil {
			h.logf("record initial offset for %s: %v", tmp.Uuid(), err)
			resp := newResponse(500)
			h.applyCommonHeaders(&resp)
			return resp
		}
		uploadOffset = uint64(written)
		wroteInitial = true
	}

	h.fm.Persist(tmp)
	h.recordCreated()
	if wroteInitial {
		h.recordBytesReceived(uploadOffset)
	}

	resp := newResponse(201)
	resp.set("Location", h.locationFor(req, tmp.Uuid()))
	if wroteInitial {
		resp.set("Upload-Offset", strconv.FormatUint(uploadOffset, 10))
	}
	h.applyCommonHeaders(&resp)
	return resp
}

// locationFor derives the Location header's base URL from the request's
// Host header, falling back to h.BaseURL (itself defaulting to the
// compile-time constant the original source hard-codes) when Host is
// absent.
func (h *Handler) locationFor(req RequestView, id string) string {
	base := h.BaseURL
	if host := req.header("Host"); host != "" {
		scheme := "http"
		if req.header("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + host
	}
	return fmt.Sprintf("%s%s/%s", base, filesPathPrefix, id)
}

func (h *Handler) processHead(req RequestView) ResponseView {
	id := uploadIDFromTarget(req.Target)
	if id == "" {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	resource, err := h.fm.Acquire(id)
	if err != nil {
		resp := newResponse(statusForAcquireError(err))
		h.applyCommonHeaders(&resp)
		return resp
	}
	defer resource.Release()

	md := resource.Metadata()
	if md.Offset < 0 {
		resp := newResponse(410)
		h.applyCommonHeaders(&resp)
		return resp
	}

	resp := newResponse(204)
	resp.set("Upload-Offset", strconv.FormatInt(md.Offset, 10))
	if md.Length > 0 {
		resp.set("Upload-Length", strconv.FormatUint(md.Length, 10))
	}
	if md.Comment != "" {
		resp.set("Upload-Metadata", md.Comment)
	}
	resp.set("Cache-Control", "no-store")
	resp.set("ETag", etagFor(md))
	h.applyCommonHeaders(&resp)
	return resp
}

func (h *Handler) processPatch(req RequestView) ResponseView {
	id := uploadIDFromTarget(req.Target)
	if id == "" {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	if req.header("Content-Type") != "application/offset+octet-stream" {
		resp := newResponse(415)
		h.applyCommonHeaders(&resp)
		return resp
	}

	contentLength, err := strconv.ParseInt(req.header("Content-Length"), 10, 64)
	if err != nil || contentLength <= 0 {
		resp := newResponse(400)
		h.applyCommonHeaders(&resp)
		return resp
	}

	offsetHeader := req.header("Upload-Offset")
	uploadOffset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if offsetHeader == "" || err != nil || uploadOffset < 0 {
		resp := newResponse(400)
		h.applyCommonHeaders(&resp)
		return resp
	}

	var checksumAlgo, checksumB64 string
	if ck := req.header("Upload-Checksum"); ck != "" {
		parts := strings.SplitN(ck, " ", 2)
		if len(parts) != 2 || parts[0] != "sha1" {
			resp := newResponse(400)
			h.applyCommonHeaders(&resp)
			return resp
		}
		checksumAlgo, checksumB64 = parts[0], parts[1]
	}

	resource, err := h.fm.Acquire(id)
	if err != nil {
		resp := newResponse(statusForAcquireError(err))
		h.applyCommonHeaders(&resp)
		return resp
	}
	defer resource.Release()

	md := resource.Metadata()
	if md.Offset < 0 {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	if md.Offset != uploadOffset {
		resp := newResponse(409)
		h.applyCommonHeaders(&resp)
		return resp
	}

	if uploadOffset+contentLength > int64(md.Length) {
		resp := newResponse(409)
		h.applyCommonHeaders(&resp)
		return resp
	}

	written := resource.Write(uploadOffset, req.Body)
	if written == 0 {
		resp := newResponse(500)
		h.applyCommonHeaders(&resp)
		return resp
	}

	if checksumAlgo != "" {
		ok, err := checksumMatches(resource, uploadOffset, int64(written), checksumB64)
		if err != nil {
			resp := newResponse(400)
			h.applyCommonHeaders(&resp)
			return resp
		}
		if !ok {
			h.recordChecksumMismatch()
			resp := newResponse(StatusChecksumMismatch)
			h.applyCommonHeaders(&resp)
			return resp
		}
	}

	newOffset := uploadOffset + int64(written)
	if err := resource.Commit(newOffset); err != nil {
		resp := newResponse(500)
		h.applyCommonHeaders(&resp)
		return resp
	}

	h.recordBytesReceived(uint64(written))
	if uint64(newOffset) == md.Length {
		h.recordCompleted()
		h.archiveAsync(resource, id)
	}

	resp := newResponse(204)
	resp.set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	resp.set("ETag", etagFor(Metadata{Offset: newOffset, Length: md.Length, Comment: md.Comment}))
	h.applyCommonHeaders(&resp)
	return resp
}

func (h *Handler) processDelete(req RequestView) ResponseView {
	if cl := req.header("Content-Length"); cl != "" && cl != "0" {
		resp := newResponse(400)
		h.applyCommonHeaders(&resp)
		return resp
	}

	id := uploadIDFromTarget(req.Target)
	if id == "" {
		resp := newResponse(404)
		h.applyCommonHeaders(&resp)
		return resp
	}

	resource, err := h.fm.Acquire(id)
	if err != nil {
		resp := newResponse(statusForAcquireError(err))
		h.applyCommonHeaders(&resp)
		return resp
	}

	h.archiveAsync(resource, id)

	resource.MarkDelete()
	if err := resource.Commit(0); err != nil {
		resource.Release()
		resp := newResponse(500)
		h.applyCommonHeaders(&resp)
		return resp
	}
	resource.Release()

	h.recordTerminated()

	resp := newResponse(204)
	h.applyCommonHeaders(&resp)
	return resp
}

// statusForAcquireError maps an Acquire failure to the status this
// handler returns for it — NotFound is always 404 here (HEAD's 410 only
// happens after a successful acquire finds corrupted metadata).
func statusForAcquireError(err error) int {
	switch err {
	case ErrNotFound:
		return 404
	case ErrBusy:
		return 409
	default:
		return 500
	}
}

// checksumMatches computes the SHA-1 hex digest over [begin, begin+count)
// of resource's data file and compares it, case-insensitively, against
// the base64-encoded binary digest supplied by the client. It returns an
// error if checksumB64 does not decode to exactly 20 bytes.
func checksumMatches(resource *Resource, begin, count int64, checksumB64 string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(checksumB64)
	if err != nil || len(raw) != 20 {
		return false, fmt.Errorf("invalid sha1 checksum encoding")
	}
	want := strings.ToUpper(hex.EncodeToString(raw))
	got := resource.ChecksumSHA1Hex(begin, count)
	return got != "" && got == want, nil
}

// etagFor derives a cache validator from a metadata snapshot, reusing the
// same BLAKE2b hash the rest of the server uses for content filtering.
func etagFor(md Metadata) string {
	buf := make([]byte, 0, 16+len(md.Comment))
	buf = appendUint64(buf, uint64(md.Offset))
	buf = appendUint64(buf, md.Length)
	buf = append(buf, md.Comment...)
	return `"` + filters.ComputeHash(buf) + `"`
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * i))
	}
	return append(buf, tmp[:]...)
}

// archiveAsync reads the whole of resource's data file while the caller
// still holds its lease, then hands the bytes to h.Archiver from a fresh
// goroutine so the archival upload never blocks or fails the response
// that triggered it. A read failure is logged, not surfaced.
func (h *Handler) archiveAsync(resource *Resource, id string) {
	if h.Archiver == nil {
		return
	}

	reader, err := resource.ReadRange(0, -1)
	if err != nil {
		h.logf("read upload %s for archival: %v", id, err)
		return
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		h.logf("read upload %s for archival: %v", id, err)
		return
	}

	archiver := h.Archiver
	go func() {
		if err := archiver.Archive(context.Background(), id, data); err != nil {
			h.logf("archive upload %s: %v", id, err)
		}
	}()
}

func (h *Handler) logf(format string, args ...any) {
	if h.Log == nil {
		return
	}
	h.Log.Warn(fmt.Sprintf(format, args...))
}

func (h *Handler) recordCreated() {
	if h.Metrics != nil {
		h.Metrics.UploadsCreated.Inc()
	}
}

func (h *Handler) recordCompleted() {
	if h.Metrics != nil {
		h.Metrics.UploadsCompleted.Inc()
	}
}

func (h *Handler) recordTerminated() {
	if h.Metrics != nil {
		h.Metrics.UploadsTerminated.Inc()
	}
}

func (h *Handler) recordChecksumMismatch() {
	if h.Metrics != nil {
		h.Metrics.ChecksumMismatches.Inc()
	}
}

func (h *Handler) recordBytesReceived(n uint64) {
	if h.Metrics != nil {
		h.Metrics.BytesReceived.Add(float64(n))
	}
}
