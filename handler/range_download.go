package handler

import (
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/umitkablan/betus/tus"
)

// RangeDownloadHandler serves GET /files/{uuid} byte-range reads against
// a Files Manager's data file. It is additive to the tus state machine:
// it never advances offset, never touches metadata, and participates in
// the lease discipline only as an ordinary reader.
type RangeDownloadHandler struct {
	Manager *tus.FilesManager
	Prefix  string
}

func (h RangeDownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Use GET method", http.StatusMethodNotAllowed)
		return
	}

	start := int64(0)
	length := int64(-1)
	var err error
	if byteRangeList, ok := r.Header["Range"]; ok {
		start, length, err = parseRange(byteRangeList[0])
	}
	if err != nil {
		http.Error(w, "Wrong range", http.StatusBadRequest)
		return
	}

	id := strings.Trim(r.URL.Path, "/")
	if id == "" {
		http.Error(w, "Wrong requested id", http.StatusBadRequest)
		return
	}

	resource, acquireErr := h.Manager.Acquire(id)
	if acquireErr != nil {
		switch acquireErr {
		case tus.ErrNotFound:
			http.Error(w, "no such upload", http.StatusNotFound)
		case tus.ErrBusy:
			http.Error(w, "upload busy", http.StatusConflict)
		default:
			http.Error(w, "error while fetching the file: "+acquireErr.Error(), http.StatusInternalServerError)
		}
		return
	}
	defer resource.Release()

	out, err := resource.ReadRange(start, length)
	if err != nil {
		http.Error(w, "error while fetching the file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Close()

	io.Copy(w, out) //nolint:errcheck
}

// parseRange parses a single HTTP Range header value, returning the start
// position and length. A negative start is relative to end of file; a
// negative length means "until end of file".
func parseRange(s string) (int64, int64, error) {
	var rangeStart int64
	var rangeLength int64 = -1

	if s == "" {
		return rangeStart, rangeLength, nil
	}

	const b = "bytes="
	if !strings.HasPrefix(s, b) {
		return 0, 0, errors.New("invalid range")
	}

	if strings.Contains(s, ",") {
		return 0, 0, errors.New("multiple ranges not supported")
	}

	ra := textproto.TrimString(s[len(b):])
	if ra == "" {
		return 0, 0, errors.New("invalid range")
	}
	start, end, ok := strings.Cut(ra, "-")
	if !ok {
		return 0, 0, errors.New("invalid range")
	}
	if start == "" {
		if end == "" || end[0] == '-' {
			return 0, 0, errors.New("invalid range")
		}
		i, err := strconv.ParseInt(end, 10, 64)
		if i < 0 || err != nil {
			return 0, 0, errors.New("invalid range")
		}
		rangeStart = -i
	} else {
		i, err := strconv.ParseInt(start, 10, 64)
		if err != nil || i < 0 {
			return 0, 0, errors.New("invalid range")
		}
		rangeStart = i
		if end != "" {
			i, err := strconv.ParseInt(end, 10, 64)
			if err != nil || rangeStart > i {
				return 0, 0, errors.New("invalid range")
			}
			rangeLength = i - rangeStart + 1
		}
	}

	return rangeStart, rangeLength, nil
}
