// Package transport bridges net/http to the transport-agnostic tus core:
// it turns an *http.Request into a tus.RequestView, calls the Protocol
// Handler, and writes the resulting tus.ResponseView back out.
package transport

import (
	"io"
	"net/http"
	"strconv"

	"github.com/bmizerany/pat"

	"github.com/umitkablan/betus/tus"
)

// NewServeMux wires the tus Protocol Handler, the byte-range download
// handler, and the Prometheus metrics handler behind a single router.
func NewServeMux(h *tus.Handler, rangeHandler http.Handler, metricsHandler http.Handler) http.Handler {
	mux := pat.New()

	core := coreAdapter{handler: h}
	mux.Add("OPTIONS", "/files", core)
	mux.Add("POST", "/files", core)
	mux.Add("HEAD", "/files/:id", core)
	mux.Add("PATCH", "/files/:id", core)
	mux.Add("DELETE", "/files/:id", core)

	if rangeHandler != nil {
		mux.Add("GET", "/files/:id", http.StripPrefix("/files/", rangeHandler))
	}
	if metricsHandler != nil {
		mux.Add("GET", "/metrics", metricsHandler)
	}

	return mux
}

// coreAdapter is the one place net/http meets the core's RequestView and
// ResponseView types.
type coreAdapter struct {
	handler *tus.Handler
}

func (c coreAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	header := map[string][]string(r.Header)
	if r.ContentLength >= 0 {
		header["Content-Length"] = []string{strconv.FormatInt(r.ContentLength, 10)}
	}
	if header["Host"] == nil && r.Host != "" {
		header["Host"] = []string{r.Host}
	}

	resp := c.handler.MakeResponse(tus.RequestView{
		Method: r.Method,
		Target: r.URL.Path,
		Header: header,
		Body:   body,
	})

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body) //nolint:errcheck
	}
}
