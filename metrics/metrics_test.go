package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderIncrementsExposeOnMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := New(registry)

	recorder.UploadsCreated.Inc()
	recorder.BytesReceived.Add(11)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	HandlerFor(registry).ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "betus_uploads_created_total 1")
	assert.Contains(t, body, "betus_bytes_received_total 11")
}
