package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSameSingletonInstance(t *testing.T) {
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	Get().RequestsTotal.WithLabelValues("accepted").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "optimusd_requests_total")
}
