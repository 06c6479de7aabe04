package ingress

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/handler"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/profile"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/queue"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/watcher"
)

func newTestServer(t *testing.T, encrypted bool, machineID string) *Server {
	t.Helper()
	q := queue.New()
	octx := &task.OptimizationContext{
		Logger:                 zerolog.Nop(),
		Queue:                  q,
		LauncherMappingTimeout: 1,
	}
	tasksMan := task.NewTasksManager(octx)
	watcherMan := watcher.NewManager(0, nil, octx)
	reader := profile.NewReader(nil, zerolog.Nop())
	h := handler.New(octx, tasksMan, watcherMan, reader, ":0")
	return New(h, q, zerolog.Nop(), 0, encrypted, machineID)
}

func TestHandleRequestMalformedBodyReturns400(t *testing.T) {
	s := newTestServer(t, false, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString("not json"))
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleRequestSelfRequestAccepted(t *testing.T) {
	s := newTestServer(t, false, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{}`))
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, 202, w.Code)
}

func TestHandleRequestEncryptedRejectsPlaintext(t *testing.T) {
	s := newTestServer(t, true, "test-machine-id")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{}`))
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestHandleRequestInvalidNonSelfRequestReturns400(t *testing.T) {
	s := newTestServer(t, false, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"command":"game"}`))
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestMetricsRouteServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t, false, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	s.engine.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "optimusd_")
}
