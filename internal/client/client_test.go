package client

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestSendPostsPlaintextRequest(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(serverPort(t, srv), false, "")
	err := s.Send(&model.OptimizationRequest{Command: "game"}, zerolog.Nop())

	require.NoError(t, err)
	require.Equal(t, "application/json", gotContentType)
}

func TestSendEncryptsWhenConfigured(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(serverPort(t, srv), true, "test-machine-id")
	err := s.Send(&model.OptimizationRequest{Command: "game"}, zerolog.Nop())

	require.NoError(t, err)
	require.Equal(t, "application/x-www-form-urlencoded", gotContentType)
}

func TestSendReturnsErrorWhenUnreachable(t *testing.T) {
	s := New(1, false, "")
	err := s.Send(&model.OptimizationRequest{Command: "game"}, zerolog.Nop())
	require.Error(t, err)
}
