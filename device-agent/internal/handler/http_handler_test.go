package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/agent"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/capture"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

type staticStatus struct{ st agent.Status }

func (s *staticStatus) Status() agent.Status { return s.st }

func TestGetStatus(t *testing.T) {
	provider := &staticStatus{st: agent.Status{
		DeviceID:   "pc-01",
		Connection: wsconn.State{Status: wsconn.StatusConnected, Transport: wsconn.TransportWebSocket},
		Capturing:  true,
		StreamID:   "s-1",
		Capture:    capture.Stats{Captured: 4, Skipped: 1},
	}}
	router := NewHTTPHandler(provider).Router(zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got agent.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pc-01", got.DeviceID)
	assert.True(t, got.Capturing)
	assert.Equal(t, "s-1", got.StreamID)
	assert.Equal(t, uint64(4), got.Capture.Captured)
	assert.Equal(t, wsconn.StatusConnected, got.Connection.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthCheck(t *testing.T) {
	provider := &staticStatus{st: agent.Status{Connection: wsconn.State{Status: wsconn.StatusReconnecting}}}
	router := NewHTTPHandler(provider).Router(zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	provider.st.Connection.Status = wsconn.StatusUnreachable
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unreachable"}`, rec.Body.String())
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := NewHTTPHandler(&staticStatus{}).Router(zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
