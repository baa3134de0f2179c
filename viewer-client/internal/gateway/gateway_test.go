package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/session"
)

type fakeViewer struct {
	calls    []string
	viewport session.Viewport
	err      error
}

func (f *fakeViewer) State() session.State {
	return session.State{DeviceID: "pc-01", Connection: wsconn.State{Status: wsconn.StatusConnected}, Viewport: f.viewport}
}

func (f *fakeViewer) SetViewport(v session.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	f.viewport = v
	return nil
}

func (f *fakeViewer) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeViewer) PointerMove(x, y float64) error { return f.record(fmt.Sprintf("move %v,%v", x, y)) }
func (f *fakeViewer) PointerDown(b string) error     { return f.record("down " + b) }
func (f *fakeViewer) PointerUp(b string) error       { return f.record("up " + b) }
func (f *fakeViewer) Scroll(dx, dy float64) error    { return f.record(fmt.Sprintf("scroll %v,%v", dx, dy)) }
func (f *fakeViewer) Drag(dir string, x, y float64) error {
	return f.record(fmt.Sprintf("drag %s %v,%v", dir, x, y))
}
func (f *fakeViewer) Key(key string, mods []string) error {
	return f.record(fmt.Sprintf("key %s %v", key, mods))
}

func newTestRouter(v Viewer, frames FrameSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(v, frames).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetFrame(t *testing.T) {
	frames := &session.LatestFrame{}
	r := newTestRouter(&fakeViewer{}, frames)

	rec := do(r, http.MethodGet, "/frame", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	frames.Present(&session.Frame{StreamID: "s1", Seq: 9, Format: protocol.FormatJPEG, Data: []byte{0xff, 0xd8}})
	rec = do(r, http.MethodGet, "/frame", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "s1", rec.Header().Get("X-Stream-ID"))
	assert.Equal(t, "9", rec.Header().Get("X-Frame-Seq"))
	assert.Equal(t, []byte{0xff, 0xd8}, rec.Body.Bytes())
}

func TestGetState(t *testing.T) {
	r := newTestRouter(&fakeViewer{}, &session.LatestFrame{})

	rec := do(r, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool          `json:"success"`
		Data    session.State `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "pc-01", body.Data.DeviceID)
	assert.Equal(t, wsconn.StatusConnected, body.Data.Connection.Status)
}

func TestPutViewport(t *testing.T) {
	v := &fakeViewer{}
	r := newTestRouter(v, &session.LatestFrame{})

	rec := do(r, http.MethodPut, "/viewport", `{"left":10,"top":20,"width":640,"height":360}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.Viewport{Left: 10, Top: 20, Width: 640, Height: 360}, v.viewport)

	rec = do(r, http.MethodPut, "/viewport", `{"width":0,"height":360}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPut, "/viewport", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostPointer(t *testing.T) {
	v := &fakeViewer{}
	r := newTestRouter(v, &session.LatestFrame{})

	for _, body := range []string{
		`{"type":"move","x":320,"y":200}`,
		`{"type":"down","button":"left"}`,
		`{"type":"up","button":"left"}`,
		`{"type":"scroll","delta_x":0,"delta_y":-120}`,
		`{"type":"drag","direction":"down","x":5,"y":6}`,
	} {
		rec := do(r, http.MethodPost, "/input/pointer", body)
		assert.Equal(t, http.StatusAccepted, rec.Code, body)
	}
	assert.Equal(t, []string{"move 320,200", "down left", "up left", "scroll 0,-120", "drag down 5,6"}, v.calls)

	rec := do(r, http.MethodPost, "/input/pointer", `{"type":"pinch"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/input/pointer", `{"x":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostPointer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "outside viewport", err: session.ErrOutsideViewport, code: http.StatusNoContent},
		{name: "invalid", err: fmt.Errorf("%w: bad", protocol.ErrInvalidPayload), code: http.StatusBadRequest},
		{name: "disconnected", err: wsconn.ErrNotConnected, code: http.StatusServiceUnavailable},
		{name: "buffer full", err: wsconn.ErrSendBufferFull, code: http.StatusServiceUnavailable},
		{name: "closed", err: session.ErrClosed, code: http.StatusServiceUnavailable},
		{name: "other", err: fmt.Errorf("boom"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeViewer{err: tt.err}, &session.LatestFrame{})
			rec := do(r, http.MethodPost, "/input/pointer", `{"type":"move","x":1,"y":1}`)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestPostKey(t *testing.T) {
	v := &fakeViewer{}
	r := newTestRouter(v, &session.LatestFrame{})

	rec := do(r, http.MethodPost, "/input/key", `{"key":"c","modifiers":["ctrl"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"key c [ctrl]"}, v.calls)

	rec = do(r, http.MethodPost, "/input/key", `{"modifiers":["ctrl"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
