package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

type fakeScreen struct {
	width, height int
	fail          atomic.Int32 // number of captures that fail before succeeding
	gate          chan struct{}
	calls         atomic.Int32
}

func (s *fakeScreen) Capture() (image.Image, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.fail.Load() > 0 {
		s.fail.Add(-1)
		return nil, errors.New("display unavailable")
	}
	return imaging.New(s.width, s.height, color.NRGBA{R: 200, A: 255}), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames []*protocol.FramePayload
	rooms  []string
}

func (p *recordingPublisher) Emit(room, event string, payload any) error {
	if event != protocol.EventScreenShare {
		return errors.New("unexpected event " + event)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, payload.(*protocol.FramePayload))
	p.rooms = append(p.rooms, room)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *recordingPublisher) snapshot() []*protocol.FramePayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*protocol.FramePayload(nil), p.frames...)
}

func testConfig() Config {
	return Config{Interval: 10 * time.Millisecond, MaxWidth: 1280, Format: protocol.FormatJPEG, Quality: 60}
}

func TestLoop_StartIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	loop := New(testConfig(), &fakeScreen{width: 64, height: 48}, pub)

	assert.True(t, loop.Start("pc-01"))
	streamID := loop.StreamID()
	assert.False(t, loop.Start("pc-01"))
	assert.Equal(t, streamID, loop.StreamID())
	assert.True(t, loop.Running())

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	loop.Stop()
	loop.Stop()
	assert.False(t, loop.Running())

	frames := pub.snapshot()
	for i, f := range frames {
		assert.Equal(t, "pc-01", f.DeviceID)
		assert.Equal(t, streamID, f.StreamID)
		assert.Equal(t, uint64(i+1), f.Seq)
		require.NoError(t, f.Validate())
	}
	assert.Equal(t, "pc-01", pub.rooms[0])
}

func TestLoop_PublishesOneFramePerInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 100 * time.Millisecond
	pub := &recordingPublisher{}
	loop := New(cfg, &fakeScreen{width: 64, height: 48}, pub)

	loop.Start("pc-01")
	time.Sleep(3*cfg.Interval - 20*time.Millisecond)
	loop.Stop()

	n := pub.count()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 4)
}

func TestLoop_NothingPublishedAfterStop(t *testing.T) {
	pub := &recordingPublisher{}
	loop := New(testConfig(), &fakeScreen{width: 64, height: 48}, pub)

	loop.Start("pc-01")
	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	loop.Stop()

	n := pub.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, pub.count())
}

func TestLoop_StopWaitsForInflightCapture(t *testing.T) {
	screen := &fakeScreen{width: 64, height: 48, gate: make(chan struct{})}
	pub := &recordingPublisher{}
	loop := New(testConfig(), screen, pub)

	loop.Start("pc-01")
	require.Eventually(t, func() bool { return screen.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Ticks while the first capture hangs are skipped, not queued.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), screen.calls.Load())
	assert.NotZero(t, loop.Stats().Skipped)

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a capture was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(screen.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Zero(t, pub.count(), "frame captured during Stop must not be published")
}

func TestLoop_CaptureFailureSkipsTick(t *testing.T) {
	screen := &fakeScreen{width: 64, height: 48}
	screen.fail.Store(2)
	pub := &recordingPublisher{}
	loop := New(testConfig(), screen, pub)

	loop.Start("pc-01")
	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	loop.Stop()

	stats := loop.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.NotZero(t, stats.Captured)
	// Sequence numbers count attempts, so the first published frame is not 1.
	assert.Equal(t, uint64(3), pub.snapshot()[0].Seq)
}

func TestLoop_RestartOpensNewStream(t *testing.T) {
	pub := &recordingPublisher{}
	loop := New(testConfig(), &fakeScreen{width: 64, height: 48}, pub)

	loop.Start("pc-01")
	require.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	loop.Stop()
	first := pub.snapshot()

	loop.Start("pc-01")
	require.Eventually(t, func() bool { return pub.count() > len(first) }, 2*time.Second, 5*time.Millisecond)
	loop.Stop()

	next := pub.snapshot()[len(first)]
	assert.NotEqual(t, first[0].StreamID, next.StreamID)
	assert.Equal(t, uint64(1), next.Seq)
	assert.True(t, next.Newer(first[len(first)-1].StreamID, first[len(first)-1].Seq))
}

func TestEncode_DownscalesWideScreens(t *testing.T) {
	loop := New(testConfig(), nil, nil)

	frame, err := loop.encode(imaging.New(3840, 2160, color.NRGBA{B: 255, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, 1280, frame.Width)
	assert.Equal(t, 720, frame.Height)
	assert.Equal(t, protocol.FormatJPEG, frame.Format)

	data, err := base64.StdEncoding.DecodeString(frame.Image)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1280, img.Bounds().Dx())

	// Narrow screens keep their size.
	small, err := loop.encode(imaging.New(800, 600, color.Black))
	require.NoError(t, err)
	assert.Equal(t, 800, small.Width)
}

func TestEncode_PNG(t *testing.T) {
	cfg := testConfig()
	cfg.Format = protocol.FormatPNG
	loop := New(cfg, nil, nil)

	frame, err := loop.encode(imaging.New(10, 10, color.White))
	require.NoError(t, err)
	data, err := base64.StdEncoding.DecodeString(frame.Image)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	cfg.Format = "gif"
	_, err = New(cfg, nil, nil).encode(imaging.New(10, 10, color.White))
	assert.Error(t, err)
}
