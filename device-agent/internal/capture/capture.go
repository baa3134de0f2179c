// Package capture periodically grabs the device screen and publishes it
// into the device's room while at least one viewer is watching.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// Screen grabs the full virtual screen.
type Screen interface {
	Capture() (image.Image, error)
}

// Publisher emits an event into a room. *wsconn.Client satisfies it.
type Publisher interface {
	Emit(room, event string, payload any) error
}

// Config holds capture configuration.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// MaxWidth downscales wider screens, keeping the aspect ratio. Zero
	// keeps the native size.
	MaxWidth int    `mapstructure:"max_width"`
	Format   string `mapstructure:"format"` // jpeg, png
	Quality  int    `mapstructure:"quality"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval: time.Second,
		MaxWidth: 1280,
		Format:   protocol.FormatJPEG,
		Quality:  70,
	}
}

// Stats counts tick outcomes since the loop was created.
type Stats struct {
	Captured uint64 `json:"captured"`
	Skipped  uint64 `json:"skipped"`
	Failed   uint64 `json:"failed"`
}

// Loop is the capture loop of one device. At most one loop runs at a time.
type Loop struct {
	cfg    Config
	screen Screen
	pub    Publisher

	// lifecycle serializes Start and Stop; Stop holds it until the loop
	// has exited.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	streamID  string

	captured atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
}

// New creates a stopped loop.
func New(cfg Config, screen Screen, pub Publisher) *Loop {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Format == "" {
		cfg.Format = d.Format
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = d.Quality
	}
	return &Loop{cfg: cfg, screen: screen, pub: pub}
}

// Start begins capturing into deviceID's room. It returns false when the
// loop is already running.
func (l *Loop) Start(deviceID string) bool {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.streamID = uuid.New().String()

	go l.run(ctx, deviceID, l.streamID, l.done)

	log := pkglog.Component("capture")
	log.Info().Str(pkglog.FieldDeviceID, deviceID).Str(pkglog.FieldStreamID, l.streamID).Dur("interval", l.cfg.Interval).Msg("capture started")
	return true
}

// Stop ends the loop and waits for any capture in progress. Nothing is
// published once Stop has returned.
func (l *Loop) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done

	log := pkglog.Component("capture")
	log.Info().Str(pkglog.FieldStreamID, l.streamID).Msg("capture stopped")

	l.cancel = nil
	l.done = nil
	l.streamID = ""
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	return l.cancel != nil
}

// StreamID returns the id of the running stream, or "".
func (l *Loop) StreamID() string {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	return l.streamID
}

// Stats returns the tick counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Captured: l.captured.Load(),
		Skipped:  l.skipped.Load(),
		Failed:   l.failed.Load(),
	}
}

func (l *Loop) run(ctx context.Context, deviceID, streamID string, done chan struct{}) {
	var (
		busy     atomic.Bool
		inflight sync.WaitGroup
		seq      uint64
	)
	defer close(done)
	defer inflight.Wait()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	tick := func() {
		if !busy.CompareAndSwap(false, true) {
			l.skipped.Add(1)
			return
		}
		seq++
		frameSeq := seq
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer busy.Store(false)
			l.captureOnce(ctx, deviceID, streamID, frameSeq)
		}()
	}

	// First frame right away so a viewer does not wait a full interval.
	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (l *Loop) captureOnce(ctx context.Context, deviceID, streamID string, seq uint64) {
	log := pkglog.Component("capture")

	img, err := l.screen.Capture()
	if err != nil {
		l.failed.Add(1)
		log.Warn().Err(err).Msg("screen capture failed")
		return
	}

	frame, err := l.encode(img)
	if err != nil {
		l.failed.Add(1)
		log.Warn().Err(err).Msg("frame encoding failed")
		return
	}
	frame.DeviceID = deviceID
	frame.StreamID = streamID
	frame.Seq = seq

	// Stopped while capturing.
	if ctx.Err() != nil {
		return
	}
	if err := l.pub.Emit(deviceID, protocol.EventScreenShare, frame); err != nil {
		l.failed.Add(1)
		log.Debug().Err(err).Uint64("seq", seq).Msg("frame not published")
		return
	}
	l.captured.Add(1)
}

// encode downscales img to the configured width and encodes it.
func (l *Loop) encode(img image.Image) (*protocol.FramePayload, error) {
	if l.cfg.MaxWidth > 0 && img.Bounds().Dx() > l.cfg.MaxWidth {
		img = imaging.Resize(img, l.cfg.MaxWidth, 0, imaging.Lanczos)
	}

	var (
		buf    bytes.Buffer
		format = l.cfg.Format
		err    error
	)
	switch format {
	case protocol.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case protocol.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(l.cfg.Quality))
	default:
		return nil, fmt.Errorf("unsupported frame format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	b := img.Bounds()
	return &protocol.FramePayload{
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
