package session

import (
	"sync"
	"time"
)

// Frame is the decoded image currently presented to the user.
type Frame struct {
	DeviceID   string
	StreamID   string
	Seq        uint64
	Format     string
	Width      int
	Height     int
	Data       []byte
	ReceivedAt time.Time
}

// ContentType returns the MIME type of the frame image.
func (f *Frame) ContentType() string {
	if f.Format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

// FrameSink receives every frame that supersedes the previous one.
type FrameSink interface {
	Present(f *Frame)
}

// LatestFrame keeps only the most recent frame.
type LatestFrame struct {
	mu    sync.RWMutex
	frame *Frame
}

func (l *LatestFrame) Present(f *Frame) {
	l.mu.Lock()
	l.frame = f
	l.mu.Unlock()
}

// Latest returns the current frame, or nil before the first one.
func (l *LatestFrame) Latest() *Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame
}
