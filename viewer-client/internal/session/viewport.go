package session

import (
	"errors"
	"math"
)

var ErrInvalidViewport = errors.New("viewport must have a positive size")

// Viewport is the on-screen rectangle the frame is drawn into, in client
// coordinates.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (v Viewport) Validate() error {
	if !(v.Width > 0) || !(v.Height > 0) || math.IsInf(v.Width, 0) || math.IsInf(v.Height, 0) {
		return ErrInvalidViewport
	}
	return nil
}

// Normalize maps a client point onto [0,1] fractions of the viewport.
// ok is false for points outside it.
func (v Viewport) Normalize(clientX, clientY float64) (x, y float64, ok bool) {
	if v.Validate() != nil {
		return 0, 0, false
	}
	x = (clientX - v.Left) / v.Width
	y = (clientY - v.Top) / v.Height
	if x < 0 || x > 1 || y < 0 || y > 1 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	return x, y, true
}
