// Package capture defines the microphone-side contract of the runtime. The
// actual microphone lives on an edge device (browser or kiosk) which streams
// PCM frames over the bus; this package presents that stream as an owned,
// closeable resource.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the edge device reported that
	// microphone access was refused.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceUnavailable is returned when no healthy capture device is
	// registered for the attempt.
	ErrDeviceUnavailable = errors.New("capture: no capture device available")
)

// Frame is one delivery from the capture device: a PCM slice plus its
// analyser energy on the 0-255 scale.
type Frame struct {
	PCM       []byte
	Energy    float64
	Timestamp time.Time
}

// Stream yields frames until the device finishes or Close is called.
// Close releases the underlying subscription and is safe to call twice.
type Stream interface {
	Frames() <-chan Frame
	Close() error
}

// Device opens capture streams per attempt.
type Device interface {
	Open(ctx context.Context, attemptID string) (Stream, error)
}
