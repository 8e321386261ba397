// Package record owns the microphone capture lifecycle for one attempt: it
// opens the capture stream, runs the energy VAD against it, and decides when
// an utterance has definitively ended so recording stops itself.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/audio"
	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrEmptyRecording signals that capture finished with no usable audio. The
// caller decides whether to retry automatically or prompt the participant.
var ErrEmptyRecording = errors.New("record: empty recording")

// ErrBusy is returned when Record is called while a recording is in flight.
var ErrBusy = errors.New("record: recording already in progress")

// State is the controller's lifecycle position.
type State int

const (
	Idle State = iota
	Requesting
	Recording
	Stopping
	Finalizing
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Finalizing:
		return "finalizing"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// StopCause records why a recording ended.
type StopCause string

const (
	StopSilence     StopCause = "silence"
	StopManual      StopCause = "manual"
	StopMaxDuration StopCause = "max_duration"
	StopStreamEnded StopCause = "stream_ended"
)

// Config tunes one controller.
type Config struct {
	VAD             vad.Config
	CheckInterval   time.Duration
	MinPayloadBytes int
	// MaxUtterance is the hard cap: if the VAD never signals (energy never
	// crosses the threshold, or silence never follows speech) the recording
	// still ends.
	MaxUtterance time.Duration
	SampleRate   int
	Channels     int
}

// Result is the finalized utterance handed to transcription.
type Result struct {
	WAV       []byte
	PCMBytes  int
	Duration  time.Duration
	StoppedBy StopCause
}

// Controller is safe for use by one session at a time; Stop may be called
// from any goroutine and is idempotent.
type Controller struct {
	cfg      Config
	device   capture.Device
	detector *vad.Detector
	log      *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	stopped bool

	recordings metric.Int64Counter
	empties    metric.Int64Counter
}

func NewController(cfg Config, device capture.Device, log *slog.Logger) *Controller {
	c := &Controller{
		cfg:      cfg,
		device:   device,
		detector: vad.New(cfg.VAD),
		log:      log.With(slog.String("component", "recording-controller")),
		clock:    time.Now,
	}

	meter := otel.Meter("github.com/voxquest-labs/voxquest-core/record")
	if counter, err := meter.Int64Counter("voxquest.recordings.total",
		metric.WithDescription("Completed recordings")); err == nil {
		c.recordings = counter
	}
	if counter, err := meter.Int64Counter("voxquest.recordings.empty",
		metric.WithDescription("Recordings discarded as empty or near-silent")); err == nil {
		c.empties = counter
	}
	return c
}

// State returns the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop requests a manual stop of an in-flight recording. Calling it twice,
// or while idle, is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording || c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
}

// Record captures one utterance. It blocks until the VAD signals end of
// speech, Stop is called, the hard cap elapses, or ctx is cancelled. All
// capture resources are released on every exit path.
func (c *Controller) Record(ctx context.Context, attemptID string) (Result, error) {
	c.mu.Lock()
	if c.state != Idle && c.state != Errored {
		c.mu.Unlock()
		return Result{}, ErrBusy
	}
	c.state = Requesting
	c.mu.Unlock()

	stream, err := c.device.Open(ctx, attemptID)
	if err != nil {
		c.setState(Errored)
		return Result{}, fmt.Errorf("open capture device: %w", err)
	}

	stopCh := make(chan struct{})
	c.mu.Lock()
	c.state = Recording
	c.stopCh = stopCh
	c.stopped = false
	c.mu.Unlock()

	// Release is unconditional: stream teardown happens on success, error,
	// cancellation and panic alike.
	released := false
	release := func() {
		if !released {
			released = true
			if err := stream.Close(); err != nil {
				c.log.Warn("capture stream close failed", slog.String("error", err.Error()))
			}
		}
	}
	defer release()

	var (
		state        vad.State
		buf          []byte
		latestEnergy float64
	)
	started := c.clock()
	hardDeadline := started.Add(c.cfg.MaxUtterance)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	cause := StopStreamEnded

	// One loop owns both the frame-check ticker and frame delivery, so no
	// check can fire after teardown.
loop:
	for {
		select {
		case <-ctx.Done():
			c.setState(Idle)
			return Result{}, ctx.Err()
		case <-stopCh:
			cause = StopManual
			break loop
		case frame, ok := <-stream.Frames():
			if !ok {
				break loop
			}
			buf = append(buf, frame.PCM...)
			latestEnergy = frame.Energy
		case <-ticker.C:
			now := c.clock()
			if now.After(hardDeadline) {
				cause = StopMaxDuration
				break loop
			}
			c.detector.Observe(&state, latestEnergy, now)
			if c.detector.SpeechEnded(&state, now) {
				cause = StopSilence
				break loop
			}
		}
	}

	c.setState(Stopping)
	release()

	// Flush whatever the device delivered before the stream closed.
	for frame := range stream.Frames() {
		buf = append(buf, frame.PCM...)
	}

	c.setState(Finalizing)
	defer c.setState(Idle)

	if len(buf) < c.cfg.MinPayloadBytes || len(buf) == 0 {
		c.count(ctx, c.empties)
		c.log.Info("recording discarded as empty",
			slog.String("attempt_id", attemptID),
			slog.Int("bytes", len(buf)))
		return Result{}, ErrEmptyRecording
	}

	wavData, err := audio.EncodeWAV(buf, c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return Result{}, fmt.Errorf("finalize recording: %w", err)
	}

	c.count(ctx, c.recordings)
	duration := c.clock().Sub(started)
	c.log.Info("recording finalized",
		slog.String("attempt_id", attemptID),
		slog.Int("pcm_bytes", len(buf)),
		slog.String("stopped_by", string(cause)),
		slog.Duration("duration", duration))

	return Result{
		WAV:       wavData,
		PCMBytes:  len(buf),
		Duration:  duration,
		StoppedBy: cause,
	}, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
