package record

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/vad"
)

type fakeStream struct {
	frames chan capture.Frame

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan capture.Frame, 64)}
}

func (s *fakeStream) Frames() <-chan capture.Frame { return s.frames }

func (s *fakeStream) push(f capture.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (d *fakeDevice) Open(_ context.Context, _ string) (capture.Stream, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func testConfig() Config {
	return Config{
		VAD: vad.Config{
			EnergyThreshold: 30,
			SustainedFrames: 3,
			SilenceWindow:   20 * time.Millisecond,
		},
		CheckInterval:   2 * time.Millisecond,
		MinPayloadBytes: 64,
		MaxUtterance:    5 * time.Second,
		SampleRate:      16000,
		Channels:        1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loudFrame() capture.Frame {
	return capture.Frame{PCM: make([]byte, 256), Energy: 120, Timestamp: time.Now()}
}

func silentFrame() capture.Frame {
	return capture.Frame{PCM: make([]byte, 256), Energy: 0, Timestamp: time.Now()}
}

func TestRecordStopsOnSilenceAfterSpeech(t *testing.T) {
	stream := newFakeStream()
	dev := &fakeDevice{stream: stream}
	c := NewController(testConfig(), dev, discardLogger())

	go func() {
		for i := 0; i < 10; i++ {
			stream.push(loudFrame())
			time.Sleep(3 * time.Millisecond)
		}
		stream.push(silentFrame())
	}()

	res, err := c.Record(context.Background(), "attempt-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.StoppedBy != StopSilence {
		t.Fatalf("stopped by %q, want silence", res.StoppedBy)
	}
	if len(res.WAV) == 0 {
		t.Fatal("expected non-empty WAV payload")
	}
	if res.PCMBytes < 64 {
		t.Fatalf("expected buffered PCM, got %d bytes", res.PCMBytes)
	}
	if c.State() != Idle {
		t.Fatalf("controller state %v after record, want idle", c.State())
	}
}

func TestRecordManualStop(t *testing.T) {
	stream := newFakeStream()
	dev := &fakeDevice{stream: stream}
	cfg := testConfig()
	cfg.VAD.EnergyThreshold = 250 // VAD never triggers
	c := NewController(cfg, dev, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			stream.push(loudFrame())
			time.Sleep(2 * time.Millisecond)
		}
		c.Stop()
		c.Stop() // second stop is a no-op
	}()

	res, err := c.Record(context.Background(), "attempt-1")
	<-done
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.StoppedBy != StopManual {
		t.Fatalf("stopped by %q, want manual", res.StoppedBy)
	}
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	c := NewController(testConfig(), &fakeDevice{stream: newFakeStream()}, discardLogger())
	c.Stop()
	if c.State() != Idle {
		t.Fatalf("state %v after idle stop, want idle", c.State())
	}
}

func TestRecordEmptyPayload(t *testing.T) {
	stream := newFakeStream()
	dev := &fakeDevice{stream: stream}
	c := NewController(testConfig(), dev, discardLogger())

	go func() {
		// One tiny frame, below the minimum payload heuristic.
		stream.push(capture.Frame{PCM: make([]byte, 8), Energy: 120})
		time.Sleep(5 * time.Millisecond)
		c.Stop()
	}()

	_, err := c.Record(context.Background(), "attempt-1")
	if !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state %v after empty recording, want idle", c.State())
	}
}

func TestRecordDeviceErrors(t *testing.T) {
	dev := &fakeDevice{openErr: capture.ErrPermissionDenied}
	c := NewController(testConfig(), dev, discardLogger())

	_, err := c.Record(context.Background(), "attempt-1")
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if c.State() != Errored {
		t.Fatalf("state %v after device failure, want error", c.State())
	}

	// The error state is recoverable: a later Record attempts a fresh open.
	dev.openErr = capture.ErrDeviceUnavailable
	_, err = c.Record(context.Background(), "attempt-1")
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
	if dev.opens != 2 {
		t.Fatalf("expected 2 open attempts, got %d", dev.opens)
	}
}

func TestRecordHardCapFiresWithoutSpeech(t *testing.T) {
	stream := newFakeStream()
	dev := &fakeDevice{stream: stream}
	cfg := testConfig()
	cfg.MaxUtterance = 30 * time.Millisecond
	cfg.MinPayloadBytes = 8
	c := NewController(cfg, dev, discardLogger())

	go func() {
		for i := 0; i < 20; i++ {
			stream.push(silentFrame())
			time.Sleep(2 * time.Millisecond)
		}
	}()

	res, err := c.Record(context.Background(), "attempt-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.StoppedBy != StopMaxDuration {
		t.Fatalf("stopped by %q, want max_duration", res.StoppedBy)
	}
}

func TestRecordCancellationReleasesStream(t *testing.T) {
	stream := newFakeStream()
	dev := &fakeDevice{stream: stream}
	c := NewController(testConfig(), dev, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Record(ctx, "attempt-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Fatal("cancellation must release the capture stream")
	}
}
