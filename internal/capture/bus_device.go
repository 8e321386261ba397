package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voxquest-labs/voxquest-core/internal/audio"
	"github.com/voxquest-labs/voxquest-core/internal/bus"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/protocol"
)

// BusDevice exposes edge microphones as a capture Device. Opening a stream
// subscribes to the attempt's audio frame subject; the registry gates the
// open on a healthy device being present.
type BusDevice struct {
	cfg      config.CaptureConfig
	bus      *bus.Client
	registry *Registry
	log      *slog.Logger
}

func NewBusDevice(cfg config.CaptureConfig, busClient *bus.Client, registry *Registry, log *slog.Logger) *BusDevice {
	return &BusDevice{
		cfg:      cfg,
		bus:      busClient,
		registry: registry,
		log:      log.With(slog.String("component", "bus-capture")),
	}
}

func (d *BusDevice) Open(ctx context.Context, attemptID string) (Stream, error) {
	if _, err := d.registry.Resolve(attemptID); err != nil {
		return nil, err
	}

	s := &busStream{
		frames: make(chan Frame, d.cfg.FrameBuffer),
		log:    d.log,
	}

	subject := protocol.AttemptSubject(protocol.SubjectAudioFramePrefix, attemptID)
	sub, err := d.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	return s, nil
}

type busStream struct {
	sub    *nats.Subscription
	frames chan Frame
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *busStream) Frames() <-chan Frame {
	return s.frames
}

func (s *busStream) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}

	energy := frame.Energy
	if energy == 0 && len(frame.PCM) > 0 {
		energy = audio.FrameEnergy(frame.PCM)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- Frame{PCM: frame.PCM, Energy: energy, Timestamp: time.Now()}:
	default:
		// Consumer is behind; dropping a frame only costs one energy sample.
		s.log.Warn("dropping audio frame, consumer behind")
	}
}

// Close drains the subscription and closes the frame channel. Idempotent.
func (s *busStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.sub != nil {
		err = s.sub.Drain()
	}

	// handleFrame checks closed under the same lock, so no send can race
	// with this close.
	s.mu.Lock()
	close(s.frames)
	s.mu.Unlock()
	return err
}
