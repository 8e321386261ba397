package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voxquest-labs/voxquest-core/internal/bus"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DeviceInfo describes a registered edge capture device.
type DeviceInfo struct {
	ID         string
	AttemptID  string
	SampleRate int
	Channels   int
	LastSeen   time.Time
	Healthy    bool
}

// Registry tracks edge devices announcing themselves over the bus. It is the
// source of truth for DeviceUnavailable / PermissionDenied decisions: a
// recording cannot start for an attempt without a healthy device, and device
// errors reported from the edge are remembered per attempt.
type Registry struct {
	timeout time.Duration
	log     *slog.Logger
	bus     *bus.Client
	subs    []*nats.Subscription
	clock   func() time.Time

	mu      sync.RWMutex
	devices map[string]*DeviceInfo
	faults  map[string]string // attemptID -> last error code

	deviceGauge metric.Int64ObservableGauge
}

func NewRegistry(cfg config.CaptureConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		timeout: time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		log:     log.With(slog.String("component", "capture-registry")),
		bus:     busClient,
		clock:   time.Now,
		devices: make(map[string]*DeviceInfo),
		faults:  make(map[string]string),
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()

	announceSub, err := conn.Subscribe(protocol.SubjectDeviceAnnounce, func(msg *nats.Msg) {
		var ann protocol.DeviceAnnounce
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			r.log.Warn("invalid device announce", slog.String("error", err.Error()))
			return
		}
		r.applyAnnounce(ann)
	})
	if err != nil {
		return fmt.Errorf("subscribe device announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectDeviceHeartbeat, func(msg *nats.Msg) {
		var hb protocol.DeviceHeartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			r.log.Warn("invalid device heartbeat", slog.String("error", err.Error()))
			return
		}
		r.applyHeartbeat(hb)
	})
	if err != nil {
		return fmt.Errorf("subscribe device heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	errorSub, err := conn.Subscribe(protocol.SubjectDeviceError, func(msg *nats.Msg) {
		var devErr protocol.DeviceError
		if err := json.Unmarshal(msg.Data, &devErr); err != nil {
			r.log.Warn("invalid device error", slog.String("error", err.Error()))
			return
		}
		r.applyError(devErr)
	})
	if err != nil {
		return fmt.Errorf("subscribe device error: %w", err)
	}
	r.subs = append(r.subs, errorSub)

	return nil
}

func (r *Registry) applyAnnounce(ann protocol.DeviceAnnounce) {
	if ann.DeviceID == "" {
		return
	}
	ts := ann.Timestamp
	if ts.IsZero() {
		ts = r.clock().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[ann.DeviceID] = &DeviceInfo{
		ID:         ann.DeviceID,
		AttemptID:  ann.AttemptID,
		SampleRate: ann.SampleRate,
		Channels:   ann.Channels,
		LastSeen:   ts,
		Healthy:    true,
	}
	// A fresh device clears any stale fault for its attempt.
	delete(r.faults, ann.AttemptID)
}

func (r *Registry) applyHeartbeat(hb protocol.DeviceHeartbeat) {
	ts := hb.Timestamp
	if ts.IsZero() {
		ts = r.clock().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[hb.DeviceID]; ok {
		dev.LastSeen = ts
		dev.Healthy = true
	}
}

func (r *Registry) applyError(devErr protocol.DeviceError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if devErr.AttemptID != "" {
		r.faults[devErr.AttemptID] = devErr.Code
	}
	if dev, ok := r.devices[devErr.DeviceID]; ok {
		dev.Healthy = false
	}
}

// Resolve returns the healthy device serving the attempt, or the capture
// error to surface: ErrPermissionDenied if the edge reported a refusal,
// ErrDeviceUnavailable otherwise.
func (r *Registry) Resolve(attemptID string) (DeviceInfo, error) {
	now := r.clock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if code, ok := r.faults[attemptID]; ok && code == "permission_denied" {
		return DeviceInfo{}, ErrPermissionDenied
	}
	for _, dev := range r.devices {
		if dev.AttemptID != attemptID {
			continue
		}
		if !dev.Healthy || now.Sub(dev.LastSeen) > r.timeout {
			continue
		}
		return *dev, nil
	}
	return DeviceInfo{}, ErrDeviceUnavailable
}

// Devices returns a snapshot of all known devices.
func (r *Registry) Devices() []DeviceInfo {
	now := r.clock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]DeviceInfo, 0, len(r.devices))
	for _, dev := range r.devices {
		snapshot := *dev
		if now.Sub(dev.LastSeen) > r.timeout {
			snapshot.Healthy = false
		}
		result = append(result, snapshot)
	}
	return result
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/voxquest-labs/voxquest-core/capture")
	gauge, err := meter.Int64ObservableGauge("voxquest.capture.devices",
		metric.WithDescription("Number of known edge capture devices"))
	if err != nil {
		return err
	}
	r.deviceGauge = gauge
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		count := int64(len(r.devices))
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, count)
		return nil
	}, gauge)
	return err
}
