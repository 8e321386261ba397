package capture

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/protocol"
)

func newTestRegistry(now func() time.Time) *Registry {
	return &Registry{
		timeout: 6 * time.Second,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   now,
		devices: make(map[string]*DeviceInfo),
		faults:  make(map[string]string),
	}
}

func TestResolveRequiresHealthyDevice(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(func() time.Time { return now })

	if _, err := r.Resolve("attempt-1"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}

	r.applyAnnounce(protocol.DeviceAnnounce{
		DeviceID:   "kiosk-1",
		AttemptID:  "attempt-1",
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  now,
	})
	dev, err := r.Resolve("attempt-1")
	if err != nil {
		t.Fatalf("resolve after announce: %v", err)
	}
	if dev.ID != "kiosk-1" || dev.SampleRate != 16000 {
		t.Fatalf("unexpected device: %+v", dev)
	}

	// Another attempt still has no device.
	if _, err := r.Resolve("attempt-2"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable for other attempt, got %v", err)
	}
}

func TestResolveExpiresStaleHeartbeats(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	current := now
	r := newTestRegistry(func() time.Time { return current })

	r.applyAnnounce(protocol.DeviceAnnounce{DeviceID: "kiosk-1", AttemptID: "attempt-1", Timestamp: now})

	current = now.Add(10 * time.Second)
	if _, err := r.Resolve("attempt-1"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected stale device to be unavailable, got %v", err)
	}

	r.applyHeartbeat(protocol.DeviceHeartbeat{DeviceID: "kiosk-1", Timestamp: current})
	if _, err := r.Resolve("attempt-1"); err != nil {
		t.Fatalf("heartbeat should revive device: %v", err)
	}
}

func TestResolveSurfacesPermissionDenied(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(func() time.Time { return now })

	r.applyAnnounce(protocol.DeviceAnnounce{DeviceID: "kiosk-1", AttemptID: "attempt-1", Timestamp: now})
	r.applyError(protocol.DeviceError{DeviceID: "kiosk-1", AttemptID: "attempt-1", Code: "permission_denied"})

	if _, err := r.Resolve("attempt-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// A re-announce clears the fault (participant fixed permissions and the
	// page reconnected).
	r.applyAnnounce(protocol.DeviceAnnounce{DeviceID: "kiosk-1", AttemptID: "attempt-1", Timestamp: now})
	if _, err := r.Resolve("attempt-1"); err != nil {
		t.Fatalf("re-announce should clear the fault: %v", err)
	}
}
