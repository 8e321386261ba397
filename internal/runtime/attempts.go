package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxquest-labs/voxquest-core/internal/answers"
	"github.com/voxquest-labs/voxquest-core/internal/bus"
	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/question"
	"github.com/voxquest-labs/voxquest-core/internal/record"
	"github.com/voxquest-labs/voxquest-core/internal/session"
	"github.com/voxquest-labs/voxquest-core/internal/stt"
	"github.com/voxquest-labs/voxquest-core/internal/tts"
	"github.com/voxquest-labs/voxquest-core/internal/vad"
)

// ErrUnknownAttempt is returned when a stop or inspection targets an
// attempt id the manager has never seen.
var ErrUnknownAttempt = errors.New("runtime: unknown attempt")

// AttemptStatus is the API-facing view of one attempt.
type AttemptStatus struct {
	AttemptID     string `json:"attempt_id"`
	Questionnaire string `json:"questionnaire"`
	Language      string `json:"language"`
	Mode          string `json:"mode"`
	Running       bool   `json:"running"`
	Error         string `json:"error,omitempty"`
}

type runningAttempt struct {
	status   AttemptStatus
	cancel   context.CancelFunc
	recorder *record.Controller
	done     chan struct{}
	// finishedAt is zero while the attempt runs; once set, the entry is
	// eligible for eviction after the retention window.
	finishedAt time.Time
}

// attemptRetention is how long a finished attempt stays queryable over the
// status API before it is swept from memory. Stored answers are unaffected.
const attemptRetention = time.Hour

// Manager owns the live attempts: it builds the per-attempt capture and
// session stack, runs audio sessions in the background and answers status
// queries.
type Manager struct {
	cfg         config.Config
	bus         *bus.Client
	registry    *capture.Registry
	store       *answers.Store
	transcriber stt.Transcriber
	prompts     *tts.Resolver
	log         *slog.Logger
	clock       func() time.Time
	evictAfter  time.Duration

	mu       sync.Mutex
	attempts map[string]*runningAttempt
}

func NewManager(cfg config.Config, b *bus.Client, registry *capture.Registry,
	store *answers.Store, transcriber stt.Transcriber, prompts *tts.Resolver,
	log *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		bus:         b,
		registry:    registry,
		store:       store,
		transcriber: transcriber,
		prompts:     prompts,
		log:         log.With(slog.String("component", "attempt-manager")),
		clock:       time.Now,
		evictAfter:  attemptRetention,
		attempts:    make(map[string]*runningAttempt),
	}
}

// promptSource maps cached prompt files to the URI the edge device fetches
// them from.
type promptSource struct {
	resolver *tts.Resolver
}

func (p promptSource) Resolve(ctx context.Context, questionID, language, text string) (string, error) {
	path, err := p.resolver.Resolve(ctx, questionID, language, text)
	if err != nil {
		return "", err
	}
	return "/api/audio/" + filepath.Base(path), nil
}

// StartAttempt loads the questionnaire and begins a new attempt. Audio mode
// runs the voiced session in the background; visual mode only registers the
// attempt and expects answers through the submit endpoint.
func (m *Manager) StartAttempt(ctx context.Context, fileName, mode string) (AttemptStatus, error) {
	m.sweepFinished()
	if fileName == "" {
		fileName = m.cfg.Questionnaire.DefaultFile
	}
	if mode != "audio" && mode != "visual" {
		return AttemptStatus{}, fmt.Errorf("unsupported attempt mode %q", mode)
	}

	qn, err := question.Load(m.cfg.Questionnaire.Directory, fileName, m.cfg.Questionnaire.DefaultLanguage)
	if err != nil {
		return AttemptStatus{}, err
	}

	attemptID := uuid.NewString()
	if err := m.store.CreateAttempt(ctx, answers.Attempt{
		ID:            attemptID,
		Questionnaire: fileName,
		Language:      qn.Language,
		Mode:          mode,
	}); err != nil {
		return AttemptStatus{}, fmt.Errorf("register attempt: %w", err)
	}

	ra := &runningAttempt{
		status: AttemptStatus{
			AttemptID:     attemptID,
			Questionnaire: fileName,
			Language:      qn.Language,
			Mode:          mode,
		},
		done: make(chan struct{}),
	}

	if mode == "visual" {
		ra.status.Running = true
		close(ra.done)
		m.mu.Lock()
		m.attempts[attemptID] = ra
		m.mu.Unlock()
		m.log.Info("visual attempt started", slog.String("attempt_id", attemptID))
		return ra.status, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ra.cancel = cancel

	device := capture.NewBusDevice(m.cfg.Capture, m.bus, m.registry, m.log)
	ra.recorder = record.NewController(record.Config{
		VAD: vad.Config{
			EnergyThreshold: m.cfg.VAD.EnergyThreshold,
			SustainedFrames: m.cfg.VAD.SustainedFrames,
			SilenceWindow:   time.Duration(m.cfg.VAD.SilenceWindowMS) * time.Millisecond,
		},
		CheckInterval:   time.Duration(m.cfg.VAD.CheckIntervalMS) * time.Millisecond,
		MinPayloadBytes: m.cfg.Recording.MinPayloadBytes,
		MaxUtterance:    time.Duration(m.cfg.Recording.MaxUtteranceMS) * time.Millisecond,
		SampleRate:      m.cfg.Recording.SampleRate,
		Channels:        m.cfg.Recording.Channels,
	}, device, m.log)

	detach, err := session.ListenManualStop(m.bus, attemptID, ra.recorder, m.log)
	if err != nil {
		cancel()
		return AttemptStatus{}, err
	}

	var confirmer session.Confirmer
	if m.cfg.Session.Confirmation == "explicit" {
		confirmer = session.NewBusConfirmer(m.bus, time.Duration(m.cfg.Session.ConfirmTimeoutMS)*time.Millisecond)
	} else {
		confirmer = session.ImplicitConfirmer{}
	}
	player := session.NewBusPlayer(m.bus, time.Duration(m.cfg.Session.PlaybackTimeoutMS)*time.Millisecond)

	sess := session.New(attemptID, qn, m.cfg.Session,
		ra.recorder, m.transcriber, promptSource{resolver: m.prompts},
		player, confirmer, m.store, session.BusEvents(m.bus, m.log), m.log)

	ra.status.Running = true
	m.mu.Lock()
	m.attempts[attemptID] = ra
	m.mu.Unlock()

	go func() {
		defer close(ra.done)
		defer detach()
		defer cancel()

		err := sess.Run(runCtx)

		m.mu.Lock()
		ra.status.Running = false
		ra.finishedAt = m.clock()
		if err != nil && !errors.Is(err, context.Canceled) {
			ra.status.Error = err.Error()
		}
		m.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("attempt ended with error",
				slog.String("attempt_id", attemptID),
				slog.String("error", err.Error()))
			return
		}
		m.log.Info("attempt finished", slog.String("attempt_id", attemptID))
	}()

	m.log.Info("audio attempt started",
		slog.String("attempt_id", attemptID),
		slog.String("questionnaire", fileName))
	return ra.status, nil
}

// Status reports a single attempt.
func (m *Manager) Status(attemptID string) (AttemptStatus, error) {
	m.sweepFinished()
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.attempts[attemptID]
	if !ok {
		return AttemptStatus{}, ErrUnknownAttempt
	}
	return ra.status, nil
}

// StopAttempt cancels a running attempt.
func (m *Manager) StopAttempt(attemptID string) error {
	m.mu.Lock()
	ra, ok := m.attempts[attemptID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownAttempt
	}
	if ra.cancel != nil {
		ra.cancel()
	}
	<-ra.done
	m.mu.Lock()
	ra.status.Running = false
	if ra.finishedAt.IsZero() {
		ra.finishedAt = m.clock()
	}
	m.mu.Unlock()
	return nil
}

// sweepFinished drops attempts that finished longer than the retention
// window ago, keeping the map bounded on a long-lived daemon.
func (m *Manager) sweepFinished() {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ra := range m.attempts {
		if !ra.finishedAt.IsZero() && now.Sub(ra.finishedAt) > m.evictAfter {
			delete(m.attempts, id)
		}
	}
}

// Reset cancels everything, forgets attempt state and clears the prompt
// cache.
func (m *Manager) Reset() error {
	m.mu.Lock()
	running := make([]*runningAttempt, 0, len(m.attempts))
	for _, ra := range m.attempts {
		running = append(running, ra)
	}
	m.attempts = make(map[string]*runningAttempt)
	m.mu.Unlock()

	for _, ra := range running {
		if ra.cancel != nil {
			ra.cancel()
		}
		<-ra.done
	}
	return m.prompts.Reset()
}

// Close stops all attempts during shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	running := make([]*runningAttempt, 0, len(m.attempts))
	for _, ra := range m.attempts {
		running = append(running, ra)
	}
	m.mu.Unlock()

	for _, ra := range running {
		if ra.cancel != nil {
			ra.cancel()
		}
		<-ra.done
	}
}
