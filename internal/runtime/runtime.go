// Package runtime wires the voxquest components together: telemetry, the
// message bus, the answer store, the voice backends and the HTTP API.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/answers"
	"github.com/voxquest-labs/voxquest-core/internal/bus"
	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/natsserver"
	"github.com/voxquest-labs/voxquest-core/internal/stt"
	"github.com/voxquest-labs/voxquest-core/internal/tts"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *answers.Store
	registry   *capture.Registry
	prompts    *tts.Resolver
	manager    *Manager
	httpServer *http.Server

	tracerClose func(context.Context) error
	ready       atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled or a
// component fails.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}

	r.bus, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("connect bus: %w", err)
	}

	r.store, err = answers.Open(ctx, r.cfg.AnswerStore, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("open answer store: %w", err)
	}

	r.registry, err = capture.NewRegistry(r.cfg.Capture, r.bus, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("start capture registry: %w", err)
	}

	transcriber, err := stt.New(r.cfg.STT)
	if err != nil {
		r.teardown()
		return fmt.Errorf("init stt backend: %w", err)
	}

	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		r.teardown()
		return fmt.Errorf("init tts backend: %w", err)
	}
	r.prompts, err = tts.NewResolver(r.cfg.TTS.CacheDir, synth, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("init prompt cache: %w", err)
	}

	r.manager = NewManager(r.cfg, r.bus, r.registry, r.store, transcriber, r.prompts, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	err = g.Wait()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	r.manager.Close()
	r.teardown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.tracerClose != nil {
		if terr := r.tracerClose(shutdownCtx); terr != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", terr.Error()))
		}
	}
	return err
}

// Healthy reports whether the runtime's bus connection is alive.
func (r *Runtime) Healthy() bool {
	return r.ready.Load() && r.bus.Healthy()
}

func (r *Runtime) teardown() {
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("answer store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	r.embedded.Shutdown()
	r.embedded = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
