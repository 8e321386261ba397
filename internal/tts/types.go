// Package tts turns question text into playable prompt audio and caches the
// result per question and language.
package tts

import (
	"context"
	"fmt"

	"github.com/voxquest-labs/voxquest-core/internal/config"
)

// Synthesizer is the contract for producing prompt audio. Implementations
// return a complete WAV payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// New selects a backend from config.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
