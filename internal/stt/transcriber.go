// Package stt abstracts the speech-to-text backend. The acoustic model
// itself lives outside this process; backends hand finished WAV utterances
// to it and return text.
package stt

import (
	"context"
	"fmt"

	"github.com/voxquest-labs/voxquest-core/internal/config"
)

// Result captures transcriber output for one utterance.
type Result struct {
	Text       string
	Confidence float64
	Language   string
}

// Transcriber abstracts STT backends.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte, language string) (Result, error)
}

// New selects a backend from config.
func New(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockTranscriber(), nil
	case "http":
		return NewHTTPTranscriber(cfg)
	case "exec":
		return NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
