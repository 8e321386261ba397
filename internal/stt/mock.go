package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a backend for development without a model.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, wavData []byte, language string) (Result, error) {
	return Result{
		Text:       fmt.Sprintf("[transcript bytes=%d]", len(wavData)),
		Confidence: 0,
		Language:   language,
	}, nil
}
