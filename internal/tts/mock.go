package tts

import (
	"context"
	"fmt"

	"github.com/voxquest-labs/voxquest-core/internal/audio"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a backend that produces a short silent prompt, enough
// to exercise playback and caching without a voice.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, _ string, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 200ms of silence.
	samples := m.sampleRate * m.channels / 5
	pcm := make([]byte, samples*2)
	wavData, err := audio.EncodeWAV(pcm, m.sampleRate, m.channels)
	if err != nil {
		return nil, fmt.Errorf("encode mock prompt: %w", err)
	}
	return wavData, nil
}
