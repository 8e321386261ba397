package tts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Resolver produces the prompt WAV file for a question, synthesizing once
// and serving the cached file afterward. The cache key covers the question
// text, so an edited question re-synthesizes instead of replaying stale
// audio.
type Resolver struct {
	dir   string
	synth Synthesizer
	log   *slog.Logger

	mu sync.Mutex
}

func NewResolver(dir string, synth Synthesizer, log *slog.Logger) (*Resolver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompt cache dir: %w", err)
	}
	return &Resolver{
		dir:   dir,
		synth: synth,
		log:   log.With(slog.String("component", "prompt-resolver")),
	}, nil
}

// FileName is the cache entry name for a question prompt.
func FileName(questionID, language, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s_%s_%x.wav", sanitize(questionID), sanitize(language), sum[:6])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// Resolve returns the path of the prompt WAV, synthesizing it on first use.
func (r *Resolver) Resolve(ctx context.Context, questionID, language, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, FileName(questionID, language, text))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	wavData, err := r.synth.Synthesize(ctx, text, language)
	if err != nil {
		return "", fmt.Errorf("synthesize prompt %s: %w", questionID, err)
	}

	tmp, err := os.CreateTemp(r.dir, "prompt_*.tmp")
	if err != nil {
		return "", fmt.Errorf("cache prompt: %w", err)
	}
	if _, err := tmp.Write(wavData); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("cache prompt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("cache prompt: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("cache prompt: %w", err)
	}

	r.log.Debug("prompt synthesized",
		slog.String("question_id", questionID),
		slog.String("language", language),
		slog.Int("bytes", len(wavData)))
	return path, nil
}

// Dir exposes the cache directory so the HTTP layer can serve prompt files.
func (r *Resolver) Dir() string { return r.dir }

// Reset removes every cached prompt, used when the questionnaire state is
// reset.
func (r *Resolver) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reset prompt cache: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, e.Name())); err != nil {
			return fmt.Errorf("reset prompt cache: %w", err)
		}
	}
	return nil
}
