package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/config"
)

type httpTranscriber struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type httpResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// NewHTTPTranscriber talks to a whisper-style HTTP endpoint that accepts a
// multipart file upload and returns JSON.
func NewHTTPTranscriber(cfg config.STTConfig) (Transcriber, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("stt endpoint is required for http mode")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTranscriber{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (t *httpTranscriber) Transcribe(ctx context.Context, wavData []byte, language string) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Result{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return Result{}, fmt.Errorf("build upload: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return Result{}, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build stt request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("stt endpoint returned %d: %s", resp.StatusCode, detail)
	}

	var out httpResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	lang := out.Language
	if lang == "" {
		lang = language
	}
	return Result{Text: out.Text, Confidence: out.Confidence, Language: lang}, nil
}
