// Package session walks a participant through a questionnaire attempt one
// question at a time: play the prompt, record, transcribe, parse, confirm,
// save. Any step failure re-presents the same question; a question is never
// skipped and a failed step never ends the attempt unless the capture device
// itself is gone.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/answers"
	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/parse"
	"github.com/voxquest-labs/voxquest-core/internal/protocol"
	"github.com/voxquest-labs/voxquest-core/internal/question"
	"github.com/voxquest-labs/voxquest-core/internal/record"
	"github.com/voxquest-labs/voxquest-core/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Phase is the session's position within one question.
type Phase string

const (
	PhasePresentingQuestion   Phase = "presenting_question"
	PhasePlayingPrompt        Phase = "playing_prompt"
	PhaseListening            Phase = "listening"
	PhaseTranscribing         Phase = "transcribing"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseSavingAnswer         Phase = "saving_answer"
	PhaseComplete             Phase = "complete"
)

// Retry reasons, published with session events so observers can tell why a
// question replays.
const (
	ReasonEmptyRecording      = "empty_recording"
	ReasonPlaybackFailed      = "playback_failed"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonValueNotFound       = "value_not_found"
	ReasonRejectedByUser      = "rejected_by_user"
	ReasonSaveFailed          = "save_failed"
	ReasonDeviceUnavailable   = "device_unavailable"
	ReasonPermissionDenied    = "permission_denied"
	ReasonRetriesExhausted    = "retries_exhausted"
)

// Recorder captures one utterance for an attempt.
type Recorder interface {
	Record(ctx context.Context, attemptID string) (record.Result, error)
	Stop()
}

// PromptResolver produces the playable prompt file for a question.
type PromptResolver interface {
	Resolve(ctx context.Context, questionID, language, text string) (string, error)
}

// Player delivers a prompt to the participant and blocks until playback
// finishes or fails.
type Player interface {
	Play(ctx context.Context, attemptID, questionID, uri, text string) error
}

// Confirmer asks the participant whether a parsed value is what they meant.
type Confirmer interface {
	Confirm(ctx context.Context, req protocol.ConfirmRequest) (bool, error)
}

// Store persists confirmed answers.
type Store interface {
	SaveAnswer(ctx context.Context, ans answers.Answer) error
	CompleteAttempt(ctx context.Context, attemptID string) error
}

// EventSink receives per-transition session events.
type EventSink func(protocol.SessionEvent)

// Session runs one attempt.
type Session struct {
	attemptID     string
	questionnaire *question.Questionnaire
	cfg           config.SessionConfig

	recorder    Recorder
	transcriber stt.Transcriber
	prompts     PromptResolver
	player      Player
	confirmer   Confirmer
	store       Store
	events      EventSink
	log         *slog.Logger
	clock       func() time.Time
	position    int // 1-based index of the question in flight

	retries metric.Int64Counter
}

func New(attemptID string, qn *question.Questionnaire, cfg config.SessionConfig,
	recorder Recorder, transcriber stt.Transcriber, prompts PromptResolver,
	player Player, confirmer Confirmer, store Store, events EventSink,
	log *slog.Logger) *Session {

	s := &Session{
		attemptID:     attemptID,
		questionnaire: qn,
		cfg:           cfg,
		recorder:      recorder,
		transcriber:   transcriber,
		prompts:       prompts,
		player:        player,
		confirmer:     confirmer,
		store:         store,
		events:        events,
		log: log.With(
			slog.String("component", "attempt-session"),
			slog.String("attempt_id", attemptID)),
		clock: time.Now,
	}
	meter := otel.Meter("github.com/voxquest-labs/voxquest-core/session")
	if counter, err := meter.Int64Counter("voxquest.session.question_retries",
		metric.WithDescription("Question presentations replayed after a failed step")); err == nil {
		s.retries = counter
	}
	return s
}

// Run walks every question to completion. It returns an error only for
// fatal conditions: context cancellation, a dead capture device, or the
// retry budget running out.
func (s *Session) Run(ctx context.Context) error {
	for i := range s.questionnaire.Questions {
		q := &s.questionnaire.Questions[i]
		s.position = i + 1
		if err := s.runQuestion(ctx, q); err != nil {
			return err
		}
	}

	if err := s.store.CompleteAttempt(ctx, s.attemptID); err != nil {
		s.log.Error("marking attempt complete failed", slog.String("error", err.Error()))
	}
	s.emit("", PhaseComplete, "advance", "")
	s.log.Info("attempt complete", slog.Int("questions", len(s.questionnaire.Questions)))
	return nil
}

func (s *Session) runQuestion(ctx context.Context, q *question.Question) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ans, retryReason, err := s.askOnce(ctx, q)
		if err != nil {
			return err
		}
		if retryReason == "" {
			retryReason, err = s.saveAnswer(ctx, q, ans)
			if err != nil {
				return err
			}
			if retryReason == "" {
				return nil
			}
		}

		attempts++
		s.count(ctx, s.retries)
		s.emit(q.ID, PhasePresentingQuestion, "retry", retryReason)
		s.log.Info("re-presenting question",
			slog.String("question_id", q.ID),
			slog.String("reason", retryReason),
			slog.Int("attempts", attempts))
		if s.cfg.MaxQuestionRetries > 0 && attempts >= s.cfg.MaxQuestionRetries {
			s.emit(q.ID, PhasePresentingQuestion, "fatal", ReasonRetriesExhausted)
			return fmt.Errorf("question %s: %d retries exhausted (last: %s)", q.ID, attempts, retryReason)
		}
	}
}

// askOnce runs one presentation of a question. A non-empty retry reason
// means the caller should replay the question; an error ends the attempt.
func (s *Session) askOnce(ctx context.Context, q *question.Question) (answers.Answer, string, error) {
	s.emit(q.ID, PhasePresentingQuestion, "", "")

	// Prompt playback. A question with no playable prompt still gets asked:
	// the participant can read it on screen, so synthesis failure falls
	// through to listening instead of replaying the question.
	s.emit(q.ID, PhasePlayingPrompt, "", "")
	uri, err := s.prompts.Resolve(ctx, q.ID, s.questionnaire.Language, promptText(q))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return answers.Answer{}, "", ctxErr
		}
		s.log.Warn("prompt unavailable, listening without playback",
			slog.String("question_id", q.ID), slog.String("error", err.Error()))
		s.emit(q.ID, PhasePlayingPrompt, "skipped", ReasonPlaybackFailed)
	} else if err := s.player.Play(ctx, s.attemptID, q.ID, uri, promptText(q)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return answers.Answer{}, "", ctxErr
		}
		s.log.Warn("prompt playback failed", slog.String("question_id", q.ID), slog.String("error", err.Error()))
		return answers.Answer{}, ReasonPlaybackFailed, nil
	}

	// Recording.
	s.emit(q.ID, PhaseListening, "", "")
	rec, err := s.recorder.Record(ctx, s.attemptID)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return answers.Answer{}, "", err
		case errors.Is(err, capture.ErrPermissionDenied):
			s.emit(q.ID, PhaseListening, "fatal", ReasonPermissionDenied)
			return answers.Answer{}, "", fmt.Errorf("question %s: %w", q.ID, err)
		case errors.Is(err, capture.ErrDeviceUnavailable):
			s.emit(q.ID, PhaseListening, "fatal", ReasonDeviceUnavailable)
			return answers.Answer{}, "", fmt.Errorf("question %s: %w", q.ID, err)
		case errors.Is(err, record.ErrEmptyRecording):
			return answers.Answer{}, ReasonEmptyRecording, nil
		default:
			s.log.Warn("recording failed", slog.String("question_id", q.ID), slog.String("error", err.Error()))
			return answers.Answer{}, ReasonEmptyRecording, nil
		}
	}

	// Transcription.
	s.emit(q.ID, PhaseTranscribing, "", "")
	tr, err := s.transcriber.Transcribe(ctx, rec.WAV, s.questionnaire.Language)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return answers.Answer{}, "", ctxErr
		}
		s.log.Warn("transcription failed", slog.String("question_id", q.ID), slog.String("error", err.Error()))
		return answers.Answer{}, ReasonTranscriptionFailed, nil
	}

	// Parsing. Text questions store the transcript verbatim.
	var parsedValue string
	if q.IsText() {
		parsedValue = tr.Text
	} else {
		result := parse.Parse(tr.Text, q.ParseSpec(), q.VisualOptions)
		if !result.ValueFound {
			s.log.Info("no value extracted",
				slog.String("question_id", q.ID),
				slog.String("transcript", tr.Text),
				slog.String("reason", result.ErrorMessage))
			return answers.Answer{}, ReasonValueNotFound, nil
		}
		parsedValue = result.ParsedValue
	}

	// Confirmation.
	s.emit(q.ID, PhaseAwaitingConfirmation, "", "")
	if s.cfg.Confirmation == "explicit" {
		accepted, err := s.confirmer.Confirm(ctx, protocol.ConfirmRequest{
			AttemptID:   s.attemptID,
			QuestionID:  q.ID,
			Transcript:  tr.Text,
			ParsedValue: parsedValue,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return answers.Answer{}, "", ctxErr
			}
			s.log.Warn("confirmation failed", slog.String("question_id", q.ID), slog.String("error", err.Error()))
			return answers.Answer{}, ReasonRejectedByUser, nil
		}
		if !accepted {
			return answers.Answer{}, ReasonRejectedByUser, nil
		}
	}

	return answers.Answer{
		AttemptID:    s.attemptID,
		QuestionID:   q.ID,
		QuestionText: q.Text,
		Transcript:   tr.Text,
		ParsedValue:  parsedValue,
		Confirmed:    true,
		CreatedAt:    s.clock().UTC(),
	}, "", nil
}

// saveAnswer persists one answer, retrying within the save budget. A
// non-empty retry reason sends the question back through runQuestion's loop
// so the replay still counts against MaxQuestionRetries.
func (s *Session) saveAnswer(ctx context.Context, q *question.Question, ans answers.Answer) (string, error) {
	s.emit(q.ID, PhaseSavingAnswer, "", "")
	var lastErr error
	for i := 0; i <= s.cfg.SaveRetries; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if lastErr = s.store.SaveAnswer(ctx, ans); lastErr == nil {
			s.emit(q.ID, PhaseSavingAnswer, "advance", "")
			return "", nil
		}
		s.log.Warn("saving answer failed",
			slog.String("question_id", q.ID),
			slog.Int("try", i+1),
			slog.String("error", lastErr.Error()))
	}
	return ReasonSaveFailed, nil
}

func (s *Session) emit(questionID string, phase Phase, outcome, reason string) {
	if s.events == nil {
		return
	}
	evt := protocol.SessionEvent{
		AttemptID:     s.attemptID,
		QuestionID:    questionID,
		QuestionTotal: len(s.questionnaire.Questions),
		Phase:         string(phase),
		Outcome:       outcome,
		Reason:        reason,
		Timestamp:     s.clock().UTC(),
	}
	if questionID != "" {
		evt.QuestionIndex = s.position
	}
	s.events(evt)
}

func (s *Session) count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

// promptText is what the voice reads out: the question plus its response
// options, when present.
func promptText(q *question.Question) string {
	if q.OptionsText == "" {
		return q.Text
	}
	return q.Text + " " + q.OptionsText
}
