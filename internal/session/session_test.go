package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/voxquest-labs/voxquest-core/internal/answers"
	"github.com/voxquest-labs/voxquest-core/internal/capture"
	"github.com/voxquest-labs/voxquest-core/internal/config"
	"github.com/voxquest-labs/voxquest-core/internal/parse"
	"github.com/voxquest-labs/voxquest-core/internal/protocol"
	"github.com/voxquest-labs/voxquest-core/internal/question"
	"github.com/voxquest-labs/voxquest-core/internal/record"
	"github.com/voxquest-labs/voxquest-core/internal/stt"
)

type recordStep struct {
	result record.Result
	err    error
}

type fakeRecorder struct {
	steps []recordStep
	calls int
}

func (r *fakeRecorder) Record(_ context.Context, _ string) (record.Result, error) {
	i := r.calls
	r.calls++
	if i >= len(r.steps) {
		return record.Result{WAV: []byte("RIFF"), PCMBytes: 4096, StoppedBy: record.StopSilence}, nil
	}
	step := r.steps[i]
	return step.result, step.err
}

func (r *fakeRecorder) Stop() {}

type fakeTranscriber struct {
	texts []string
	errs  []error
	calls int
}

func (t *fakeTranscriber) Transcribe(_ context.Context, _ []byte, language string) (stt.Result, error) {
	i := t.calls
	t.calls++
	if i < len(t.errs) && t.errs[i] != nil {
		return stt.Result{}, t.errs[i]
	}
	text := ""
	if i < len(t.texts) {
		text = t.texts[i]
	} else if len(t.texts) > 0 {
		text = t.texts[len(t.texts)-1]
	}
	return stt.Result{Text: text, Confidence: 0.9, Language: language}, nil
}

type fakePrompts struct {
	calls int
	err   error
}

func (p *fakePrompts) Resolve(_ context.Context, questionID, language, _ string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return "/prompts/" + questionID + "_" + language + ".wav", nil
}

type fakePlayer struct {
	errs  []error
	calls int
}

func (p *fakePlayer) Play(_ context.Context, _, _, _, _ string) error {
	i := p.calls
	p.calls++
	if i < len(p.errs) {
		return p.errs[i]
	}
	return nil
}

type fakeConfirmer struct {
	decisions []bool
	calls     int
}

func (c *fakeConfirmer) Confirm(_ context.Context, _ protocol.ConfirmRequest) (bool, error) {
	i := c.calls
	c.calls++
	if i < len(c.decisions) {
		return c.decisions[i], nil
	}
	return true, nil
}

type fakeStore struct {
	saveErrs  []error
	saveCalls int
	saved     []answers.Answer
	completed bool
}

func (s *fakeStore) SaveAnswer(_ context.Context, ans answers.Answer) error {
	i := s.saveCalls
	s.saveCalls++
	if i < len(s.saveErrs) && s.saveErrs[i] != nil {
		return s.saveErrs[i]
	}
	s.saved = append(s.saved, ans)
	return nil
}

func (s *fakeStore) CompleteAttempt(_ context.Context, _ string) error {
	s.completed = true
	return nil
}

func intPtr(v int) *int { return &v }

func scaleQuestionnaire() *question.Questionnaire {
	return &question.Questionnaire{
		Title:    "t",
		Language: "de",
		Questions: []question.Question{{
			ID:          "Q1",
			Text:        "How often did you feel well?",
			Type:        parse.Scale,
			MinValue:    intPtr(1),
			MaxValue:    intPtr(10),
			OptionsText: "1 for never up to 10 for always",
		}},
	}
}

func sessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Confirmation:       "explicit",
		ConfirmTimeoutMS:   1000,
		PlaybackTimeoutMS:  1000,
		MaxQuestionRetries: 0,
		SaveRetries:        1,
	}
}

type harness struct {
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	prompts     *fakePrompts
	player      *fakePlayer
	confirmer   *fakeConfirmer
	store       *fakeStore
	events      []protocol.SessionEvent
	session     *Session
}

func newHarness(qn *question.Questionnaire, cfg config.SessionConfig) *harness {
	h := &harness{
		recorder:    &fakeRecorder{},
		transcriber: &fakeTranscriber{},
		prompts:     &fakePrompts{},
		player:      &fakePlayer{},
		confirmer:   &fakeConfirmer{},
		store:       &fakeStore{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := func(evt protocol.SessionEvent) { h.events = append(h.events, evt) }
	h.session = New("attempt-1", qn, cfg, h.recorder, h.transcriber, h.prompts,
		h.player, h.confirmer, h.store, sink, log)
	return h
}

func (h *harness) phases() []string {
	var out []string
	for _, e := range h.events {
		out = append(out, e.Phase)
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.transcriber.texts = []string{"definitely a seven"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.store.saved) != 1 {
		t.Fatalf("saved %d answers", len(h.store.saved))
	}
	ans := h.store.saved[0]
	if ans.ParsedValue != "7" || !ans.Confirmed || ans.Transcript != "definitely a seven" {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if !h.store.completed {
		t.Fatal("attempt must be marked complete")
	}

	want := []string{
		string(PhasePresentingQuestion),
		string(PhasePlayingPrompt),
		string(PhaseListening),
		string(PhaseTranscribing),
		string(PhaseAwaitingConfirmation),
		string(PhaseSavingAnswer),
		string(PhaseSavingAnswer),
		string(PhaseComplete),
	}
	got := h.phases()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("phase sequence\n got %v\nwant %v", got, want)
	}
	first := h.events[0]
	if first.QuestionIndex != 1 || first.QuestionTotal != 1 {
		t.Fatalf("question position %d/%d, want 1/1", first.QuestionIndex, first.QuestionTotal)
	}
}

func TestRunRetriesOnEmptyRecording(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.recorder.steps = []recordStep{{err: record.ErrEmptyRecording}}
	h.transcriber.texts = []string{"seven"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.recorder.calls < 1 || h.player.calls != 2 {
		t.Fatalf("expected the question replayed after an empty recording, player calls=%d", h.player.calls)
	}
	if len(h.store.saved) != 1 {
		t.Fatalf("saved %d answers", len(h.store.saved))
	}

	var retried bool
	for _, e := range h.events {
		if e.Outcome == "retry" && e.Reason == ReasonEmptyRecording {
			retried = true
		}
	}
	if !retried {
		t.Fatal("expected a retry event with the empty recording reason")
	}
}

func TestRunRetriesOnPlaybackFailure(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.player.errs = []error{errors.New("speaker gone")}
	h.transcriber.texts = []string{"seven"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.player.calls != 2 {
		t.Fatalf("player calls %d, want replay after failure", h.player.calls)
	}
	if len(h.store.saved) != 1 {
		t.Fatalf("saved %d answers", len(h.store.saved))
	}
}

func TestRunListensWithoutPlaybackWhenPromptUnavailable(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.prompts.err = errors.New("synthesis backend down")
	h.transcriber.texts = []string{"a seven"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.player.calls != 0 {
		t.Fatalf("player calls %d, want none without a prompt", h.player.calls)
	}
	if h.prompts.calls != 1 || h.recorder.calls != 1 {
		t.Fatalf("resolver calls %d recorder calls %d, want the question answered on the first pass",
			h.prompts.calls, h.recorder.calls)
	}
	if len(h.store.saved) != 1 || h.store.saved[0].ParsedValue != "7" {
		t.Fatalf("saved answers %+v", h.store.saved)
	}

	var skipped bool
	for _, e := range h.events {
		if e.Phase == string(PhasePlayingPrompt) && e.Outcome == "skipped" {
			skipped = true
		}
	}
	if !skipped {
		t.Fatal("expected a skipped playback event")
	}
}

func TestRunRetriesWhenNoValueFound(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.transcriber.texts = []string{"I really couldn't say", "a four then"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.store.saved[0].ParsedValue != "4" {
		t.Fatalf("answer %+v", h.store.saved[0])
	}
	if h.transcriber.calls != 2 {
		t.Fatalf("transcriber calls %d", h.transcriber.calls)
	}
}

func TestRunRetriesWhenRejected(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.transcriber.texts = []string{"a seven", "a three"}
	h.confirmer.decisions = []bool{false, true}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.store.saved[0].ParsedValue != "3" {
		t.Fatalf("answer %+v, want the re-asked value", h.store.saved[0])
	}
	if h.confirmer.calls != 2 {
		t.Fatalf("confirmer calls %d", h.confirmer.calls)
	}
}

func TestRunImplicitConfirmationSkipsConfirmer(t *testing.T) {
	cfg := sessionConfig()
	cfg.Confirmation = "implicit"
	h := newHarness(scaleQuestionnaire(), cfg)
	h.transcriber.texts = []string{"a seven"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.confirmer.calls != 0 {
		t.Fatalf("confirmer consulted %d times in implicit mode", h.confirmer.calls)
	}
	if len(h.store.saved) != 1 || !h.store.saved[0].Confirmed {
		t.Fatalf("answer %+v", h.store.saved)
	}
}

func TestRunFatalOnPermissionDenied(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.recorder.steps = []recordStep{{err: capture.ErrPermissionDenied}}

	err := h.session.Run(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if len(h.store.saved) != 0 || h.store.completed {
		t.Fatal("fatal session must not save or complete")
	}
}

func TestRunSaveFailureRetriesThenReplays(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	h.transcriber.texts = []string{"a seven"}
	// SaveRetries is 1, so two failures exhaust the save budget and the
	// question replays; the third save succeeds.
	h.store.saveErrs = []error{errors.New("disk full"), errors.New("disk full")}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.store.saveCalls != 3 {
		t.Fatalf("save calls %d, want 3", h.store.saveCalls)
	}
	if h.player.calls != 2 {
		t.Fatalf("player calls %d, want replay after save budget spent", h.player.calls)
	}
	if len(h.store.saved) != 1 {
		t.Fatalf("saved %d answers", len(h.store.saved))
	}
}

func TestRunSaveFailuresCountTowardRetryCap(t *testing.T) {
	cfg := sessionConfig()
	cfg.MaxQuestionRetries = 2
	h := newHarness(scaleQuestionnaire(), cfg)
	h.transcriber.texts = []string{"a seven"}
	broken := errors.New("disk full")
	h.store.saveErrs = []error{broken, broken, broken, broken, broken, broken}

	err := h.session.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	// SaveRetries is 1: two tries per presentation, two presentations
	// before the cap ends the attempt.
	if h.store.saveCalls != 4 {
		t.Fatalf("save calls %d, want 4", h.store.saveCalls)
	}
	if h.player.calls != 2 {
		t.Fatalf("player calls %d, want 2 presentations", h.player.calls)
	}
	if h.store.completed {
		t.Fatal("a failed attempt must not be marked complete")
	}
}

func TestRunTextQuestionStoresTranscript(t *testing.T) {
	qn := &question.Questionnaire{
		Title:    "t",
		Language: "de",
		Questions: []question.Question{{
			ID:   "Q9",
			Text: "Anything else?",
			Type: parse.Textarea,
		}},
	}
	h := newHarness(qn, sessionConfig())
	h.transcriber.texts = []string{"the afternoons were the hardest"}

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	ans := h.store.saved[0]
	if ans.ParsedValue != "the afternoons were the hardest" {
		t.Fatalf("text answer %+v", ans)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	cfg := sessionConfig()
	cfg.MaxQuestionRetries = 2
	h := newHarness(scaleQuestionnaire(), cfg)
	h.recorder.steps = []recordStep{
		{err: record.ErrEmptyRecording},
		{err: record.ErrEmptyRecording},
		{err: record.ErrEmptyRecording},
	}

	err := h.session.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(scaleQuestionnaire(), sessionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.session.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
