package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voxquest-labs/voxquest-core/internal/answers"
	"github.com/voxquest-labs/voxquest-core/internal/question"
)

type startAttemptRequest struct {
	Questionnaire string `json:"questionnaire"`
	Mode          string `json:"mode"`
}

type submitAnswerRequest struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Transcript   string `json:"transcribed_response"`
	ParsedValue  string `json:"parsed_value"`
}

type apiError struct {
	Error string `json:"error"`
}

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/questionnaires", r.handleListQuestionnaires)
	mux.HandleFunc("POST /api/attempts", r.handleStartAttempt)
	mux.HandleFunc("GET /api/attempts/{id}", r.handleAttemptStatus)
	mux.HandleFunc("DELETE /api/attempts/{id}", r.handleStopAttempt)
	mux.HandleFunc("POST /api/attempts/{id}/answers", r.handleSubmitAnswer)
	mux.HandleFunc("GET /api/attempts/{id}/results.csv", r.handleResultsCSV)
	mux.HandleFunc("POST /api/reset", r.handleReset)
	mux.Handle("GET /api/audio/", http.StripPrefix("/api/audio/",
		http.FileServer(http.Dir(r.prompts.Dir()))))
}

func (r *Runtime) handleListQuestionnaires(w http.ResponseWriter, req *http.Request) {
	names, err := question.List(r.cfg.Questionnaire.Directory)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questionnaires": names})
}

func (r *Runtime) handleStartAttempt(w http.ResponseWriter, req *http.Request) {
	var body startAttemptRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Mode == "" {
		body.Mode = "audio"
	}
	status, err := r.manager.StartAttempt(req.Context(), body.Questionnaire, body.Mode)
	if err != nil {
		r.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (r *Runtime) handleAttemptStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.manager.Status(req.PathValue("id"))
	if errors.Is(err, ErrUnknownAttempt) {
		r.writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Runtime) handleStopAttempt(w http.ResponseWriter, req *http.Request) {
	err := r.manager.StopAttempt(req.PathValue("id"))
	if errors.Is(err, ErrUnknownAttempt) {
		r.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitAnswer serves the self-paced visual mode, where the browser
// submits the chosen value directly instead of speaking it.
func (r *Runtime) handleSubmitAnswer(w http.ResponseWriter, req *http.Request) {
	attemptID := req.PathValue("id")
	if _, err := r.manager.Status(attemptID); errors.Is(err, ErrUnknownAttempt) {
		r.writeError(w, http.StatusNotFound, err)
		return
	}

	var body submitAnswerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.QuestionID == "" {
		r.writeError(w, http.StatusBadRequest, errors.New("question_id is required"))
		return
	}

	ans := answers.Answer{
		AttemptID:    attemptID,
		QuestionID:   body.QuestionID,
		QuestionText: body.QuestionText,
		Transcript:   body.Transcript,
		ParsedValue:  body.ParsedValue,
		Confirmed:    true,
	}
	if err := r.store.SaveAnswer(req.Context(), ans); err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "answer stored", "question_id": body.QuestionID})
}

func (r *Runtime) handleResultsCSV(w http.ResponseWriter, req *http.Request) {
	attemptID := req.PathValue("id")
	if _, err := r.store.GetAttempt(req.Context(), attemptID); err != nil {
		if errors.Is(err, answers.ErrAttemptNotFound) {
			r.writeError(w, http.StatusNotFound, err)
			return
		}
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="results_`+attemptID+`.csv"`)
	if err := r.store.ExportCSV(req.Context(), w, attemptID); err != nil {
		r.logger.Error("csv export failed",
			slog.String("attempt_id", attemptID),
			slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := r.manager.Reset(); err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "state reset"})
}

func (r *Runtime) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
