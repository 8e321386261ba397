// Package answers persists questionnaire attempts and their confirmed
// answers in SQLite, and exports results for download.
package answers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxquest-labs/voxquest-core/internal/config"
	_ "modernc.org/sqlite"
)

// ErrAttemptNotFound is returned when an attempt id has no row.
var ErrAttemptNotFound = errors.New("answers: attempt not found")

// Attempt is one participant run through a questionnaire.
type Attempt struct {
	ID            string
	Questionnaire string
	Language      string
	Mode          string
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// Answer is one stored response. A re-confirmed answer for the same question
// replaces the earlier one.
type Answer struct {
	AttemptID    string
	QuestionID   string
	QuestionText string
	Transcript   string
	ParsedValue  string
	Confirmed    bool
	CreatedAt    time.Time
}

// Store wraps a SQLite-backed answer store.
type Store struct {
	db    *sql.DB
	cfg   config.AnswerStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the answer store according to config.
func Open(ctx context.Context, cfg config.AnswerStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("answer store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("answer store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id TEXT PRIMARY KEY,
    questionnaire TEXT NOT NULL,
    language TEXT NOT NULL,
    mode TEXT NOT NULL,
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS answers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    question_id TEXT NOT NULL,
    question_text TEXT NOT NULL,
    transcript TEXT,
    parsed_value TEXT,
    confirmed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(attempt_id, question_id),
    FOREIGN KEY(attempt_id) REFERENCES attempts(attempt_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_answers_attempt ON answers(attempt_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAttempt registers a new attempt row.
func (s *Store) CreateAttempt(ctx context.Context, a Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(attempt_id, questionnaire, language, mode, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		a.ID, a.Questionnaire, a.Language, a.Mode, a.CreatedAt)
	return err
}

// GetAttempt loads one attempt.
func (s *Store) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	var (
		a         Attempt
		completed sql.NullString
		created   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_id, questionnaire, language, mode, completed_at, created_at
		 FROM attempts WHERE attempt_id = ?`, attemptID).
		Scan(&a.ID, &a.Questionnaire, &a.Language, &a.Mode, &completed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		a.CreatedAt = ts
	}
	if completed.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			a.CompletedAt = &ts
		}
	}
	return a, nil
}

// CompleteAttempt stamps the attempt as finished.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET completed_at = ? WHERE attempt_id = ?`,
		s.clock().UTC(), attemptID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// SaveAnswer upserts one answer. Re-confirming a question within the same
// attempt replaces the previous answer.
func (s *Store) SaveAnswer(ctx context.Context, ans Answer) error {
	if ans.CreatedAt.IsZero() {
		ans.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers(attempt_id, question_id, question_text, transcript, parsed_value, confirmed, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
		   question_text=excluded.question_text,
		   transcript=excluded.transcript,
		   parsed_value=excluded.parsed_value,
		   confirmed=excluded.confirmed,
		   created_at=excluded.created_at`,
		ans.AttemptID, ans.QuestionID, ans.QuestionText, ans.Transcript, ans.ParsedValue, ans.Confirmed, ans.CreatedAt)
	return err
}

// ListAnswers returns an attempt's answers ordered by question id.
func (s *Store) ListAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, question_id, question_text, transcript, parsed_value, confirmed, created_at
		 FROM answers WHERE attempt_id = ? ORDER BY question_id ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var (
			a       Answer
			created string
		)
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.QuestionText, &a.Transcript, &a.ParsedValue, &a.Confirmed, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			a.CreatedAt = ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAttempt removes an attempt and, via the foreign key, its answers.
func (s *Store) DeleteAttempt(ctx context.Context, attemptID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_id = ?`, attemptID)
	return err
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxAttempts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_id IN (
			SELECT attempt_id FROM attempts ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxAttempts)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
