package answers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// ExportCSV writes the attempt's confirmed answers as CSV. Unconfirmed rows
// are skipped so a download never contains values the participant rejected.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, attemptID string) error {
	list, err := s.ListAnswers(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("export answers: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{"question_id", "question_text", "transcribed_response", "parsed_value", "is_confirmed"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, ans := range list {
		if !ans.Confirmed {
			continue
		}
		record := []string{
			ans.QuestionID,
			ans.QuestionText,
			ans.Transcript,
			ans.ParsedValue,
			strconv.FormatBool(ans.Confirmed),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
