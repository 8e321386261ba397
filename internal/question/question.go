// Package question models a questionnaire definition and validates it once
// at load time, so answer-time code never re-checks field combinations.
package question

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxquest-labs/voxquest-core/internal/parse"
)

// FlexString accepts either a JSON string or a JSON number and stores it as
// text. Questionnaire files in the wild carry numeric mapping values both
// ways.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value %s is neither string nor number", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Question is one item of a questionnaire. The field names mirror the
// questionnaire JSON files.
type Question struct {
	ID          string             `json:"id"`
	Text        string             `json:"text"`
	Type        parse.QuestionType `json:"type"`
	MinValue    *int               `json:"min_value,omitempty"`
	MaxValue    *int               `json:"max_value,omitempty"`
	OptionsText string             `json:"options_text,omitempty"`

	TrueWords    []string   `json:"true_value_spoken,omitempty"`
	TrueNumeric  FlexString `json:"true_value_numeric,omitempty"`
	FalseWords   []string   `json:"false_value_spoken,omitempty"`
	FalseNumeric FlexString `json:"false_value_numeric,omitempty"`

	// VisualOptions drive the self-paced visual mode and, when present,
	// option matching on spoken answers.
	VisualOptions []parse.Option `json:"visual_options,omitempty"`
}

// ParseSpec projects the question onto the parser's input.
func (q *Question) ParseSpec() parse.Spec {
	return parse.Spec{
		Type:         q.Type,
		MinValue:     q.MinValue,
		MaxValue:     q.MaxValue,
		TrueWords:    q.TrueWords,
		TrueNumeric:  string(q.TrueNumeric),
		FalseWords:   q.FalseWords,
		FalseNumeric: string(q.FalseNumeric),
	}
}

// IsText reports whether answers are stored as the raw transcript without
// typed extraction.
func (q *Question) IsText() bool {
	return q.Type == parse.TextInput || q.Type == parse.Textarea
}

// Questionnaire is a loaded, validated definition.
type Questionnaire struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Language    string     `json:"language,omitempty"`
	Questions   []Question `json:"questions"`
}

func (qn *Questionnaire) validate() error {
	if strings.TrimSpace(qn.Title) == "" {
		return fmt.Errorf("questionnaire title is required")
	}
	if len(qn.Questions) == 0 {
		return fmt.Errorf("questionnaire %q has no questions", qn.Title)
	}

	seen := make(map[string]struct{}, len(qn.Questions))
	for i := range qn.Questions {
		q := &qn.Questions[i]
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("question %d has no id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %q has no text", q.ID)
		}

		switch q.Type {
		case parse.Scale:
			if (q.MinValue == nil) != (q.MaxValue == nil) {
				return fmt.Errorf("question %q: scale range must set both min_value and max_value or neither", q.ID)
			}
			if q.MinValue != nil && *q.MinValue > *q.MaxValue {
				return fmt.Errorf("question %q: min_value %d exceeds max_value %d", q.ID, *q.MinValue, *q.MaxValue)
			}
		case parse.BooleanCustomMap:
			if len(q.TrueWords) == 0 && len(q.FalseWords) == 0 {
				return fmt.Errorf("question %q: boolean mapping needs true_value_spoken or false_value_spoken", q.ID)
			}
			if len(q.TrueWords) > 0 && q.TrueNumeric == "" {
				return fmt.Errorf("question %q: true_value_spoken without true_value_numeric", q.ID)
			}
			if len(q.FalseWords) > 0 && q.FalseNumeric == "" {
				return fmt.Errorf("question %q: false_value_spoken without false_value_numeric", q.ID)
			}
		case parse.TextInput, parse.Textarea:
			// Free text, nothing further to check.
		default:
			return fmt.Errorf("question %q: unknown type %q", q.ID, q.Type)
		}

		for _, opt := range q.VisualOptions {
			if strings.TrimSpace(opt.Label) == "" {
				return fmt.Errorf("question %q: visual option with empty label", q.ID)
			}
		}
	}
	return nil
}
