package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// QuestionType selects the extraction rule applied to a transcript.
type QuestionType string

const (
	Scale            QuestionType = "scale"
	BooleanCustomMap QuestionType = "boolean_custom_map"
	TextInput        QuestionType = "text_input"
	Textarea         QuestionType = "textarea"
)

// Spec is the slice of question metadata the parser needs. Text question
// types are not parsed here; the session stores their transcripts verbatim.
type Spec struct {
	Type QuestionType

	// Scale bounds, inclusive. Both must be set for range checking; with
	// either missing, any extracted number is accepted.
	MinValue *int
	MaxValue *int

	// Boolean word lists and the stored values they map to.
	TrueWords    []string
	TrueNumeric  string
	FalseWords   []string
	FalseNumeric string
}

// Result is the outcome of one parse. Exactly one of ParsedValue and
// ErrorMessage is meaningful, selected by ValueFound.
type Result struct {
	ParsedValue  string `json:"parsed_value"`
	ValueFound   bool   `json:"value_found"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func found(value string) Result {
	return Result{ParsedValue: value, ValueFound: true}
}

func failed(message string) Result {
	return Result{ErrorMessage: message}
}

var integerPattern = regexp.MustCompile(`-?\d+`)

// Parse extracts a typed value from a transcript. When options are supplied
// a label match short-circuits every other rule; otherwise the transcript is
// normalized and the question type's extraction applies.
func Parse(transcript string, q Spec, options []Option) Result {
	if strings.TrimSpace(transcript) == "" {
		return failed("Empty transcription.")
	}

	normalized := Normalize(transcript)

	if len(options) > 0 {
		if opt, ok := MatchOption(normalized, options); ok {
			return found(opt.Label)
		}
	}

	switch q.Type {
	case Scale:
		return parseScale(normalized, q)
	case BooleanCustomMap:
		return parseBoolean(normalized, q)
	default:
		return failed("Unsupported question type for parsing.")
	}
}

// parseScale prefers the last number spoken: participants self-correct, and
// "three, no wait, four" means four.
func parseScale(text string, q Spec) Result {
	numbers := integerPattern.FindAllString(text, -1)
	if len(numbers) == 0 {
		return failed("No number found in response.")
	}

	if q.MinValue == nil || q.MaxValue == nil {
		return found(canonicalInt(numbers[len(numbers)-1]))
	}
	for i := len(numbers) - 1; i >= 0; i-- {
		val, err := strconv.Atoi(numbers[i])
		if err != nil {
			// A digit run too long for int cannot satisfy the range.
			continue
		}
		if val >= *q.MinValue && val <= *q.MaxValue {
			return found(strconv.Itoa(val))
		}
	}
	return failed(fmt.Sprintf("Number found, but not in range [%d-%d].", *q.MinValue, *q.MaxValue))
}

// canonicalInt normalizes a digit run that fits in an int ("007" to "7") and
// keeps the exact text otherwise.
func canonicalInt(s string) string {
	if v, err := strconv.Atoi(s); err == nil {
		return strconv.Itoa(v)
	}
	return s
}

func parseBoolean(text string, q Spec) Result {
	for _, word := range q.TrueWords {
		if containsWord(text, strings.ToLower(word)) {
			return found(q.TrueNumeric)
		}
	}
	for _, word := range q.FalseWords {
		if containsWord(text, strings.ToLower(word)) {
			return found(q.FalseNumeric)
		}
	}
	return failed("Could not understand 'yes' or 'no' equivalent.")
}
