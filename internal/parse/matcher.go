package parse

import (
	"regexp"
	"strings"
)

// Option is one selectable answer presented to the participant.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// MatchOption scans the options in list order and returns the first one
// whose label occurs whole-word in the text. First in list wins even when a
// later option's label also appears, or appears earlier in the text.
func MatchOption(text string, options []Option) (Option, bool) {
	for _, opt := range options {
		label := strings.ToLower(strings.TrimSpace(opt.Label))
		if label == "" {
			continue
		}
		if containsWord(text, label) {
			return opt, true
		}
	}
	return Option{}, false
}

// containsWord reports whether needle occurs in text bounded by non-word
// characters. The boundary groups stand in for \b, which RE2 only applies
// to ASCII and so would split words like "fünf".
func containsWord(text, needle string) bool {
	re, err := regexp.Compile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(needle) + `(?:[^\p{L}\p{N}]|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
