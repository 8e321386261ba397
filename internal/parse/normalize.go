// Package parse turns a raw transcript into a typed answer value. It is the
// pure half of the pipeline: no audio, no I/O, just text in and a parse
// result out.
package parse

import (
	"regexp"
	"strings"
)

// numberWords maps spoken digit words to numerals. All locales are applied
// unconditionally because a transcript may mix languages; the words do not
// overlap across locales so application order does not matter.
var numberWords = map[string]string{
	// English
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10",
	// German
	"null": "0", "eins": "1", "zwei": "2", "drei": "3", "vier": "4",
	"fünf": "5", "fuenf": "5", "sechs": "6", "sieben": "7", "acht": "8",
	"neun": "9", "zehn": "10",
}

// tokenPattern matches maximal runs of letters and digits. Replacing per
// token keeps substitutions whole-word: "none" never becomes "n1", and the
// non-ASCII "fünf" is still seen as one word.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Normalize lowercases the transcript and substitutes spoken digit words
// with numerals. It is deterministic and idempotent.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	return tokenPattern.ReplaceAllStringFunc(lowered, func(token string) string {
		if numeral, ok := numberWords[token]; ok {
			return numeral
		}
		return token
	})
}
