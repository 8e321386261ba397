package question

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLanguage applies when neither the questionnaire file nor the
// caller supplies one.
const DefaultLanguage = "de"

// Load reads and validates one questionnaire file from dir. The file name is
// reduced to its base so callers cannot escape the questionnaire directory.
// fallbackLanguage applies when the file does not declare a language.
func Load(dir, fileName, fallbackLanguage string) (*Questionnaire, error) {
	path := filepath.Join(dir, filepath.Base(fileName))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questionnaire: %w", err)
	}

	var qn Questionnaire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&qn); err != nil {
		return nil, fmt.Errorf("parse questionnaire %s: %w", fileName, err)
	}
	if qn.Language == "" {
		qn.Language = fallbackLanguage
	}
	if qn.Language == "" {
		qn.Language = DefaultLanguage
	}
	if err := qn.validate(); err != nil {
		return nil, fmt.Errorf("validate questionnaire %s: %w", fileName, err)
	}
	return &qn, nil
}

// List returns the questionnaire file names available in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list questionnaires: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
