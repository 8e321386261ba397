package question

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxquest-labs/voxquest-core/internal/parse"
)

const sampleQuestionnaire = `{
  "title": "Wellbeing Check",
  "description": "Short daily check-in.",
  "questions": [
    {
      "id": "Q1",
      "text": "How often did you feel well this week?",
      "type": "scale",
      "min_value": 1,
      "max_value": 5,
      "options_text": "1 for never up to 5 for always"
    },
    {
      "id": "Q2",
      "text": "Did you sleep well?",
      "type": "boolean_custom_map",
      "true_value_spoken": ["yes", "ja"],
      "true_value_numeric": 1,
      "false_value_spoken": ["no", "nein"],
      "false_value_numeric": "0"
    },
    {
      "id": "Q3",
      "text": "Anything else to share?",
      "type": "textarea"
    }
  ]
}`

func writeQuestionnaire(t *testing.T, body string) (dir, name string) {
	t.Helper()
	dir = t.TempDir()
	name = "sample.json"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, name
}

func TestLoadQuestionnaire(t *testing.T) {
	dir, name := writeQuestionnaire(t, sampleQuestionnaire)
	qn, err := Load(dir, name, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if qn.Title != "Wellbeing Check" {
		t.Errorf("title %q", qn.Title)
	}
	if qn.Language != DefaultLanguage {
		t.Errorf("language %q, want default %q", qn.Language, DefaultLanguage)
	}
	if len(qn.Questions) != 3 {
		t.Fatalf("got %d questions", len(qn.Questions))
	}

	q1 := qn.Questions[0]
	if q1.Type != parse.Scale || q1.MinValue == nil || *q1.MinValue != 1 || *q1.MaxValue != 5 {
		t.Errorf("unexpected scale question: %+v", q1)
	}

	// Numeric mapping values are accepted both as JSON numbers and strings.
	q2 := qn.Questions[1]
	if q2.TrueNumeric != "1" || q2.FalseNumeric != "0" {
		t.Errorf("numeric mappings: true=%q false=%q", q2.TrueNumeric, q2.FalseNumeric)
	}

	if !qn.Questions[2].IsText() {
		t.Error("textarea question must report IsText")
	}
}

func TestLoadLanguageFallback(t *testing.T) {
	dir, name := writeQuestionnaire(t, sampleQuestionnaire)
	qn, err := Load(dir, name, "en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if qn.Language != "en" {
		t.Errorf("language %q, want caller fallback", qn.Language)
	}

	declared := strings.Replace(sampleQuestionnaire, `"title":`, `"language": "fr", "title":`, 1)
	dir, name = writeQuestionnaire(t, declared)
	qn, err = Load(dir, name, "en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if qn.Language != "fr" {
		t.Errorf("language %q, want file declaration to win", qn.Language)
	}
}

func TestLoadStripsDirectoryTraversal(t *testing.T) {
	dir, _ := writeQuestionnaire(t, sampleQuestionnaire)
	if _, err := Load(dir, "../../etc/sample.json", ""); err == nil {
		t.Fatal("expected a read error for a traversing file name")
	}
	// The same base name inside dir still loads.
	if _, err := Load(dir, "nested/sample.json", ""); err != nil {
		t.Fatalf("base name should resolve inside dir: %v", err)
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing id",
			body: `{"title":"t","description":"d","questions":[{"id":" ","text":"x","type":"scale"}]}`,
			want: "no id",
		},
		{
			name: "duplicate id",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"textarea"},{"id":"Q1","text":"y","type":"textarea"}]}`,
			want: "duplicate",
		},
		{
			name: "half range",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"scale","min_value":1}]}`,
			want: "both min_value and max_value",
		},
		{
			name: "inverted range",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"scale","min_value":5,"max_value":1}]}`,
			want: "exceeds",
		},
		{
			name: "boolean without word lists",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"boolean_custom_map"}]}`,
			want: "true_value_spoken or false_value_spoken",
		},
		{
			name: "boolean words without mapping",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"boolean_custom_map","true_value_spoken":["ja"]}]}`,
			want: "without true_value_numeric",
		},
		{
			name: "unknown type",
			body: `{"title":"t","description":"d","questions":[{"id":"Q1","text":"x","type":"multiple_choice"}]}`,
			want: "unknown type",
		},
		{
			name: "no questions",
			body: `{"title":"t","description":"d","questions":[]}`,
			want: "no questions",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, name := writeQuestionnaire(t, tc.body)
			_, err := Load(dir, name, "")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
