package llm

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "json fence",
			in:   "Here you go:\n```json\n{\"a\":1}\n```\nHope that helps!",
			want: `{"a":1}`,
		},
		{
			name: "generic fence",
			in:   "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "prose around braces",
			in:   `The analysis is {"a":1} as requested.`,
			want: `{"a":1}`,
		},
		{
			name: "uppercase fence tag",
			in:   "```JSON\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type doc struct {
		Title    string   `json:"title"`
		Keywords []string `json:"keywords"`
	}

	got, err := ParseJSON[doc]("```json\n{\"title\":\"T\",\"keywords\":[\"a\",\"b\"]}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "T" || len(got.Keywords) != 2 {
		t.Errorf("parsed %+v", got)
	}

	if _, err := ParseJSON[doc]("not json at all"); err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func TestPartialJSONFullDecode(t *testing.T) {
	type doc struct {
		Title string `json:"title"`
	}
	got, ok := PartialJSON[doc](`{"title":"whole"}`)
	if !ok || got.Title != "whole" {
		t.Errorf("got %+v ok=%v", got, ok)
	}
}

func TestPartialJSONScrapesFields(t *testing.T) {
	type doc struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
	}

	in := `{"title": "Broken \"But\" Recoverable", "abstract": "partial text", "keywords": [oops`
	got, ok := PartialJSON[doc](in)
	if !ok {
		t.Fatal("expected partial recovery")
	}
	if got.Title != `Broken "But" Recoverable` {
		t.Errorf("title = %q, escapes not resolved", got.Title)
	}
	if got.Abstract != "partial text" {
		t.Errorf("abstract = %q", got.Abstract)
	}
}

func TestPartialJSONNothingRecoverable(t *testing.T) {
	type doc struct {
		Title string `json:"title"`
	}
	if _, ok := PartialJSON[doc]("complete garbage with no fields"); ok {
		t.Error("expected recovery failure")
	}
}
