package interpret

import (
	"strings"
	"testing"
)

func TestInterpretFencedJSON(t *testing.T) {
	raw := "```json\n{\"type\":\"answer\",\"content\":\"x\"}\n```"
	r := Interpret(raw)
	if r.Kind != KindAnswer || r.Content != "x" {
		t.Errorf("got (%q, %q), want (answer, x)", r.Kind, r.Content)
	}
	if !r.Parsed {
		t.Errorf("fenced JSON should be reported as parsed")
	}
}

func TestInterpretPlainText(t *testing.T) {
	r := Interpret("hello")
	if r.Kind != KindAnswer || r.Content != "hello" {
		t.Errorf("got (%q, %q), want (answer, hello)", r.Kind, r.Content)
	}
	if r.Parsed {
		t.Errorf("raw fallback must not be reported as parsed")
	}
}

func TestInterpretClarification(t *testing.T) {
	r := Interpret(`{"type":"clarification","content":"which chapter do you mean?"}`)
	if r.Kind != KindClarification {
		t.Errorf("kind = %q, want clarification", r.Kind)
	}
	if !r.Parsed {
		t.Errorf("valid contract should be parsed")
	}
}

func TestInterpretUnknownTypeDefaultsToAnswer(t *testing.T) {
	r := Interpret(`{"type":"essay","content":"text"}`)
	if r.Kind != KindAnswer || r.Content != "text" {
		t.Errorf("got (%q, %q), want (answer, text)", r.Kind, r.Content)
	}
}

func TestInterpretMissingTypeDefaultsToAnswer(t *testing.T) {
	r := Interpret(`{"content":"text"}`)
	if r.Kind != KindAnswer || r.Content != "text" {
		t.Errorf("got (%q, %q), want (answer, text)", r.Kind, r.Content)
	}
}

func TestInterpretCoercesNonStringContent(t *testing.T) {
	r := Interpret(`{"type":"answer","content":42}`)
	if r.Content != "42" {
		t.Errorf("numeric content coerced to %q, want \"42\"", r.Content)
	}
	if !r.Parsed {
		t.Errorf("coerced contract should still be parsed")
	}

	r = Interpret(`{"type":"answer","content":{"text":"nested"}}`)
	if r.Content == "" {
		t.Errorf("object content should coerce to a non-empty string")
	}
}

func TestInterpretMalformedJSONFailsOpen(t *testing.T) {
	raw := `{"type": "answer", "content": "unterminated`
	r := Interpret(raw)
	if r.Kind != KindAnswer {
		t.Errorf("kind = %q, want answer", r.Kind)
	}
	if r.Content == "" {
		t.Errorf("fail-open must deliver the raw text")
	}
	if r.Parsed {
		t.Errorf("malformed input must not be parsed")
	}
}

func TestInterpretNormalizesEscapedNewlines(t *testing.T) {
	r := Interpret(`{"type":"answer","content":"line one\\nline two"}`)
	if !strings.Contains(r.Content, "line one\nline two") {
		t.Errorf("escaped newline not collapsed: %q", r.Content)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"{\"a\":1}", `{"a":1}`},
		{"json\n{\"a\":1}", `{"a":1}`},
		{"  plain text  ", "plain text"},
	}
	for _, c := range cases {
		if got := StripFences(c.in); got != c.want {
			t.Errorf("StripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeNewlines(t *testing.T) {
	in := "a\n\n\n\nb\r\nc"
	want := "a\n\nb\nc"
	if got := NormalizeNewlines(in); got != want {
		t.Errorf("NormalizeNewlines = %q, want %q", got, want)
	}
}
