package prompt

import (
	"strings"
	"testing"
)

func TestBuildIsDeterministic(t *testing.T) {
	history := []string{"what is a derivative", "ok but why"}
	a := Build("Jane Doe", history, "explain the chain rule")
	b := Build("Jane Doe", history, "explain the chain rule")
	if a != b {
		t.Errorf("identical inputs produced different prompts")
	}
}

func TestBuildOrdering(t *testing.T) {
	p := Build("Jane Doe", []string{"first question", "second question"}, "third question")

	idxInstr := strings.Index(p, "clarification")
	idxName := strings.Index(p, "Jane")
	idxFirst := strings.Index(p, "first question")
	idxSecond := strings.Index(p, "second question")
	idxCurrent := strings.Index(p, "Current message: third question")
	idxMarker := strings.Index(p, "JSON object only")

	for i, idx := range []int{idxInstr, idxName, idxFirst, idxSecond, idxCurrent, idxMarker} {
		if idx < 0 {
			t.Fatalf("section %d missing from prompt:\n%s", i, p)
		}
	}
	if !(idxInstr < idxName && idxName < idxFirst && idxFirst < idxSecond && idxSecond < idxCurrent && idxCurrent < idxMarker) {
		t.Errorf("prompt sections out of order: %d %d %d %d %d %d", idxInstr, idxName, idxFirst, idxSecond, idxCurrent, idxMarker)
	}
}

func TestBuildStatesReplyContract(t *testing.T) {
	p := Build("", nil, "hello")
	if !strings.Contains(p, `"clarification"`) || !strings.Contains(p, `"answer"`) {
		t.Errorf("instruction block must name both kind values")
	}
	if !strings.Contains(p, "interactive controls are added by the system") {
		t.Errorf("instruction block must forbid button instructions in content")
	}
}

func TestBuildWithoutNameOrHistory(t *testing.T) {
	p := Build("", nil, "hello")
	if strings.Contains(p, "The student's name is") {
		t.Errorf("unknown name should be omitted")
	}
	if strings.Contains(p, "Recent messages") {
		t.Errorf("empty history should be omitted")
	}
	if !strings.Contains(p, "Current message: hello") {
		t.Errorf("current message missing")
	}
	if !strings.HasSuffix(p, "no other text.") {
		t.Errorf("prompt must end with the JSON-only marker, got %q", p[len(p)-40:])
	}
}

func TestBuildUsesFirstNameOnly(t *testing.T) {
	p := Build("Jane Doe", nil, "hello")
	if !strings.Contains(p, "The student's name is Jane.") {
		t.Errorf("expected first name only, got:\n%s", p)
	}
}

func TestFirstName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Jane Doe", "Jane"},
		{"  Jane   Doe  ", "Jane"},
		{"Cher", "Cher"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := FirstName(c.in); got != c.want {
			t.Errorf("FirstName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
