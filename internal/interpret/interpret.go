// Package interpret parses raw model output into the reply contract.
//
// Models are asked for a JSON object {"type": ..., "content": ...} but in
// practice wrap it in code fences, prefix a language tag, emit non-string
// content values, or ignore the contract entirely. Interpretation fails
// open: the user always receives a reply.
package interpret

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ReplyKind classifies an interpreted model reply.
type ReplyKind string

const (
	// KindAnswer is a direct answer to the user's question.
	KindAnswer ReplyKind = "answer"
	// KindClarification asks the user for more information.
	KindClarification ReplyKind = "clarification"
)

// Reply is the interpreted model output. Parsed distinguishes a validated
// contract from the raw fallback, so callers cannot mistake fail-open text
// for a checked response.
type Reply struct {
	Kind    ReplyKind
	Content string
	Parsed  bool
}

// replyEnvelope mirrors the wire contract requested from the model.
type replyEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Interpret converts raw model text into a Reply. Code fences and leading
// language-tag lines are stripped; on JSON decode failure the whole cleaned
// text becomes an answer.
func Interpret(raw string) Reply {
	cleaned := StripFences(raw)

	var env replyEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		slog.Debug("interpret.Interpret: not a JSON reply, failing open", "error", err, "length", len(cleaned))
		return Reply{Kind: KindAnswer, Content: NormalizeNewlines(cleaned)}
	}

	kind := KindAnswer
	switch ReplyKind(strings.ToLower(strings.TrimSpace(env.Type))) {
	case KindClarification:
		kind = KindClarification
	case KindAnswer:
		kind = KindAnswer
	default:
		slog.Debug("interpret.Interpret: unrecognized type, defaulting to answer", "type", env.Type)
	}

	content := coerceContent(env.Content)
	if content == "" {
		// Parsed but empty: fall back to the cleaned text so the user
		// still gets something.
		return Reply{Kind: KindAnswer, Content: NormalizeNewlines(cleaned)}
	}

	return Reply{Kind: kind, Content: NormalizeNewlines(content), Parsed: true}
}

// coerceContent turns the decoded content value into a string even when the
// model returned a number, object or array.
func coerceContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

var fenceOpen = regexp.MustCompile("^```[a-zA-Z0-9_-]*[ \t]*\n?")

// StripFences removes surrounding code-fence delimiters and a leading
// language tag line (e.g. "```json") from model output.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = fenceOpen.ReplaceAllString(s, "")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	// Some models emit a bare language tag line before the payload.
	if first, rest, ok := strings.Cut(s, "\n"); ok {
		if t := strings.ToLower(strings.TrimSpace(first)); t == "json" {
			s = rest
		}
	}
	return strings.TrimSpace(s)
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// NormalizeNewlines collapses escaped newline sequences and redundant blank
// lines before the text is sent outward.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
