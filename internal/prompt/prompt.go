// Package prompt builds the text sent to the generative model.
//
// Building is deterministic and side-effect free: the same instruction
// block, user name, history window and current message always produce the
// same prompt.
package prompt

import (
	"strings"
)

// instructionBlock states the tone and the reply contract. It names the two
// permitted kind values and forbids the model from embedding button
// instructions in content; quick-reply controls are attached by the relay,
// not by the model.
const instructionBlock = `You are StudyMate, a friendly study assistant chatting with a student over WhatsApp.
Keep answers clear, encouraging and reasonably short. Use plain language suitable for a phone screen.
Reply with a JSON object of the form {"type": "...", "content": "..."}.
The "type" field must be exactly "clarification" (when you need more information from the student) or "answer" (when you are answering the question).
Put your entire reply text in "content". Never include button labels, menu options or instructions to tap anything in "content"; interactive controls are added by the system.`

// jsonOnlyMarker is the literal trailing marker requesting machine-parseable
// output.
const jsonOnlyMarker = `Respond with the JSON object only, no other text.`

// ExplainMoreSuffix is appended to a previously sent prompt when the user
// taps the explain-more button.
const ExplainMoreSuffix = `

Please explain your previous answer in more detail, with a worked example if one helps.`

// Build concatenates, in fixed order: the instruction block, the user's
// first name if known, the session history as a bulleted list (oldest
// first), the current message, and the JSON-only marker.
func Build(name string, history []string, current string) string {
	var b strings.Builder
	b.WriteString(instructionBlock)
	b.WriteString("\n\n")

	if first := FirstName(name); first != "" {
		b.WriteString("The student's name is ")
		b.WriteString(first)
		b.WriteString(".\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Recent messages from the student, oldest first:\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Current message: ")
	b.WriteString(current)
	b.WriteString("\n\n")
	b.WriteString(jsonOnlyMarker)
	return b.String()
}

// FirstName extracts the first whitespace-separated token of a full name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
