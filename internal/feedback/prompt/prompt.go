// Package prompt builds the instruction payload sent to AI providers.
package prompt

import (
	"strings"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// Section headers the providers are told to emit, in order.
const (
	HeaderScore       = "Score"
	HeaderExplanation = "Explanation"
	HeaderLineByLine  = "Line-by-Line Analysis"
	HeaderImproved    = "Improved with Suggestions"
	HeaderBand9       = "Band 9 Version"
)

const systemTemplate = `You are an experienced {{SYSTEM}} writing examiner. Assess the essay the user sends and reply using EXACTLY the following structure. Every header must be written in bold exactly as shown, each on its own line, in this order:

**Score**
A single band score between 0 and 9 in half-band steps, e.g. 6.5. Do not add any other text to this section.

**Explanation**
A paragraph justifying the score against the four {{SYSTEM}} criteria: Task Response, Coherence and Cohesion, Lexical Resource, and Grammatical Range and Accuracy.

**Line-by-Line Analysis**
Go through the essay sentence by sentence. For each sentence write:
Line N: "<the original sentence>"
- <what is wrong or could be better, and why>

**Improved with Suggestions**
Reproduce the full original essay with inline corrections using only these markers:
- [mistake]{ErrorType: explanation} directly after an error, e.g. "He go[mistake]{Grammar: subject-verb agreement} to school"
- [+text+] for words that should be added, e.g. "[+the+] environment"
- [~text~] for words that should be removed, e.g. "return [~back~]"
- {new|old} for a direct replacement, e.g. "{numerous|a lot of} people"

**Band 9 Version**
A complete rewrite of the essay at band 9 level of at least 250 words, keeping the writer's main ideas.

Do not use bold text anywhere except the five headers. Do not add any introduction or closing remarks.`

// Build returns the system and user messages for one essay. taskPrompt is optional.
func Build(essay, taskPrompt, scoringSystem string) []domain.Message {
	if strings.TrimSpace(scoringSystem) == "" {
		scoringSystem = domain.ScoringSystemIELTS
	}
	system := strings.ReplaceAll(systemTemplate, "{{SYSTEM}}", scoringSystem)

	var user strings.Builder
	if tp := strings.TrimSpace(taskPrompt); tp != "" {
		user.WriteString("Task:\n")
		// a marker inside the task would be read as the separator
		user.WriteString(strings.ReplaceAll(tp, essayMarker, "Essay: \n"))
		user.WriteString(taskSeparator)
	} else {
		user.WriteString(essayMarker)
	}
	user.WriteString(strings.TrimSpace(essay))

	return []domain.Message{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

// essayMarker starts the essay in the user message; taskSeparator follows a task.
const (
	essayMarker   = "Essay:\n"
	taskSeparator = "\n\n" + essayMarker
)

// EssayFrom recovers the essay from a conversation built by Build. It returns
// the last user message unchanged when the marker is absent.
func EssayFrom(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != domain.RoleUser {
			continue
		}
		c := msgs[i].Content
		if strings.HasPrefix(c, essayMarker) {
			return c[len(essayMarker):]
		}
		if j := strings.Index(c, taskSeparator); j >= 0 {
			return c[j+len(taskSeparator):]
		}
		return c
	}
	return ""
}
