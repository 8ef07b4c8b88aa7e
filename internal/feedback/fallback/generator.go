package fallback

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/markup"
	"github.com/fairyhunter13/ielts-writing-coach/pkg/textx"
)

// maxAnalysedSentences caps the generated line-by-line analysis.
const maxAnalysedSentences = 12

// Generator builds placeholder sections from the original essay.
type Generator struct {
	Enhancer Enhancer
}

// NewGenerator returns a Generator; a nil enhancer selects a clock-seeded SynonymEnhancer.
func NewGenerator(e Enhancer) *Generator {
	if e == nil {
		e = NewSynonymEnhancer(nil)
	}
	return &Generator{Enhancer: e}
}

// Explanation describes the band score in general terms.
func (g *Generator) Explanation(score, essay string) string {
	band, err := strconv.ParseFloat(score, 64)
	if err != nil {
		band = 6
	}
	var summary string
	switch {
	case band >= 8:
		summary = "The essay demonstrates a very high level of control. Ideas are fully developed, cohesion is seamless and the vocabulary is wide and precise, with only rare slips."
	case band >= 7:
		summary = "The essay addresses the task well with a clear position. Paragraphing is logical and a good range of vocabulary and complex structures is used, although some imprecision remains."
	case band >= 6:
		summary = "The essay addresses the task and presents a relevant position, but some ideas are insufficiently developed. Cohesive devices are used, though sometimes mechanically, and errors in grammar and word choice occasionally reduce clarity."
	case band >= 5:
		summary = "The essay only partially addresses the task. The position is not always clear, ideas lack support, and frequent grammatical and lexical errors cause some difficulty for the reader."
	default:
		summary = "The essay does not adequately address the task. Ideas are limited and poorly organised, and pervasive errors make the meaning difficult to follow."
	}
	words := textx.WordCount(essay)
	lengthNote := fmt.Sprintf("The response contains %d words.", words)
	if words < MinBand9Words {
		lengthNote += fmt.Sprintf(" Task 2 responses should contain at least %d words, which affects Task Response.", MinBand9Words)
	}
	return fmt.Sprintf("Estimated band %s. %s %s", formatBand(band), summary, lengthNote)
}

var sentenceComments = []string{
	"Check subject-verb agreement and make sure the tense matches the rest of the paragraph.",
	"Consider a more precise academic word instead of general vocabulary here.",
	"This idea would be stronger with a specific example or supporting evidence.",
	"Use a linking phrase to connect this sentence more clearly to the previous one.",
	"The sentence structure is simple; try combining it with a subordinate clause.",
	"Review article usage and punctuation in this sentence.",
}

// LineByLine comments on each sentence of the essay.
func (g *Generator) LineByLine(essay string) string {
	sentences := textx.Sentences(essay)
	if len(sentences) == 0 {
		return "No sentences could be analysed individually. Write complete sentences that each express one clear idea, link them with appropriate cohesive devices, and support every main point with an explanation or example."
	}
	var b strings.Builder
	for i, s := range sentences {
		if i == maxAnalysedSentences {
			fmt.Fprintf(&b, "\n...and %d more sentences. Apply the same checks to the remaining sentences.", len(sentences)-i)
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Line %d: \"%s\"\n- %s", i+1, textx.Truncate(s, 160), sentenceComments[i%len(sentenceComments)])
	}
	return b.String()
}

type replacement struct {
	re  *regexp.Regexp
	new string
}

// informal phrases rewritten as {new|old} tokens in the improved text.
var replacements = []replacement{
	{regexp.MustCompile(`(?i)\ba lot of\b`), "a great deal of"},
	{regexp.MustCompile(`(?i)\blots of\b`), "numerous"},
	{regexp.MustCompile(`(?i)\bkids\b`), "children"},
	{regexp.MustCompile(`(?i)\bdon't\b`), "do not"},
	{regexp.MustCompile(`(?i)\bcan't\b`), "cannot"},
	{regexp.MustCompile(`(?i)\bwon't\b`), "will not"},
	{regexp.MustCompile(`(?i)\bisn't\b`), "is not"},
	{regexp.MustCompile(`(?i)\bit's\b`), "it is"},
	{regexp.MustCompile(`(?i)\bthings\b`), "aspects"},
	{regexp.MustCompile(`(?i)\bvery\b`), "extremely"},
	{regexp.MustCompile(`(?i)\bbig\b`), "significant"},
	{regexp.MustCompile(`(?i)\bgood\b`), "beneficial"},
	{regexp.MustCompile(`(?i)\bbad\b`), "harmful"},
}

const improvementTail = "\n\nSuggestions: [+Begin with a clear thesis statement that answers the question directly.+] [+Use one main idea per body paragraph, supported by an example.+] [+End with a conclusion that restates your position without introducing new ideas.+]"

// Improved annotates the essay with replacement suggestions.
func (g *Generator) Improved(essay string) string {
	text := strings.TrimSpace(essay)
	if text == "" {
		return "No text was available to annotate." + improvementTail
	}
	for _, r := range replacements {
		text = r.re.ReplaceAllStringFunc(text, func(old string) string {
			return "{" + matchCase(old, r.new) + "|" + old + "}"
		})
	}
	return text + improvementTail
}

// Band9 rewrites the essay into a pseudo band 9 version.
func (g *Generator) Band9(essay string) string {
	return g.Enhancer.Enhance(essay)
}

// MarkedErrors lists the mistake annotations of an improved text.
func (g *Generator) MarkedErrors(improved string) string {
	notes := markup.Mistakes(improved)
	if len(notes) == 0 {
		return "No individual errors were marked. See the line-by-line analysis for detailed comments."
	}
	var b strings.Builder
	for i, n := range notes {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, n.ErrorType, n.Explanation)
	}
	return b.String()
}

// CannedAnalysis produces a complete reply in the prompt's section layout,
// used when no provider can answer.
func (g *Generator) CannedAnalysis(essay, defaultScore string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Score**\n%s\n\n", defaultScore)
	fmt.Fprintf(&b, "**Explanation**\nAutomated scoring is temporarily unavailable, so this is a provisional estimate. %s\n\n", g.Explanation(defaultScore, essay))
	fmt.Fprintf(&b, "**Line-by-Line Analysis**\n%s\n\n", g.LineByLine(essay))
	fmt.Fprintf(&b, "**Improved with Suggestions**\n%s\n\n", g.Improved(essay))
	fmt.Fprintf(&b, "**Band 9 Version**\n%s\n", g.Band9(essay))
	return b.String()
}

func formatBand(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
