// Package feedback turns free-form provider replies into structured essay
// feedback. Missing or short sections are regenerated locally so callers
// always receive a complete result.
package feedback

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/fallback"
	"github.com/fairyhunter13/ielts-writing-coach/pkg/textx"
)

// Minimum section lengths in characters; shorter sections are regenerated.
const (
	MinExplanationLen = 50
	MinLineByLineLen  = 100
	MinImprovedLen    = 100
	MinBand9Len       = 200
)

// maxHeaderLen keeps bold phrases inside prose from being taken as headers.
const maxHeaderLen = 80

// Section names used in reports and metrics.
const (
	SectionScore       = "score"
	SectionExplanation = "explanation"
	SectionLineByLine  = "line_by_line"
	SectionImproved    = "improved"
	SectionBand9       = "band9"
)

// Sections holds the raw text of each recognised section.
type Sections struct {
	ScoreHeader string
	Score       string
	Explanation string
	LineByLine  string
	Improved    string
	Band9       string
	found       map[string]bool
}

// Found reports whether a header for the named section was present.
func (s Sections) Found(name string) bool { return s.found[name] }

// Report lists the sections that had to be synthesised.
type Report struct {
	Synthesized []string
}

var (
	markdownHeading = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*(.+?)[ \t#]*$`)
	boldHeader      = regexp.MustCompile(`(?m)^[ \t]*\*\*([^*\n]+)\*\*`)
	decimal         = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ExtractSections assigns the text following each known header to its
// section. A header is bold text opening a line whose wording names a
// section; other bold text, inline or not, stays in the content. The first
// header in document order wins for each section.
func ExtractSections(raw string) Sections {
	text := markdownHeading.ReplaceAllStringFunc(raw, func(line string) string {
		m := markdownHeading.FindStringSubmatch(line)
		return "**" + strings.Trim(m[1], "* ") + "**"
	})

	type header struct {
		name, text string
		start, end int
	}
	var headers []header
	for _, m := range boldHeader.FindAllStringSubmatchIndex(text, -1) {
		h := strings.TrimSpace(text[m[2]:m[3]])
		if h == "" || utf8.RuneCountInString(h) > maxHeaderLen {
			continue
		}
		if name := classify(h); name != "" {
			headers = append(headers, header{name: name, text: h, start: m[0], end: m[1]})
		}
	}

	s := Sections{found: map[string]bool{}}
	for i, h := range headers {
		if s.found[h.name] {
			continue
		}
		s.found[h.name] = true
		stop := len(text)
		if i+1 < len(headers) {
			stop = headers[i+1].start
		}
		content := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text[h.end:stop]), ":"))
		switch h.name {
		case SectionScore:
			s.ScoreHeader = h.text
			s.Score = content
		case SectionExplanation:
			s.Explanation = content
		case SectionLineByLine:
			s.LineByLine = content
		case SectionImproved:
			s.Improved = content
		case SectionBand9:
			s.Band9 = content
		}
	}
	return s
}

func classify(header string) string {
	h := strings.ToLower(strings.TrimRight(header, ": "))
	switch {
	case strings.Contains(h, "band 9"), strings.Contains(h, "band-9"), strings.Contains(h, "masterpiece"):
		return SectionBand9
	case strings.Contains(h, "line-by-line"), strings.Contains(h, "line by line"):
		return SectionLineByLine
	case strings.Contains(h, "improved"), strings.Contains(h, "suggestion"):
		return SectionImproved
	case strings.Contains(h, "explanation"):
		return SectionExplanation
	case strings.Contains(h, "score"):
		return SectionScore
	}
	return ""
}

// ExtractScore returns the band score of the sections, formatted with one
// decimal and rounded to the nearest half band, or the default score.
func ExtractScore(s Sections) (string, bool) {
	for _, src := range []string{s.Score, s.ScoreHeader} {
		m := decimal.FindString(src)
		if m == "" {
			continue
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil || v < 0 || v > 9 {
			return domain.DefaultScore, false
		}
		return strconv.FormatFloat(math.Round(v*2)/2, 'f', 1, 64), true
	}
	return domain.DefaultScore, false
}

// Parser converts provider replies into ParsedFeedback.
type Parser struct {
	gen *fallback.Generator
}

// NewParser returns a Parser whose fallbacks come from gen.
func NewParser(gen *fallback.Generator) *Parser {
	if gen == nil {
		gen = fallback.NewGenerator(nil)
	}
	return &Parser{gen: gen}
}

// Sections exposes the section boundaries Parse works from.
func (p *Parser) Sections(raw string) Sections { return ExtractSections(raw) }

// Parse extracts feedback from raw. It never fails and never returns an
// empty field.
func (p *Parser) Parse(raw, essay string) domain.ParsedFeedback {
	fb, _ := p.ParseWithReport(raw, essay)
	return fb
}

// ParseWithReport is Parse that also reports which sections were synthesised.
func (p *Parser) ParseWithReport(raw, essay string) (domain.ParsedFeedback, Report) {
	s := ExtractSections(raw)
	var rep Report

	score, ok := ExtractScore(s)
	if !ok {
		rep.Synthesized = append(rep.Synthesized, SectionScore)
	}
	fb := domain.ParsedFeedback{Score: score}

	fb.Explanation = s.Explanation
	if tooShort(fb.Explanation, MinExplanationLen) {
		fb.Explanation = p.gen.Explanation(score, essay)
		rep.Synthesized = append(rep.Synthesized, SectionExplanation)
	}
	fb.LineByLineAnalysis = s.LineByLine
	if tooShort(fb.LineByLineAnalysis, MinLineByLineLen) {
		fb.LineByLineAnalysis = p.gen.LineByLine(essay)
		rep.Synthesized = append(rep.Synthesized, SectionLineByLine)
	}
	fb.ImprovedText = s.Improved
	if tooShort(fb.ImprovedText, MinImprovedLen) {
		fb.ImprovedText = p.gen.Improved(essay)
		rep.Synthesized = append(rep.Synthesized, SectionImproved)
	}
	fb.Band9Version = s.Band9
	if tooShort(fb.Band9Version, MinBand9Len) || strings.Contains(strings.ToLower(fb.Band9Version), "not available") {
		fb.Band9Version = p.gen.Band9(essay)
		rep.Synthesized = append(rep.Synthesized, SectionBand9)
	}
	fb.MarkedErrors = p.gen.MarkedErrors(fb.ImprovedText)
	fb.WordCount = textx.WordCount(fb.Band9Version)
	return fb, rep
}

func tooShort(s string, n int) bool { return utf8.RuneCountInString(strings.TrimSpace(s)) < n }
