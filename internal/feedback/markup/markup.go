// Package markup parses and renders the inline correction tokens embedded in
// feedback text:
//
//	[mistake]{ErrorType: explanation}  an identified error
//	[+text+]                           suggested addition
//	[~text~] or [-text-]               suggested removal
//	{new|old}                          direct replacement
package markup

import (
	"html"
	"regexp"
	"strings"
)

// Kind classifies a segment of marked-up text.
type Kind int

const (
	Plain Kind = iota
	Mistake
	Addition
	Removal
	Replacement
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Mistake:
		return "mistake"
	case Addition:
		return "addition"
	case Removal:
		return "removal"
	case Replacement:
		return "replacement"
	default:
		return "unknown"
	}
}

// Segment is one run of text. Text holds the visible or new wording, Old the
// replaced wording, ErrorType and Explanation the mistake annotation.
type Segment struct {
	Kind        Kind
	Text        string
	Old         string
	ErrorType   string
	Explanation string
}

// Annotation is a mistake note found in the text.
type Annotation struct {
	ErrorType   string `json:"error_type"`
	Explanation string `json:"explanation"`
}

// token groups: 1 mistake body, 2 addition, 3 tilde removal, 4 dash removal, 5 new, 6 old.
var token = regexp.MustCompile(`(?s)\[mistake\]\{([^{}]*)\}|\[\+(.+?)\+\]|\[~(.+?)~\]|\[-(.+?)-\]|\{([^{}|\n]*)\|([^{}|\n]*)\}`)

// Parse splits text into plain and markup segments in document order.
func Parse(text string) []Segment {
	var out []Segment
	last := 0
	for _, m := range token.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			out = append(out, Segment{Kind: Plain, Text: text[last:m[0]]})
		}
		group := func(i int) (string, bool) {
			if m[2*i] < 0 {
				return "", false
			}
			return text[m[2*i]:m[2*i+1]], true
		}
		switch {
		case m[2] >= 0:
			body, _ := group(1)
			typ, expl := splitMistake(body)
			out = append(out, Segment{Kind: Mistake, ErrorType: typ, Explanation: expl})
		case m[4] >= 0:
			s, _ := group(2)
			out = append(out, Segment{Kind: Addition, Text: s})
		case m[6] >= 0:
			s, _ := group(3)
			out = append(out, Segment{Kind: Removal, Text: s})
		case m[8] >= 0:
			s, _ := group(4)
			out = append(out, Segment{Kind: Removal, Text: s})
		default:
			nw, _ := group(5)
			old, _ := group(6)
			out = append(out, Segment{Kind: Replacement, Text: nw, Old: old})
		}
		last = m[1]
	}
	if last < len(text) {
		out = append(out, Segment{Kind: Plain, Text: text[last:]})
	}
	return out
}

func splitMistake(body string) (string, string) {
	typ, expl, found := strings.Cut(body, ":")
	if !found {
		return "Error", strings.TrimSpace(body)
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = "Error"
	}
	return typ, strings.TrimSpace(expl)
}

// RenderHTML converts marked-up text into escaped HTML spans.
func RenderHTML(text string) string {
	var b strings.Builder
	for _, s := range Parse(text) {
		switch s.Kind {
		case Plain:
			b.WriteString(html.EscapeString(s.Text))
		case Mistake:
			b.WriteString(`<mark class="mistake" data-type="`)
			b.WriteString(html.EscapeString(s.ErrorType))
			b.WriteString(`" title="`)
			b.WriteString(html.EscapeString(s.Explanation))
			b.WriteString(`">`)
			b.WriteString(html.EscapeString(s.ErrorType))
			b.WriteString(`</mark>`)
		case Addition:
			b.WriteString(`<ins class="addition">` + html.EscapeString(s.Text) + `</ins>`)
		case Removal:
			b.WriteString(`<del class="removal">` + html.EscapeString(s.Text) + `</del>`)
		case Replacement:
			b.WriteString(`<span class="replacement"><del>` + html.EscapeString(s.Old) + `</del><ins>` + html.EscapeString(s.Text) + `</ins></span>`)
		}
	}
	return b.String()
}

var repeatedSpaces = regexp.MustCompile(`[ \t]{2,}`)

// Strip returns the text as it reads once every suggestion is accepted.
func Strip(text string) string {
	var b strings.Builder
	for _, s := range Parse(text) {
		switch s.Kind {
		case Plain, Addition, Replacement:
			b.WriteString(s.Text)
		}
	}
	return strings.TrimSpace(repeatedSpaces.ReplaceAllString(b.String(), " "))
}

// Mistakes lists the mistake annotations in document order.
func Mistakes(text string) []Annotation {
	var out []Annotation
	for _, s := range Parse(text) {
		if s.Kind == Mistake {
			out = append(out, Annotation{ErrorType: s.ErrorType, Explanation: s.Explanation})
		}
	}
	return out
}
