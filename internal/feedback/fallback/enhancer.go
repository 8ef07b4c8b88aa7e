// Package fallback produces placeholder feedback when a provider reply lacks
// a section. The output is heuristic: it substitutes vocabulary and pads with
// canned sentences, with no guarantee of grammaticality or meaning.
package fallback

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fairyhunter13/ielts-writing-coach/pkg/textx"
)

// MinBand9Words is the word count a generated band 9 version is padded to.
const MinBand9Words = 250

// Enhancer rewrites base text into an "enhanced" version.
type Enhancer interface {
	Enhance(text string) string
}

// synonyms maps lower-case words to higher register alternatives.
var synonyms = map[string][]string{
	"very":      {"exceptionally", "remarkably", "particularly", "extraordinarily"},
	"good":      {"exemplary", "commendable", "advantageous", "beneficial"},
	"bad":       {"detrimental", "adverse", "deleterious", "unfavourable"},
	"big":       {"substantial", "considerable", "significant"},
	"small":     {"modest", "negligible", "marginal"},
	"important": {"paramount", "crucial", "pivotal", "indispensable"},
	"think":     {"contend", "maintain", "posit"},
	"show":      {"demonstrate", "illustrate", "reveal"},
	"shows":     {"demonstrates", "illustrates", "reveals"},
	"many":      {"numerous", "countless", "a multitude of"},
	"help":      {"facilitate", "assist", "support"},
	"problem":   {"challenge", "predicament", "dilemma"},
	"problems":  {"challenges", "predicaments", "dilemmas"},
	"use":       {"utilise", "employ", "harness"},
	"get":       {"obtain", "acquire", "attain"},
	"also":      {"furthermore", "moreover", "additionally"},
	"people":    {"individuals", "citizens", "members of society"},
	"things":    {"aspects", "elements", "factors"},
	"because":   {"since", "as", "given that"},
	"change":    {"transformation", "shift", "alteration"},
	"increase":  {"escalation", "surge", "rise"},
	"hard":      {"arduous", "challenging", "demanding"},
	"easy":      {"straightforward", "effortless", "uncomplicated"},
}

// fillerSentences pad short rewrites up to MinBand9Words.
var fillerSentences = []string{
	"It is therefore evident that a nuanced approach, one which carefully weighs the competing considerations outlined above, offers the most sustainable path forward.",
	"Furthermore, policymakers and individuals alike bear a shared responsibility to ensure that the benefits of such developments are distributed equitably across society.",
	"Critics may argue that these concerns are overstated; however, a growing body of evidence suggests that their long-term implications warrant serious attention.",
	"A pertinent illustration of this phenomenon can be observed in rapidly developing nations, where traditional values and modern aspirations frequently coexist in tension.",
	"Consequently, any meaningful solution must address not only the immediate symptoms of the issue but also the underlying structural factors that perpetuate it.",
	"Moreover, education plays a pivotal role in equipping future generations with the critical thinking skills necessary to navigate an increasingly complex world.",
	"On balance, while there are legitimate arguments on both sides of this debate, the advantages of a measured and well-regulated response clearly outweigh the drawbacks.",
	"In conclusion, this issue demands a collaborative effort from governments, communities and individuals if lasting and constructive progress is to be achieved.",
}

var wordPattern = regexp.MustCompile(`[A-Za-z]+`)

// SynonymEnhancer substitutes words at random from fixed synonym tables and
// pads the result with canned sentences. Safe for concurrent use.
type SynonymEnhancer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSynonymEnhancer builds an enhancer over src; a nil src is seeded from the clock.
func NewSynonymEnhancer(src rand.Source) *SynonymEnhancer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano()) //nolint:gosec // Lexical variety only.
	}
	return &SynonymEnhancer{rnd: rand.New(src)} //nolint:gosec // Lexical variety only.
}

// Enhance implements Enhancer.
func (e *SynonymEnhancer) Enhance(text string) string {
	return enhance(text, func(choices []string) string {
		e.mu.Lock()
		defer e.mu.Unlock()
		return choices[e.rnd.Intn(len(choices))]
	})
}

// StaticEnhancer always picks the first synonym, giving reproducible output.
type StaticEnhancer struct{}

// Enhance implements Enhancer.
func (StaticEnhancer) Enhance(text string) string {
	return enhance(text, func(choices []string) string { return choices[0] })
}

func enhance(text string, pick func([]string) string) string {
	out := wordPattern.ReplaceAllStringFunc(strings.TrimSpace(text), func(w string) string {
		choices, ok := synonyms[strings.ToLower(w)]
		if !ok {
			return w
		}
		return matchCase(w, pick(choices))
	})
	return pad(out, MinBand9Words)
}

// pad appends filler sentences until text has at least minWords words.
func pad(text string, minWords int) string {
	var b strings.Builder
	b.WriteString(text)
	words := textx.WordCount(text)
	for i := 0; words < minWords; i++ {
		s := fillerSentences[i%len(fillerSentences)]
		if b.Len() > 0 {
			if i == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(s)
		words += textx.WordCount(s)
	}
	return b.String()
}

func matchCase(orig, repl string) string {
	if orig == "" || repl == "" {
		return repl
	}
	r := []rune(orig)
	if len(r) > 1 && strings.ToUpper(orig) == orig {
		return strings.ToUpper(repl)
	}
	if unicode.IsUpper(r[0]) {
		rr := []rune(repl)
		rr[0] = unicode.ToUpper(rr[0])
		return string(rr)
	}
	return repl
}
