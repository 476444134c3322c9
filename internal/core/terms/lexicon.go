// Package terms matches a data-driven medical lexicon against free text.
//
// A lexicon maps patterns to canonical terms. Matching is case-insensitive,
// respects word boundaries and tolerates arbitrary whitespace inside
// multi-word phrases. The matching logic holds no vocabulary of its own.
package terms

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

//go:embed default_lexicon.yaml
var defaultLexiconYAML []byte

// Entry maps one or more patterns to a canonical term.
type Entry struct {
	Term     string              `yaml:"term"`
	Category domain.TermCategory `yaml:"category"`
	Class    string              `yaml:"class,omitempty"`
	Patterns []string            `yaml:"patterns,omitempty"`
	Regex    string              `yaml:"regex,omitempty"`
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

type matcher struct {
	re    *regexp.Regexp
	entry Entry
}

type Lexicon struct {
	matchers []matcher
	classOf  map[string]string
}

var knownCategories = map[domain.TermCategory]struct{}{
	domain.TermCondition:      {},
	domain.TermDrug:           {},
	domain.TermProcedure:      {},
	domain.TermMeasurement:    {},
	domain.TermRecommendation: {},
	domain.TermDosage:         {},
	domain.TermAdministration: {},
}

func New(entries []Entry) (*Lexicon, error) {
	lex := &Lexicon{classOf: make(map[string]string)}
	for i, entry := range entries {
		entry.Term = strings.ToLower(strings.TrimSpace(entry.Term))
		entry.Class = strings.ToLower(strings.TrimSpace(entry.Class))
		if entry.Term == "" {
			return nil, fmt.Errorf("lexicon entry %d: term is required", i)
		}
		if _, ok := knownCategories[entry.Category]; !ok {
			return nil, fmt.Errorf("lexicon entry %q: unknown category %q", entry.Term, entry.Category)
		}

		patterns := entry.Patterns
		if len(patterns) == 0 && entry.Regex == "" {
			patterns = []string{entry.Term}
		}
		for _, p := range patterns {
			expr := phraseExpr(p)
			if expr == "" {
				return nil, fmt.Errorf("lexicon entry %q: empty pattern", entry.Term)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("lexicon entry %q: compile pattern %q: %w", entry.Term, p, err)
			}
			lex.matchers = append(lex.matchers, matcher{re: re, entry: entry})
		}
		if entry.Regex != "" {
			re, err := regexp.Compile("(?i)" + entry.Regex)
			if err != nil {
				return nil, fmt.Errorf("lexicon entry %q: compile regex: %w", entry.Term, err)
			}
			lex.matchers = append(lex.matchers, matcher{re: re, entry: entry})
		}
		if entry.Category == domain.TermDrug && entry.Class != "" {
			lex.classOf[entry.Term] = entry.Class
		}
	}
	return lex, nil
}

func Load(r io.Reader) (*Lexicon, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode lexicon yaml: %w", err)
	}
	return New(f.Entries)
}

func LoadFile(path string) (*Lexicon, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

var defaultLexicon = sync.OnceValues(func() (*Lexicon, error) {
	return Load(strings.NewReader(string(defaultLexiconYAML)))
})

// Default returns the embedded cardiovascular lexicon.
func Default() *Lexicon {
	lex, err := defaultLexicon()
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
	}
	return lex
}

// Match returns every hit ordered by position, longest first at equal starts.
func (l *Lexicon) Match(text string) []domain.TermMatch {
	if text == "" {
		return nil
	}
	var out []domain.TermMatch
	for _, m := range l.matchers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			out = append(out, domain.TermMatch{
				Term:     m.entry.Term,
				Category: m.entry.Category,
				Class:    m.entry.Class,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		if out[i].End != out[j].End {
			return out[i].End > out[j].End
		}
		return out[i].Term < out[j].Term
	})
	return dedupeMatches(out)
}

// Extract returns the sorted set of canonical terms found in text.
func (l *Lexicon) Extract(text string) []string {
	matches := l.Match(text)
	if len(matches) == 0 {
		return []string{}
	}
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m.Term] = struct{}{}
	}
	return SortedSet(set)
}

// Canonical returns the first term of the given category found in text.
func (l *Lexicon) Canonical(text string, category domain.TermCategory) (string, bool) {
	for _, m := range l.Match(text) {
		if m.Category == category {
			return m.Term, true
		}
	}
	return "", false
}

// ClassOf returns the drug class of a canonical drug term, or "".
func (l *Lexicon) ClassOf(drug string) string {
	return l.classOf[strings.ToLower(strings.TrimSpace(drug))]
}

// DrugClasses returns a copy of the drug to class mapping.
func (l *Lexicon) DrugClasses() map[string]string {
	out := make(map[string]string, len(l.classOf))
	for k, v := range l.classOf {
		out[k] = v
	}
	return out
}

func SortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeMatches(in []domain.TermMatch) []domain.TermMatch {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, m := range in[1:] {
		last := out[len(out)-1]
		if m.Term == last.Term && m.Start == last.Start {
			continue
		}
		out = append(out, m)
	}
	return out
}

// phraseExpr turns a literal phrase into a case-insensitive, whitespace-tolerant
// regular expression anchored on word boundaries where the phrase edges are word characters.
func phraseExpr(phrase string) string {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)

	first, _ := utf8.DecodeRuneInString(words[0])
	last, _ := utf8.DecodeLastRuneInString(words[len(words)-1])
	if isWordRune(first) {
		expr = `\b` + expr
	}
	if isWordRune(last) {
		expr += `\b`
	}
	return "(?i)" + expr
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
