// Package search implements the Pattern Searcher (C8): text/regex/glob
// matching with context lines, inverted match, a regex-complexity guard,
// and a bounded compiled-pattern cache.
package search

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opslane/shellsup/src/shellerr"
)

// Mode selects how a pattern is interpreted.
type Mode string

const (
	ModeText  Mode = "text"
	ModeRegex Mode = "regex"
	ModeGlob  Mode = "glob"
)

// MaxPatternLen is the maximum accepted pattern length.
const MaxPatternLen = 1000

// maxComplexity is the regex-complexity score above which a pattern is
// rejected at validation time.
const maxComplexity = 100

// cacheCapacity bounds the compiled-pattern LRU.
const cacheCapacity = 100

// Options configures a single match call.
type Options struct {
	CaseSensitive bool
	Invert        bool
}

// Match is a single hit returned by Match.
type Match struct {
	MatchedText   string   `json:"matchedText"`
	StartIndex    int      `json:"startIndex"`
	EndIndex      int      `json:"endIndex"`
	CaptureGroups []string `json:"captureGroups,omitempty"`
}

// ContextMatch bundles a match with its surrounding lines.
type ContextMatch struct {
	Match  Match    `json:"match"`
	Before []string `json:"before"`
	After  []string `json:"after"`
}

type cacheKey struct {
	pattern       string
	caseSensitive bool
	mode          Mode
}

// Searcher holds the compiled-pattern cache shared across matches.
type Searcher struct {
	cache *lru.Cache[cacheKey, *regexp.Regexp]
}

// New constructs a Searcher with an empty compiled-pattern cache.
func New() *Searcher {
	cache, _ := lru.New[cacheKey, *regexp.Regexp](cacheCapacity)
	return &Searcher{cache: cache}
}

// Validate rejects empty, overlong, or (for regex) overly complex patterns,
// without compiling or running them.
func Validate(pattern string, mode Mode) error {
	if pattern == "" {
		return shellerr.Invalidf("pattern must not be empty")
	}
	if len(pattern) > MaxPatternLen {
		return shellerr.Invalidf("pattern exceeds max length %d", MaxPatternLen)
	}
	if mode == ModeRegex {
		if score := complexityScore(pattern); score > maxComplexity {
			return shellerr.Invalidf("pattern complexity score %d exceeds limit %d", score, maxComplexity)
		}
	}
	return nil
}

// complexityScore approximates the cost of evaluating a regex, per
// SPEC_FULL.md §4.8: base length plus penalties for known catastrophic-
// backtracking shapes.
func complexityScore(pattern string) int {
	score := len(pattern)

	score += runQuantifierWeight(pattern)

	if countCharClasses(pattern) >= 3 {
		score += 20
	}
	if countCaptureGroups(pattern) >= 5 {
		score += 20
	}
	for _, unbounded := range []string{`\d*`, `\s*`, `\w*`} {
		score += 20 * strings.Count(pattern, unbounded)
	}
	if hasLargeQuantifier(pattern) {
		score += 20
	}
	if hasNestedQuantifiers(pattern) {
		score += 50
	}

	return score
}

// repeatedDotQuantifier matches a run of two or more consecutive ".*"/".+"
// style unbounded-quantifier tokens, e.g. the whole of ".*.*.*.*".
var repeatedDotQuantifier = regexp.MustCompile(`(?:\.[*+]){2,}`)

// runQuantifierWeight penalizes a run by its unit count rather than by
// counting overlapping pairwise substrings, so a single long run like
// ".*.*.*.*" (4 units) is weighted as heavily as 3 repeated catastrophic
// joins, not as 2 non-overlapping ".*.*" substrings.
func runQuantifierWeight(pattern string) int {
	score := 0
	for _, run := range repeatedDotQuantifier.FindAllString(pattern, -1) {
		units := len(run) / 2
		score += 40 * (units - 1)
	}
	return score
}

func countCharClasses(pattern string) int {
	count := 0
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '[' && (i == 0 || pattern[i-1] != '\\') {
			count++
		}
	}
	return count
}

func countCaptureGroups(pattern string) int {
	count := 0
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '(' && (i == 0 || pattern[i-1] != '\\') {
			if i+1 < len(pattern) && pattern[i+1] == '?' {
				continue // non-capturing or lookaround
			}
			count++
		}
	}
	return count
}

var unboundedQuantifier = regexp.MustCompile(`\{(\d+),\}`)

func hasLargeQuantifier(pattern string) bool {
	for _, m := range unboundedQuantifier.FindAllStringSubmatch(pattern, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n >= 10 {
			return true
		}
	}
	return strings.Contains(pattern, "{1000,}")
}

var nestedQuantifier = regexp.MustCompile(`\([^()]*[+*][^()]*\)[+*]`)

func hasNestedQuantifiers(pattern string) bool {
	return nestedQuantifier.MatchString(pattern)
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end == -1 {
				b.WriteString(regexp.QuoteMeta(string(c)))
				continue
			}
			class := glob[i : i+end+1]
			if strings.HasPrefix(class, "[!") {
				class = "[^" + class[2:]
			}
			b.WriteString(class)
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func (s *Searcher) compile(pattern string, mode Mode, caseSensitive bool) (*regexp.Regexp, error) {
	key := cacheKey{pattern: pattern, caseSensitive: caseSensitive, mode: mode}
	if re, ok := s.cache.Get(key); ok {
		return re, nil
	}

	var exprSrc string
	switch mode {
	case ModeGlob:
		exprSrc = globToRegex(pattern)
	case ModeRegex:
		exprSrc = pattern
	default:
		exprSrc = regexp.QuoteMeta(pattern)
	}
	if !caseSensitive {
		exprSrc = "(?i)" + exprSrc
	}

	re, err := regexp.Compile(exprSrc)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, re)
	return re, nil
}

// Match tests line against pattern under mode/opts, returning the first hit
// or nil if there is none (or, with Invert, the inverse of that outcome).
func (s *Searcher) Match(line, pattern string, mode Mode, opts Options) (*Match, error) {
	if mode == "" {
		mode = ModeText
	}
	if err := Validate(pattern, mode); err != nil {
		return nil, err
	}

	if mode == ModeText {
		haystack, needle := line, pattern
		if !opts.CaseSensitive {
			haystack, needle = strings.ToLower(line), strings.ToLower(pattern)
		}
		idx := strings.Index(haystack, needle)
		found := idx != -1
		if opts.Invert {
			if found {
				return nil, nil
			}
			return &Match{}, nil
		}
		if !found {
			return nil, nil
		}
		return &Match{MatchedText: line[idx : idx+len(pattern)], StartIndex: idx, EndIndex: idx + len(pattern)}, nil
	}

	re, err := s.compile(pattern, mode, opts.CaseSensitive)
	if err != nil {
		return nil, shellerr.Invalidf("invalid pattern: %v", err)
	}

	loc := re.FindStringSubmatchIndex(line)
	found := loc != nil
	if opts.Invert {
		if found {
			return nil, nil
		}
		return &Match{}, nil
	}
	if !found {
		return nil, nil
	}

	m := &Match{
		MatchedText: line[loc[0]:loc[1]],
		StartIndex:  loc[0],
		EndIndex:    loc[1],
	}
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] == -1 {
			m.CaptureGroups = append(m.CaptureGroups, "")
			continue
		}
		m.CaptureGroups = append(m.CaptureGroups, line[loc[i]:loc[i+1]])
	}
	return m, nil
}

// MatchMany runs Match over lines, short-circuiting once maxMatches hits
// are found (0 means unbounded).
func (s *Searcher) MatchMany(lines []string, pattern string, mode Mode, opts Options, maxMatches int) ([]Match, error) {
	var out []Match
	for _, line := range lines {
		m, err := s.Match(line, pattern, mode, opts)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		out = append(out, *m)
		if maxMatches > 0 && len(out) >= maxMatches {
			break
		}
	}
	return out, nil
}

// MatchWithContext returns every match in lines bundled with its
// surrounding context, clipped to the slice's bounds.
func (s *Searcher) MatchWithContext(lines []string, pattern string, mode Mode, opts Options, contextLines int) ([]ContextMatch, error) {
	var out []ContextMatch
	for i, line := range lines {
		m, err := s.Match(line, pattern, mode, opts)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
		out = append(out, ContextMatch{
			Match:  *m,
			Before: append([]string(nil), lines[start:i]...),
			After:  append([]string(nil), lines[i+1:end+1]...),
		})
	}
	return out, nil
}
