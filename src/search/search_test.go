package search

import (
	"strings"
	"testing"
)

func TestMatchTextCaseInsensitiveByDefault(t *testing.T) {
	s := New()
	m, err := s.Match("Connection ERROR from worker", "error", ModeText, Options{})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.MatchedText != "ERROR" {
		t.Fatalf("unexpected matched text %q", m.MatchedText)
	}
}

func TestMatchTextCaseSensitive(t *testing.T) {
	s := New()
	m, err := s.Match("Connection ERROR", "error", ModeText, Options{CaseSensitive: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no match under case-sensitive search, got %+v", m)
	}
}

func TestMatchInvertFlipsOutcome(t *testing.T) {
	s := New()
	m, err := s.Match("all good here", "error", ModeText, Options{Invert: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m == nil {
		t.Fatal("expected inverted match on a line without the pattern")
	}

	m2, err := s.Match("an error occurred", "error", ModeText, Options{Invert: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m2 != nil {
		t.Fatalf("expected inverted non-match on a line containing the pattern, got %+v", m2)
	}
}

func TestMatchRegexCaptureGroups(t *testing.T) {
	s := New()
	m, err := s.Match("user=alice id=42", `user=(\w+) id=(\d+)`, ModeRegex, Options{CaseSensitive: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if len(m.CaptureGroups) != 2 || m.CaptureGroups[0] != "alice" || m.CaptureGroups[1] != "42" {
		t.Fatalf("unexpected capture groups: %+v", m.CaptureGroups)
	}
}

func TestMatchGlobTranslation(t *testing.T) {
	s := New()
	m, err := s.Match("server.log.2024-01-01", "server.log.*", ModeGlob, Options{CaseSensitive: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m == nil {
		t.Fatal("expected glob pattern to match")
	}

	m2, err := s.Match("other.log.2024-01-01", "server.log.*", ModeGlob, Options{CaseSensitive: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m2 != nil {
		t.Fatalf("expected no match for a differently-prefixed name, got %+v", m2)
	}
}

func TestValidateRejectsEmptyPattern(t *testing.T) {
	if err := Validate("", ModeText); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}

func TestValidateAcceptsPatternAtMaxLen(t *testing.T) {
	pattern := strings.Repeat("a", MaxPatternLen)
	if err := Validate(pattern, ModeText); err != nil {
		t.Fatalf("expected pattern at exactly MaxPatternLen to validate, got %v", err)
	}
}

func TestValidateRejectsPatternOverMaxLen(t *testing.T) {
	pattern := strings.Repeat("a", MaxPatternLen+1)
	if err := Validate(pattern, ModeText); err == nil {
		t.Fatal("expected pattern one character over MaxPatternLen to be rejected")
	}
}

func TestValidateRejectsComplexRegex(t *testing.T) {
	if err := Validate(".*.*.*.*", ModeRegex); err == nil {
		t.Fatal("expected a catastrophic-backtracking-shaped pattern to be rejected")
	}
}

func TestValidateAcceptsSimpleRegex(t *testing.T) {
	if err := Validate(`(a+)+$`, ModeRegex); err != nil {
		t.Fatalf("expected a short pattern under the complexity limit to validate, got %v", err)
	}
}

func TestMatchManyRespectsMaxMatches(t *testing.T) {
	s := New()
	lines := []string{"error one", "fine", "error two", "error three"}
	matches, err := s.MatchMany(lines, "error", ModeText, Options{}, 2)
	if err != nil {
		t.Fatalf("matchMany: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected matchMany to stop at maxMatches=2, got %d", len(matches))
	}
}

func TestMatchWithContextClipsToBounds(t *testing.T) {
	s := New()
	lines := []string{"one", "two", "error", "four", "five"}
	results, err := s.MatchWithContext(lines, "error", ModeText, Options{}, 2)
	if err != nil {
		t.Fatalf("matchWithContext: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one context match, got %d", len(results))
	}
	if len(results[0].Before) != 2 || len(results[0].After) != 2 {
		t.Fatalf("unexpected context window: %+v", results[0])
	}
}

func TestMatchWithContextClipsAtSliceEdge(t *testing.T) {
	s := New()
	lines := []string{"error", "one", "two"}
	results, err := s.MatchWithContext(lines, "error", ModeText, Options{}, 5)
	if err != nil {
		t.Fatalf("matchWithContext: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one match, got %d", len(results))
	}
	if len(results[0].Before) != 0 {
		t.Fatalf("expected no before-context at the start of the slice, got %+v", results[0].Before)
	}
	if len(results[0].After) != 2 {
		t.Fatalf("expected after-context clipped to the remaining lines, got %+v", results[0].After)
	}
}

func TestCompiledPatternCacheReusesRegex(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		if _, err := s.Match("value-42", `\d+`, ModeRegex, Options{CaseSensitive: true}); err != nil {
			t.Fatalf("match: %v", err)
		}
	}
	if s.cache.Len() != 1 {
		t.Fatalf("expected a single cached compiled pattern, got %d", s.cache.Len())
	}
}
