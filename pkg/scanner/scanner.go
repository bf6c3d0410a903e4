// Package scanner implements the de-identification and re-identification
// halves of the PII pipeline: Clean replaces PII in inbound text with vault
// placeholders, Restorer substitutes placeholders back into the outbound
// token stream.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/PhillHH/chat-agent/pkg/detector"
	"github.com/PhillHH/chat-agent/pkg/vault"
)

// ErrFilterFailed is returned when the detector or scanner itself failed.
// Distinct from vault.ErrStoreUnavailable so the router can report both as
// filter-service errors while logging the cause.
var ErrFilterFailed = errors.New("scanner: filter failed")

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	// Loose international phone pattern: optional country code, optional
	// area block, then at least seven digit-ish characters.
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s\-]?)?(?:\(?\d{2,5}\)?[\s\-]?)?\d[\d\s\-]{5,}\d`)
)

// RedactionPatterns exposes the regex redaction set for property tests.
var RedactionPatterns = []*regexp.Regexp{emailPattern, phonePattern}

// entityLabels are the kinds requested from the external classifier.
var entityLabels = []string{"person", "organization", "city"}

// Store is the vault write surface the scanner needs.
type Store interface {
	Store(ctx context.Context, original, label string) (string, error)
}

// Scanner performs regex plus classifier based de-identification.
type Scanner struct {
	vault    Store
	detector detector.Detector
	minScore float64
}

// New creates a Scanner. minScore drops classifier entities below the given
// confidence (the pipeline default is 0.7).
func New(v Store, d detector.Detector, minScore float64) *Scanner {
	return &Scanner{
		vault:    v,
		detector: d,
		minScore: minScore,
	}
}

// Clean returns the text with every detected PII span replaced by a vault
// placeholder. The regex phase (email, phone) runs first with in-place
// substitution; the classifier phase then applies its spans in descending
// start order so earlier offsets stay valid. A classifier span intersecting
// a region already rewritten in the regex phase is dropped — placeholders
// are opaque and must never be nested.
func (s *Scanner) Clean(ctx context.Context, text string) (string, error) {
	text, err := s.cleanRegex(ctx, text)
	if err != nil {
		return "", err
	}

	entities, err := s.detector.Predict(ctx, text, entityLabels)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFilterFailed, err)
	}

	// Placeholder spans minted by the regex phase, in the current text.
	redacted := vault.PlaceholderPattern.FindAllStringIndex(text, -1)

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].Start > entities[j].Start
	})

	// Spans already substituted in this phase; classifiers may return
	// overlapping entities ("Müller" inside "Peter Müller") and only the
	// first applied one wins.
	var applied [][]int

	// Entity offsets refer to the text the classifier saw.
	scanned := len(text)

	for _, e := range entities {
		if e.Score < s.minScore {
			continue
		}
		if e.Start < 0 || e.End > scanned || e.Start >= e.End {
			continue
		}
		if intersectsAny(e.Start, e.End, redacted) || intersectsAny(e.Start, e.End, applied) {
			continue
		}

		placeholder, err := s.vault.Store(ctx, text[e.Start:e.End], e.Label)
		if err != nil {
			return "", err
		}
		text = text[:e.Start] + placeholder + text[e.End:]
		applied = append(applied, []int{e.Start, e.End})
	}

	return text, nil
}

func (s *Scanner) cleanRegex(ctx context.Context, text string) (string, error) {
	text, err := s.applyPattern(ctx, text, emailPattern, "EMAIL")
	if err != nil {
		return "", err
	}
	return s.applyPattern(ctx, text, phonePattern, "PHONE")
}

// applyPattern substitutes every pattern match, back to front so earlier
// offsets stay valid. A match inside an existing placeholder is skipped:
// a hex suffix can be digits-only and would otherwise be re-matched by the
// phone pattern, nesting placeholders.
func (s *Scanner) applyPattern(ctx context.Context, text string, re *regexp.Regexp, label string) (string, error) {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	redacted := vault.PlaceholderPattern.FindAllStringIndex(text, -1)

	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if intersectsAny(m[0], m[1], redacted) {
			continue
		}
		placeholder, err := s.vault.Store(ctx, text[m[0]:m[1]], label)
		if err != nil {
			return "", err
		}
		text = text[:m[0]] + placeholder + text[m[1]:]
	}
	return text, nil
}

// intersectsAny reports whether [start,end) overlaps any of the half-open
// spans. The list is short and its order is not relied on; linear scan.
func intersectsAny(start, end int, spans [][]int) bool {
	for _, sp := range spans {
		if start < sp[1] && end > sp[0] {
			return true
		}
	}
	return false
}
