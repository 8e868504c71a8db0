package matcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultProcedureTerms lists procedure phrases commonly written in notes.
func DefaultProcedureTerms() []string {
	return []string{
		"laparoscopic cholecystectomy",
		"cholecystectomy",
		"intraoperative cholangiography",
		"cholangiography",
		"critical care",
		"colonoscopy",
		"cataract extraction",
		"cataract removal",
		"intraocular lens placement",
		"lens insertion",
		"cardiopulmonary resuscitation",
		"CPR",
		"breast reduction surgery",
		"breast reduction",
		"bronchoscopy",
		"lung biopsy",
		"epidural steroid injection",
		"epidural injection",
		"joint aspiration",
		"synovial fluid analysis",
	}
}

// LexiconExtractor finds known procedure terms in a note. Matching ignores case;
// the returned phrases are the spans as written in the note, in text order.
// Overlapping hits keep the longest term.
type LexiconExtractor struct {
	terms []string
}

// NewLexiconExtractor compiles the term list. Duplicate and blank terms are dropped.
func NewLexiconExtractor(terms []string) *LexiconExtractor {
	seen := make(map[string]struct{}, len(terms))
	compiled := make([]string, 0, len(terms))
	for _, t := range terms {
		key := normalizeKey(t)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		compiled = append(compiled, key)
	}
	// Longer terms claim their span first.
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i]) > len(compiled[j])
	})
	return &LexiconExtractor{terms: compiled}
}

// LoadLexicon reads one term per line. Blank lines and lines starting with '#' are skipped.
func LoadLexicon(path string) (*LexiconExtractor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()
	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return NewLexiconExtractor(terms), nil
}

// Terms returns the compiled, lower-cased terms.
func (l *LexiconExtractor) Terms() []string {
	return append([]string(nil), l.terms...)
}

type span struct {
	start, end int
}

// Extract never fails unless ctx is done.
func (l *LexiconExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(l.terms) == 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	lower, offsets := foldWithOffsets(text)
	var hits []span
	for _, term := range l.terms {
		boundary := useWordBoundary(term)
		start := 0
		for start < len(lower) {
			idx := strings.Index(lower[start:], term)
			if idx < 0 {
				break
			}
			idx += start
			end := idx + len(term)
			start = end
			if boundary && !isWordAt(lower, idx, end) {
				continue
			}
			s := span{start: offsets[idx], end: offsets[end]}
			if overlapsAny(hits, s) {
				continue
			}
			hits = append(hits, s)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, text[h.start:h.end])
	}
	return out, nil
}

// foldWithOffsets folds text the way terms are keyed: NFKC, lower case and
// whitespace runs collapsed to one space. offsets maps every byte position of
// the folded string (plus its end) to the matching position in text.
func foldWithOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)
	inSpace := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				offsets = append(offsets, i)
			}
			inSpace = true
			continue
		}
		inSpace = false
		for _, nr := range norm.NFKC.String(string(r)) {
			lr := unicode.ToLower(nr)
			n := utf8.RuneLen(lr)
			if n < 0 {
				lr, n = utf8.RuneError, 3
			}
			for k := 0; k < n; k++ {
				offsets = append(offsets, i)
			}
			b.WriteRune(lr)
		}
	}
	offsets = append(offsets, len(text))
	return b.String(), offsets
}

func overlapsAny(spans []span, s span) bool {
	for _, h := range spans {
		if s.start < h.end && h.start < s.end {
			return true
		}
	}
	return false
}

// useWordBoundary reports whether kw is plain ASCII, where substring hits
// inside longer words should be rejected.
func useWordBoundary(kw string) bool {
	if kw == "" {
		return false
	}
	for _, r := range kw {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isWordAt(text string, start, end int) bool {
	var before rune
	if start > 0 {
		before, _ = utf8.DecodeLastRuneInString(text[:start])
	}
	var after rune
	if end < len(text) {
		after, _ = utf8.DecodeRuneInString(text[end:])
	}
	return !isAlphaNumRune(before) && !isAlphaNumRune(after)
}

func isAlphaNumRune(r rune) bool {
	if r == 0 || r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
