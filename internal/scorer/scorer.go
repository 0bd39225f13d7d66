// Package scorer selects the best text reading among noisy OCR
// candidates for one crop. Scoring is a pure function of the candidates
// and the crop geometry; it holds no state across calls.
package scorer

import (
	"math"
	"strings"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
)

// Signal caps. Each independent signal contributes at most this many
// points to a candidate's score.
const (
	maxConfidencePts = 40 // OCR engine confidence
	maxAreaPts       = 30 // relative text size within the crop
	maxCentralityPts = 15 // how centered the text is
	maxLengthPts     = 15 // proximity to expected plate length
	maxPatternPts    = 20 // format grammar match
	maxBalancePts    = 10 // alpha/numeric composition
)

// Result is the selected reading for one crop.
type Result struct {
	Text       string  // normalized winning text, possibly glyph-corrected
	Confidence float64 // the winner's OCR confidence
	Score      float64 // total weighted score, for diagnostics
	Corrected  bool    // whether glyph-confusion correction was applied
}

// Engine scores text candidates against a configurable plate grammar
// and exclusion set.
type Engine struct {
	patterns   []string
	exclusions map[string]struct{}
	minLen     int
	maxLen     int
}

// New builds an Engine from scoring configuration. Patterns use L for
// letter, N for digit, and literal spaces (e.g. "LLL NNNN"). Exclusions
// are decorative/dealer strings that are never a plate identity.
func New(cfg config.ScoringConfig) *Engine {
	e := &Engine{
		exclusions: make(map[string]struct{}, len(cfg.Exclusions)),
	}
	for _, p := range cfg.Patterns {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		e.patterns = append(e.patterns, p)
		n := len(strings.ReplaceAll(p, " ", ""))
		if e.minLen == 0 || n < e.minLen {
			e.minLen = n
		}
		if n > e.maxLen {
			e.maxLen = n
		}
	}
	if e.minLen == 0 {
		e.minLen, e.maxLen = 5, 8
	}
	for _, x := range cfg.Exclusions {
		e.exclusions[Normalize(x)] = struct{}{}
	}
	return e
}

// SelectBest scores the candidates and returns the winner, or false if
// nothing acceptable remains. Candidates matching the exclusion set are
// discarded before scoring: decorative text is categorically not the
// object's identity, so it is filtered, never merely down-weighted.
func (e *Engine) SelectBest(candidates []model.TextCandidate, crop model.Rect) (Result, bool) {
	var (
		best      model.TextCandidate
		bestNorm  string
		bestScore float64
		found     bool
	)

	for _, c := range candidates {
		norm := Normalize(c.Text)
		if norm == "" {
			continue
		}
		if _, excluded := e.exclusions[norm]; excluded {
			continue
		}

		score := e.score(c, norm, crop)
		if !found || score > bestScore || (score == bestScore && tieBreak(c, best)) {
			best = c
			bestNorm = norm
			bestScore = score
			found = true
		}
	}

	if !found {
		return Result{}, false
	}

	res := Result{
		Text:       bestNorm,
		Confidence: best.Confidence,
		Score:      bestScore,
	}

	// Glyph-confusion correction is applied only to the winner, and only
	// when the corrected string newly satisfies the grammar. Correcting
	// losers could reorder candidates on fabricated evidence.
	if !e.matchesAnyPattern(bestNorm) {
		if corrected, ok := e.correct(bestNorm); ok {
			res.Text = corrected
			res.Corrected = true
		}
	}

	return res, true
}

// score computes the weighted sum of the capped signals.
func (e *Engine) score(c model.TextCandidate, norm string, crop model.Rect) float64 {
	score := clamp01(c.Confidence) * maxConfidencePts

	// Larger text is preferred: contextual text near a plate (frames,
	// slogans) is typically smaller than the plate characters.
	score += math.Min(c.RelArea*2, 1) * maxAreaPts

	score += e.centrality(c.Region, crop) * maxCentralityPts
	score += e.lengthProximity(len(norm)) * maxLengthPts

	if e.matchesAnyPattern(norm) {
		score += maxPatternPts
	}

	score += composition(norm) * maxBalancePts

	return score
}

// centrality returns 1 at the crop center, decaying to 0 at the corner.
func (e *Engine) centrality(region, crop model.Rect) float64 {
	cw, ch := float64(crop.Width()), float64(crop.Height())
	if cw <= 0 || ch <= 0 {
		return 0
	}
	rx, ry := region.Center()
	cx, cy := crop.Center()
	dx := (rx - cx) / cw
	dy := (ry - cy) / ch
	dist := math.Hypot(dx, dy)   // 0 at center, ~0.707 at corner
	return math.Max(0, 1-dist/0.5)
}

// lengthProximity returns 1 inside the expected length range, decaying
// by 0.25 per character outside it.
func (e *Engine) lengthProximity(n int) float64 {
	var off int
	switch {
	case n < e.minLen:
		off = e.minLen - n
	case n > e.maxLen:
		off = n - e.maxLen
	default:
		return 1
	}
	return math.Max(0, 1-0.25*float64(off))
}

// matchesAnyPattern reports whether the normalized text satisfies any
// configured grammar pattern (spaces in patterns are ignored; OCR
// engines split tokens inconsistently).
func (e *Engine) matchesAnyPattern(norm string) bool {
	for _, p := range e.patterns {
		if matchesPattern(norm, strings.ReplaceAll(p, " ", "")) {
			return true
		}
	}
	return false
}

func matchesPattern(text, pattern string) bool {
	if len(text) != len(pattern) {
		return false
	}
	for i := 0; i < len(text); i++ {
		switch pattern[i] {
		case 'L':
			if text[i] < 'A' || text[i] > 'Z' {
				return false
			}
		case 'N':
			if text[i] < '0' || text[i] > '9' {
				return false
			}
		default:
			if text[i] != pattern[i] {
				return false
			}
		}
	}
	return true
}

// composition rewards a balanced mix of letters and digits; a string of
// only one class earns nothing.
func composition(norm string) float64 {
	var letters, digits int
	for i := 0; i < len(norm); i++ {
		switch {
		case norm[i] >= 'A' && norm[i] <= 'Z':
			letters++
		case norm[i] >= '0' && norm[i] <= '9':
			digits++
		}
	}
	if letters == 0 || digits == 0 {
		return 0
	}
	return 2 * float64(min(letters, digits)) / float64(letters+digits)
}

// tieBreak deterministically prefers a over b on equal scores: the
// earlier region in reading order (smaller origin Y, then X), then the
// lexicographically smaller text. Recognizer output order never decides.
func tieBreak(a, b model.TextCandidate) bool {
	if a.Region.Y1 != b.Region.Y1 {
		return a.Region.Y1 < b.Region.Y1
	}
	if a.Region.X1 != b.Region.X1 {
		return a.Region.X1 < b.Region.X1
	}
	return a.Text < b.Text
}

// Normalize uppercases and strips everything but letters and digits.
// Exclusion matching and grammar checks both operate on this form.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(text) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
