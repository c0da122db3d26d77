// Package fuzzy folds track titles and artist names into comparable forms and scores how well
// two track descriptions match.
package fuzzy

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*\b(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?`)
	decorationRegex = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*\b(?:official|lyrics?|audio|video|visuali[sz]er|remaster(?:ed)?|hd|4k)\b[^\)\]]*[\)\]]`)
	artistSepRegex  = regexp.MustCompile(`(?i)\s*(?:,|&|\band\b|\bx\b|\bwith\b)\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

const (
	// durationExact is the drift under which two durations count as the same recording.
	durationExact = 3 * time.Second
	// durationCutoff is the drift at which two durations stop contributing to a match.
	durationCutoff = 30 * time.Second

	titleWeight    = 0.6
	artistWeight   = 0.25
	durationWeight = 0.15
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Fold lowercases text, strips diacritics and punctuation and collapses whitespace.
func (n *Normalizer) Fold(text string) string {
	decomposed := norm.NFKD.String(text)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if !unicode.IsMark(r) {
			b.WriteRune(r)
		}
	}

	folded := punctRegex.ReplaceAllString(b.String(), " ")
	folded = whitespaceRegex.ReplaceAllString(folded, " ")
	return strings.TrimSpace(strings.ToLower(folded))
}

// NormalizeArtist folds every credited artist and joins them in credit order.
// "Simon & Garfunkel" and "simon, garfunkel" normalize identically.
func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = featRegex.ReplaceAllString(artist, "")

	parts := artistSepRegex.Split(artist, -1)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if folded := n.Fold(p); folded != "" {
			names = append(names, folded)
		}
	}
	return strings.Join(names, " ")
}

// NormalizeTitle drops featured-artist credits and upload decorations such as
// "(Official Video)" before folding.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = featRegex.ReplaceAllString(title, "")
	title = decorationRegex.ReplaceAllString(title, "")
	return n.Fold(title)
}

// CompositeKey identifies a song by normalized artist and title.
func (n *Normalizer) CompositeKey(artist, title string) string {
	return n.NormalizeArtist(artist) + "-" + n.NormalizeTitle(title)
}

// CalculateSimilarity returns the longest common subsequence of a and b relative to the longer
// string, in [0, 1].
func (n *Normalizer) CalculateSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	return float64(lcsLength(ra, rb)) / float64(max(len(ra), len(rb)))
}

// lcsLength keeps a single row of the dynamic programming table.
func lcsLength(a, b []rune) int {
	row := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		diag := 0
		for j := 1; j <= len(b); j++ {
			above := row[j]
			if a[i-1] == b[j-1] {
				row[j] = diag + 1
			} else {
				row[j] = max(row[j], row[j-1])
			}
			diag = above
		}
	}
	return row[len(b)]
}

// DurationTolerance scores how close two durations are: 1 within a few seconds, falling
// linearly to 0 at thirty seconds apart.
func (n *Normalizer) DurationTolerance(d1, d2 time.Duration) float64 {
	diff := d1 - d2
	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff <= durationExact:
		return 1.0
	case diff >= durationCutoff:
		return 0.0
	default:
		return 1.0 - float64(diff-durationExact)/float64(durationCutoff-durationExact)
	}
}

// MatchScore combines title, artist and duration closeness into one ranking score.
// A zero duration on either side is treated as unknown and scores neutrally.
func (n *Normalizer) MatchScore(wantTitle, wantArtist string, wantDuration time.Duration,
	title, artist string, duration time.Duration) float64 {
	score := titleWeight*n.CalculateSimilarity(n.NormalizeTitle(wantTitle), n.NormalizeTitle(title)) +
		artistWeight*n.CalculateSimilarity(n.NormalizeArtist(wantArtist), n.NormalizeArtist(artist))

	if wantDuration <= 0 || duration <= 0 {
		return score + durationWeight*0.5
	}
	return score + durationWeight*n.DurationTolerance(wantDuration, duration)
}
