package goals

import (
	"regexp"
	"strings"
)

var completionPhrase = regexp.MustCompile(
	`(?i)\b(done|finished|completed|shipped|achieved|wrapped up|crossed off|accomplished)\b`)

// overlapThreshold is the share of a goal's meaningful tokens that must
// reappear in the message for a completion claim to bind to that goal.
const overlapThreshold = 0.5

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "for": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "my": {}, "of": {}, "on": {}, "the": {}, "to": {}, "with": {},
}

// DetectCompletion decides whether text claims completion of one of the
// user's active goals and, if so, which one. Ties go to the higher overlap;
// equal overlaps go to the older goal.
func DetectCompletion(text string, active []Goal) (Goal, bool) {
	if len(active) == 0 || !completionPhrase.MatchString(text) {
		return Goal{}, false
	}

	msgTokens := tokenize(text)
	var (
		best      Goal
		bestScore float64
	)
	for _, g := range active {
		goalTokens := tokenize(g.Text)
		if len(goalTokens) == 0 {
			continue
		}
		hits := 0
		for tok := range goalTokens {
			if _, ok := msgTokens[tok]; ok {
				hits++
			}
		}
		score := float64(hits) / float64(len(goalTokens))
		if score > bestScore {
			best, bestScore = g, score
		}
	}
	if bestScore < overlapThreshold {
		return Goal{}, false
	}
	return best, true
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range nonWord.Split(strings.ToLower(s), -1) {
		if len(tok) < 2 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}
