package memory

import (
	"math"
	"strings"
)

// tokensPerWord is the fixed words-to-tokens ratio. Exactness does not
// matter for the budget check: the estimate only has to be a monotonic
// affine function of text length so the trigger point stays stable.
const tokensPerWord = 1.3

// Estimate returns the estimated token cost of text. Deterministic,
// pure, and safe for empty or arbitrarily long input; returns 0 for
// the empty string.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * tokensPerWord))
}

// EstimateTurn returns the token cost of a full turn, user and agent
// text combined.
func EstimateTurn(t Turn) int {
	return Estimate(t.UserText) + Estimate(t.AgentText)
}
