package biometric

import (
	"fmt"
	"math"
)

// Matcher compares a live embedding against a stored one and produces a
// normalized similarity in [0,1]. The score is derived from cosine
// similarity, so it is deterministic and monotonically decreasing in the
// angular distance between the vectors. The embedding geometry itself
// belongs to the external extractor models; the rest of the system depends
// only on this contract.
//
// Extraction failures never reach Match: a caller that could not obtain a
// live embedding resolves the cycle to an inconclusive outcome instead of
// scoring it, because "no signal" must not look like "wrong person".
type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match returns the similarity between the two embeddings.
func (m *Matcher) Match(live, stored []float64) (float64, error) {
	if len(live) == 0 || len(stored) == 0 {
		return 0, fmt.Errorf("%w: empty embedding", ErrInvariant)
	}
	if len(live) != len(stored) {
		// Dimension mismatch means the enrollment predates a model change;
		// re-enrollment is required, comparing would be meaningless.
		return 0, fmt.Errorf("%w: embedding dimensions differ (%d vs %d)", ErrInvariant, len(live), len(stored))
	}

	var dot, normLive, normStored float64
	for i := range live {
		dot += live[i] * stored[i]
		normLive += live[i] * live[i]
		normStored += stored[i] * stored[i]
	}
	if normLive == 0 || normStored == 0 {
		return 0, fmt.Errorf("%w: zero-norm embedding", ErrInvariant)
	}

	cos := dot / (math.Sqrt(normLive) * math.Sqrt(normStored))
	// Float rounding can push cosine a hair outside [-1,1].
	cos = math.Max(-1, math.Min(1, cos))

	// Map [-1,1] to [0,1]: identical direction scores 1, opposite scores 0.
	return (cos + 1) / 2, nil
}
