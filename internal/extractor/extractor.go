package extractor

import (
	"context"
)

// Extractor is the boundary to the external embedding models. An
// implementation maps raw sensor bytes to a fixed-length vector or fails
// with sentinel.ErrExtractionFailed (no usable signal in the input) or
// sentinel.ErrTransport (the model service could not be reached). The two
// failures are distinct on purpose: the first says something about the
// candidate, the second says nothing at all.
type Extractor interface {
	ExtractFace(ctx context.Context, imageBytes []byte) ([]float64, error)
	ExtractVoice(ctx context.Context, audioBytes []byte) ([]float64, error)
}
