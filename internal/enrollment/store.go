package enrollment

import (
	"context"
	"time"

	"vigil/pkg/domain"
)

// Record holds one candidate's enrolled biometrics. Both modality
// embeddings are replaced together on re-enrollment; a partial update
// would let a face embedding from one extractor version be fused with a
// voice embedding from another.
type Record struct {
	IdentityID     domain.IdentityID
	FaceEmbedding  []float64
	VoiceEmbedding []float64
	// VoicePhrase is the reference phrase spoken at enrollment time.
	VoicePhrase string
	EnrolledAt  time.Time
}

// Store persists enrollment records. Put always replaces the whole record.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id domain.IdentityID) (Record, error)
}
