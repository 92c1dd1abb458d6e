package enrollment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// PostgresStore persists enrollments. Embeddings are stored as JSON arrays;
// they are opaque to SQL and only ever read back whole.
//
// Schema:
//
//	CREATE TABLE enrollments (
//	    identity_id     UUID PRIMARY KEY,
//	    face_embedding  JSONB NOT NULL,
//	    voice_embedding JSONB NOT NULL,
//	    voice_phrase    TEXT NOT NULL,
//	    enrolled_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put replaces the whole record; the upsert keeps both modalities in one
// statement so a re-enrollment can never leave them from different versions.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	face, err := json.Marshal(rec.FaceEmbedding)
	if err != nil {
		return fmt.Errorf("marshal face embedding: %w", err)
	}
	voice, err := json.Marshal(rec.VoiceEmbedding)
	if err != nil {
		return fmt.Errorf("marshal voice embedding: %w", err)
	}

	query := `
		INSERT INTO enrollments (identity_id, face_embedding, voice_embedding, voice_phrase, enrolled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_id) DO UPDATE SET
			face_embedding = EXCLUDED.face_embedding,
			voice_embedding = EXCLUDED.voice_embedding,
			voice_phrase = EXCLUDED.voice_phrase,
			enrolled_at = EXCLUDED.enrolled_at
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(rec.IdentityID), face, voice, rec.VoicePhrase, rec.EnrolledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.IdentityID) (Record, error) {
	query := `
		SELECT face_embedding, voice_embedding, voice_phrase, enrolled_at
		FROM enrollments
		WHERE identity_id = $1
	`
	var (
		face, voice []byte
		rec         = Record{IdentityID: id}
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(id)).
		Scan(&face, &voice, &rec.VoicePhrase, &rec.EnrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query enrollment: %w", err)
	}
	if err := json.Unmarshal(face, &rec.FaceEmbedding); err != nil {
		return Record{}, fmt.Errorf("unmarshal face embedding: %w", err)
	}
	if err := json.Unmarshal(voice, &rec.VoiceEmbedding); err != nil {
		return Record{}, fmt.Errorf("unmarshal voice embedding: %w", err)
	}
	return rec, nil
}
