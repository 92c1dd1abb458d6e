package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// RedisStore keeps challenges in Redis so several engine replicas can serve
// the same session. Keys carry a TTL well past the response window; the
// durable record of every challenge outcome lives in the audit trail, not
// here.
type RedisStore struct {
	client *redis.Client
	// retention bounds how long answered/expired challenges stay readable.
	retention time.Duration
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retention: 15 * time.Minute}
}

func challengeKey(id domain.ChallengeID) string {
	return "vigil:challenge:" + id.String()
}

func pendingKey(sessionID domain.SessionID) string {
	return "vigil:challenge:pending:" + sessionID.String()
}

func (s *RedisStore) Put(ctx context.Context, ch Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, challengeKey(ch.ID), payload, s.retention)
	if ch.Status == StatusPending {
		pipe.Set(ctx, pendingKey(ch.SessionID), ch.ID.String(), s.retention)
	} else {
		// Only clear the pointer if it still names this challenge; a newer
		// pending challenge must not be clobbered.
		current, err := s.client.Get(ctx, pendingKey(ch.SessionID)).Result()
		if err == nil && current == ch.ID.String() {
			pipe.Del(ctx, pendingKey(ch.SessionID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id domain.ChallengeID) (Challenge, error) {
	payload, err := s.client.Get(ctx, challengeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("get challenge: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal(payload, &ch); err != nil {
		return Challenge{}, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return ch, nil
}

func (s *RedisStore) Pending(ctx context.Context, sessionID domain.SessionID) (Challenge, error) {
	raw, err := s.client.Get(ctx, pendingKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("get pending pointer: %w", err)
	}
	id, err := domain.ParseChallengeID(raw)
	if err != nil {
		return Challenge{}, fmt.Errorf("corrupt pending pointer: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) ClearPending(ctx context.Context, sessionID domain.SessionID) error {
	if err := s.client.Del(ctx, pendingKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear pending pointer: %w", err)
	}
	return nil
}
