package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/identitykit/identitykit/internal/idgen"
)

// SecondFactorRef records the second factor a refresh token was minted
// behind, so refreshed ID tokens keep their second-factor claims.
type SecondFactorRef struct {
	Identifier string `json:"identifier"`
	Provider   string `json:"provider"`
}

// RefreshTokenRecord is the server-side state behind one opaque refresh
// token.
type RefreshTokenRecord struct {
	LocalID      string           `json:"localId"`
	Provider     string           `json:"provider"`
	ExtraClaims  map[string]any   `json:"extraClaims,omitempty"`
	ProjectID    string           `json:"projectId"`
	TenantID     string           `json:"tenantId,omitempty"`
	SecondFactor *SecondFactorRef `json:"secondFactor,omitempty"`
}

// RefreshStore persists refresh token records. Tokens are opaque random
// strings; a per-user set tracks them so deleting a user can revoke every
// token referencing it.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
	gen    *idgen.Generator
}

// NewRefreshStore builds a store on redisClient. An empty prefix defaults
// to "ik".
func NewRefreshStore(redisClient redis.UniversalClient, prefix string, gen *idgen.Generator) *RefreshStore {
	if prefix == "" {
		prefix = "ik"
	}
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &RefreshStore{redis: redisClient, prefix: prefix, gen: gen}
}

func (s *RefreshStore) key(scope Scope, token string) string {
	return scopeKey(s.prefix, "rt", scope) + ":" + token
}

func (s *RefreshStore) userKey(scope Scope, localID string) string {
	return scopeKey(s.prefix, "rt-user", scope) + ":" + localID
}

// Create mints an opaque token for record and indexes it under the record's
// user.
func (s *RefreshStore) Create(ctx context.Context, scope Scope, record *RefreshTokenRecord) (string, error) {
	token, err := s.gen.Base64URLString(96)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(scope, token), encoded, 0)
		pipe.SAdd(ctx, s.userKey(scope, record.LocalID), token)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// Get returns the record behind token. Refresh tokens stay valid across
// uses; invalidation happens through DeleteForUser.
func (s *RefreshStore) Get(ctx context.Context, scope Scope, token string) (*RefreshTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(scope, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var record RefreshTokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteForUser removes every token minted for localID.
func (s *RefreshStore) DeleteForUser(ctx context.Context, scope Scope, localID string) error {
	userKey := s.userKey(scope, localID)
	tokens, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range tokens {
			pipe.Del(ctx, s.key(scope, token))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
