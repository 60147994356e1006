package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/identitykit/identitykit/internal/idgen"
)

// PhoneVerificationRecord is one pending SMS-style verification session.
type PhoneVerificationRecord struct {
	SessionInfo string `json:"sessionInfo"`
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

// PhoneStore persists phone verification sessions keyed by session info.
type PhoneStore struct {
	redis  redis.UniversalClient
	prefix string
	gen    *idgen.Generator
}

// NewPhoneStore builds a store on redisClient. An empty prefix defaults to
// "ik".
func NewPhoneStore(redisClient redis.UniversalClient, prefix string, gen *idgen.Generator) *PhoneStore {
	if prefix == "" {
		prefix = "ik"
	}
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &PhoneStore{redis: redisClient, prefix: prefix, gen: gen}
}

func (s *PhoneStore) key(scope Scope, sessionInfo string) string {
	return scopeKey(s.prefix, "phone", scope) + ":" + sessionInfo
}

func (s *PhoneStore) indexKey(scope Scope) string {
	return scopeKey(s.prefix, "phone-ls", scope)
}

// Create starts a verification session for phoneNumber with a six digit
// code.
func (s *PhoneStore) Create(ctx context.Context, scope Scope, phoneNumber string) (*PhoneVerificationRecord, error) {
	sessionInfo, err := s.gen.Base64URLString(226)
	if err != nil {
		return nil, err
	}
	code, err := s.gen.Digits(6)
	if err != nil {
		return nil, err
	}
	record := &PhoneVerificationRecord{
		SessionInfo: sessionInfo,
		PhoneNumber: phoneNumber,
		Code:        code,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(scope, sessionInfo), encoded, 0)
		pipe.SAdd(ctx, s.indexKey(scope), sessionInfo)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return record, nil
}

// Consume checks code against the session and removes the session on match.
// A mismatched code leaves the session in place for another attempt.
func (s *PhoneStore) Consume(ctx context.Context, scope Scope, sessionInfo, code string) (string, error) {
	const maxRetries = 4
	key := s.key(scope, sessionInfo)

	for i := 0; i < maxRetries; i++ {
		var phoneNumber string
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var record PhoneVerificationRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if record.Code != code {
				return ErrCodeMismatch
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.indexKey(scope), sessionInfo)
				return nil
			})
			if err != nil {
				return err
			}
			phoneNumber = record.PhoneNumber
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return "", ErrNotFound
			case errors.Is(err, ErrCodeMismatch):
				return "", err
			default:
				return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return phoneNumber, nil
	}
	return "", ErrNotFound
}

// List returns every live verification session in the scope.
func (s *PhoneStore) List(ctx context.Context, scope Scope) ([]*PhoneVerificationRecord, error) {
	sessions, err := s.redis.SMembers(ctx, s.indexKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	records := make([]*PhoneVerificationRecord, 0, len(sessions))
	for _, sessionInfo := range sessions {
		data, err := s.redis.Get(ctx, s.key(scope, sessionInfo)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var record PhoneVerificationRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, nil
}
