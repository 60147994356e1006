package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/identitykit/identitykit/internal/idgen"
)

// Oob request types.
const (
	OobRequestPasswordReset        = "PASSWORD_RESET"
	OobRequestEmailSignIn          = "EMAIL_SIGNIN"
	OobRequestVerifyEmail          = "VERIFY_EMAIL"
	OobRequestRecoverEmail         = "RECOVER_EMAIL"
	OobRequestVerifyAndChangeEmail = "VERIFY_AND_CHANGE_EMAIL"
)

// OobRecord is one pending out-of-band confirmation action.
type OobRecord struct {
	Email       string `json:"email"`
	OobCode     string `json:"oobCode"`
	OobLink     string `json:"oobLink"`
	RequestType string `json:"requestType"`
}

// OobStore persists out-of-band codes. Each scope additionally keeps a set
// of live codes so the debug listing endpoint can enumerate them.
type OobStore struct {
	redis  redis.UniversalClient
	prefix string
	gen    *idgen.Generator
}

// NewOobStore builds a store on redisClient. An empty prefix defaults to
// "ik".
func NewOobStore(redisClient redis.UniversalClient, prefix string, gen *idgen.Generator) *OobStore {
	if prefix == "" {
		prefix = "ik"
	}
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &OobStore{redis: redisClient, prefix: prefix, gen: gen}
}

func (s *OobStore) key(scope Scope, code string) string {
	return scopeKey(s.prefix, "oob", scope) + ":" + code
}

func (s *OobStore) indexKey(scope Scope) string {
	return scopeKey(s.prefix, "oob-ls", scope)
}

// Create mints a fresh oob code for email, using generateLink to render the
// click-through link embedding the code.
func (s *OobStore) Create(ctx context.Context, scope Scope, email, requestType string, generateLink func(oobCode string) string) (*OobRecord, error) {
	oobCode, err := s.gen.Base64URLString(54)
	if err != nil {
		return nil, err
	}
	record := &OobRecord{
		Email:       email,
		OobCode:     oobCode,
		OobLink:     generateLink(oobCode),
		RequestType: requestType,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(scope, oobCode), encoded, 0)
		pipe.SAdd(ctx, s.indexKey(scope), oobCode)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return record, nil
}

// Get returns the record for code without consuming it.
func (s *OobStore) Get(ctx context.Context, scope Scope, code string) (*OobRecord, error) {
	data, err := s.redis.Get(ctx, s.key(scope, code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var record OobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Consume atomically removes and returns the record for code. A second
// Consume of the same code fails with ErrNotFound.
func (s *OobStore) Consume(ctx context.Context, scope Scope, code string) (*OobRecord, error) {
	const maxRetries = 4
	key := s.key(scope, code)

	for i := 0; i < maxRetries; i++ {
		var record *OobRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var decoded OobRecord
			if err := json.Unmarshal(data, &decoded); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.indexKey(scope), code)
				return nil
			})
			if err != nil {
				return err
			}
			record = &decoded
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return record, nil
	}
	return nil, ErrNotFound
}

// Delete removes code without returning it.
func (s *OobStore) Delete(ctx context.Context, scope Scope, code string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(scope, code))
		pipe.SRem(ctx, s.indexKey(scope), code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// List returns every live record in the scope.
func (s *OobStore) List(ctx context.Context, scope Scope) ([]*OobRecord, error) {
	cds, err := s.redis.SMembers(ctx, s.indexKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	records := make([]*OobRecord, 0, len(cds))
	for _, code := range cds {
		record, err := s.Get(ctx, scope, code)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
