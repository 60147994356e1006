package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/identitykit/identitykit/internal/idgen"
)

// TemporaryProofRecord lets a caller retry phone sign-in without redoing
// code verification, typically after a phone-number collision. Proofs never
// expire; the advertised expiry is informational only.
type TemporaryProofRecord struct {
	PhoneNumber             string `json:"phoneNumber"`
	TemporaryProof          string `json:"temporaryProof"`
	TemporaryProofExpiresIn string `json:"temporaryProofExpiresIn"`
}

// ProofStore persists temporary proofs keyed by the proof string.
type ProofStore struct {
	redis  redis.UniversalClient
	prefix string
	gen    *idgen.Generator
}

// NewProofStore builds a store on redisClient. An empty prefix defaults to
// "ik".
func NewProofStore(redisClient redis.UniversalClient, prefix string, gen *idgen.Generator) *ProofStore {
	if prefix == "" {
		prefix = "ik"
	}
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &ProofStore{redis: redisClient, prefix: prefix, gen: gen}
}

func (s *ProofStore) key(scope Scope, proof string) string {
	return scopeKey(s.prefix, "proof", scope) + ":" + proof
}

// Create mints a new proof bound to phoneNumber.
func (s *ProofStore) Create(ctx context.Context, scope Scope, phoneNumber string) (*TemporaryProofRecord, error) {
	proof, err := s.gen.Base64URLString(119)
	if err != nil {
		return nil, err
	}
	record := &TemporaryProofRecord{
		PhoneNumber:             phoneNumber,
		TemporaryProof:          proof,
		TemporaryProofExpiresIn: "3600",
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, s.key(scope, proof), encoded, 0).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return record, nil
}

// Validate returns the record when proof exists and is bound to phoneNumber.
// Proofs are reusable and are not consumed here.
func (s *ProofStore) Validate(ctx context.Context, scope Scope, proof, phoneNumber string) (*TemporaryProofRecord, error) {
	data, err := s.redis.Get(ctx, s.key(scope, proof)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var record TemporaryProofRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if record.PhoneNumber != phoneNumber {
		return nil, ErrNotFound
	}
	return &record, nil
}
