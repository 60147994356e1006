package codes

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

var testScope = Scope{ProjectID: "demo-project"}

func TestOobCreateConsumeOnce(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewOobStore(rdb, "", nil)
	ctx := context.Background()

	record, err := s.Create(ctx, testScope, "a@example.com", OobRequestPasswordReset, func(code string) string {
		return "http://localhost/action?oobCode=" + code
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.OobCode == "" || record.OobLink == "http://localhost/action?oobCode=" {
		t.Fatalf("bad record %+v", record)
	}

	got, err := s.Consume(ctx, testScope, record.OobCode)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.Email != "a@example.com" || got.RequestType != OobRequestPasswordReset {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := s.Consume(ctx, testScope, record.OobCode); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second consume should fail with ErrNotFound, got %v", err)
	}
}

func TestOobListAndScopeIsolation(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewOobStore(rdb, "", nil)
	ctx := context.Background()
	link := func(code string) string { return "u/" + code }

	if _, err := s.Create(ctx, testScope, "a@example.com", OobRequestVerifyEmail, link); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, testScope, "b@example.com", OobRequestEmailSignIn, link); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := Scope{ProjectID: "demo-project", TenantID: "tenant-a"}
	if _, err := s.Create(ctx, other, "c@example.com", OobRequestEmailSignIn, link); err != nil {
		t.Fatalf("Create: %v", err)
	}

	records, err := s.List(ctx, testScope)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	records, err = s.List(ctx, other)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Email != "c@example.com" {
		t.Fatalf("tenant scope leaked: %+v", records)
	}
}

func TestPhoneConsumeSemantics(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewPhoneStore(rdb, "", nil)
	ctx := context.Background()

	record, err := s.Create(ctx, testScope, "+15551230001")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(record.Code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", record.Code)
	}

	// Wrong code leaves the session alive.
	if _, err := s.Consume(ctx, testScope, record.SessionInfo, "000000x"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}

	phone, err := s.Consume(ctx, testScope, record.SessionInfo, record.Code)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if phone != "+15551230001" {
		t.Fatalf("unexpected phone %q", phone)
	}

	if _, err := s.Consume(ctx, testScope, record.SessionInfo, record.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
}

func TestProofValidate(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewProofStore(rdb, "", nil)
	ctx := context.Background()

	record, err := s.Create(ctx, testScope, "+15551230001")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Validate(ctx, testScope, record.TemporaryProof, "+15551230001"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// Proofs are bound to their phone number.
	if _, err := s.Validate(ctx, testScope, record.TemporaryProof, "+15559990000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong phone, got %v", err)
	}
	// Proofs are reusable.
	if _, err := s.Validate(ctx, testScope, record.TemporaryProof, "+15551230001"); err != nil {
		t.Fatalf("second Validate: %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewRefreshStore(rdb, "", nil)
	ctx := context.Background()

	token, err := s.Create(ctx, testScope, &RefreshTokenRecord{
		LocalID:   "user1",
		Provider:  "password",
		ProjectID: "demo-project",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	record, err := s.Get(ctx, testScope, token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.LocalID != "user1" || record.Provider != "password" {
		t.Fatalf("unexpected record %+v", record)
	}

	token2, err := s.Create(ctx, testScope, &RefreshTokenRecord{
		LocalID:   "user1",
		Provider:  "google.com",
		ProjectID: "demo-project",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.DeleteForUser(ctx, testScope, "user1"); err != nil {
		t.Fatalf("DeleteForUser: %v", err)
	}
	if _, err := s.Get(ctx, testScope, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token should be revoked, got %v", err)
	}
	if _, err := s.Get(ctx, testScope, token2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second token should be revoked, got %v", err)
	}
}
