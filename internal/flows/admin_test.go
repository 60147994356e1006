package flows

import (
	"context"
	"testing"

	"github.com/identitykit/identitykit/internal/codes"
)

func TestListOobCodes(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	createPasswordUser(t, svc, realm, "list@example.com", "hunter22")
	if _, err := svc.SendOobCode(ctx, realm, SendOobCodeRequest{
		RequestType: codes.OobRequestPasswordReset,
		Email:       "list@example.com",
	}); err != nil {
		t.Fatalf("SendOobCode: %v", err)
	}

	resp, err := svc.ListOobCodes(ctx, realm)
	if err != nil {
		t.Fatalf("ListOobCodes: %v", err)
	}
	if len(resp.OobCodes) != 1 {
		t.Fatalf("oobCodes = %+v", resp.OobCodes)
	}
	code := resp.OobCodes[0]
	if code.Email != "list@example.com" || code.RequestType != codes.OobRequestPasswordReset {
		t.Errorf("code = %+v", code)
	}
	if code.OobCode == "" || code.OobLink == "" {
		t.Errorf("code fields missing: %+v", code)
	}
}

func TestListVerificationCodes(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	sent, err := svc.SendVerificationCode(ctx, realm, SendVerificationCodeRequest{PhoneNumber: "+15555550400"})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}

	resp, err := svc.ListVerificationCodes(ctx, realm)
	if err != nil {
		t.Fatalf("ListVerificationCodes: %v", err)
	}
	if len(resp.VerificationCodes) != 1 {
		t.Fatalf("verificationCodes = %+v", resp.VerificationCodes)
	}
	record := resp.VerificationCodes[0]
	if record.PhoneNumber != "+15555550400" || record.SessionInfo != sent.SessionInfo || record.Code == "" {
		t.Errorf("record = %+v", record)
	}
}

func TestDeleteAllAccounts(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	createPasswordUser(t, svc, realm, "wipe1@example.com", "hunter22")
	createPasswordUser(t, svc, realm, "wipe2@example.com", "hunter22")
	if realm.UserCount() != 2 {
		t.Fatalf("setup count = %d", realm.UserCount())
	}

	if err := svc.DeleteAllAccounts(ctx, realm); err != nil {
		t.Fatalf("DeleteAllAccounts: %v", err)
	}
	if realm.UserCount() != 0 {
		t.Errorf("count after wipe = %d", realm.UserCount())
	}
	if realm.UserByEmail("wipe1@example.com") != nil {
		t.Error("email index should be empty")
	}
}
