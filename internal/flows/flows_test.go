package flows

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/idgen"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
)

func newTestEnv(t *testing.T) (*Service, *store.ProjectState) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	gen := idgen.New(nil)
	svc := NewService(Options{
		Oob:     codes.NewOobStore(client, "", gen),
		Phone:   codes.NewPhoneStore(client, "", gen),
		Proofs:  codes.NewProofStore(client, "", gen),
		Refresh: codes.NewRefreshStore(client, "", gen),
		Gen:     gen,
		Metrics: metrics.New(true, false),
	})
	return svc, store.NewProjectState("demo-project", gen)
}

// createPasswordUser signs up an email/password account and returns the
// response with its tokens.
func createPasswordUser(t *testing.T, svc *Service, realm store.Realm, email, password string) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), realm, SignUpRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("SignUp(%s): %v", email, err)
	}
	return resp
}

// latestPhoneCode fetches the SMS code behind sessionInfo.
func latestPhoneCode(t *testing.T, svc *Service, realm store.Realm, sessionInfo string) string {
	t.Helper()
	records, err := svc.phone.List(context.Background(), scopeOf(realm))
	if err != nil {
		t.Fatalf("phone.List: %v", err)
	}
	for _, r := range records {
		if r.SessionInfo == sessionInfo {
			return r.Code
		}
	}
	t.Fatalf("no verification code for session %q", sessionInfo)
	return ""
}
