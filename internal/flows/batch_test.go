package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/identitykit/identitykit/internal/apierr"
)

func TestBatchCreateImport(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	resp, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{
			{
				LocalID:       "import-1",
				Email:         "One@Example.com",
				EmailVerified: true,
				RawPassword:   "hunter22",
				DisplayName:   "One",
			},
			{
				LocalID:      "import-2",
				Email:        "two@example.com",
				PasswordHash: "fakeHash:salt=abc:password=hunter22",
				Salt:         "abc",
			},
			{
				LocalID:     "import-3",
				PhoneNumber: "+15555550200",
			},
		},
	})
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}
	if len(resp.Error) != 0 {
		t.Fatalf("unexpected entry errors: %+v", resp.Error)
	}

	one := realm.UserByLocalID("import-1")
	if one == nil || one.Email != "one@example.com" || !one.EmailVerified {
		t.Errorf("import-1 = %+v", one)
	}
	if one.PasswordHash == "" || one.Salt == "" {
		t.Error("rawPassword was not hashed")
	}
	two := realm.UserByLocalID("import-2")
	if two == nil || two.PasswordHash != "fakeHash:salt=abc:password=hunter22" {
		t.Errorf("import-2 hash not stored verbatim: %+v", two)
	}
	if realm.UserByPhoneNumber("+15555550200") == nil {
		t.Error("import-3 phone not indexed")
	}

	// The hashed import signs in with the raw password.
	if _, err := svc.SignInWithPassword(ctx, realm, SignInWithPasswordRequest{
		Email:    "one@example.com",
		Password: "hunter22",
	}); err != nil {
		t.Errorf("imported account sign-in: %v", err)
	}
}

func TestBatchCreatePerEntryErrors(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	createPasswordUser(t, svc, realm, "taken@example.com", "hunter22")

	resp, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{
			{LocalID: "", Email: "nolocal@example.com"},
			{LocalID: "bad-email", Email: "not-an-email"},
			{LocalID: "ok-entry", Email: "fresh@example.com"},
			{LocalID: "bad-phone", PhoneNumber: "12345"},
		},
	})
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}
	if len(resp.Error) != 3 {
		t.Fatalf("errors = %+v", resp.Error)
	}
	byIndex := map[int]string{}
	for _, e := range resp.Error {
		byIndex[e.Index] = e.Message
	}
	if !strings.Contains(byIndex[0], "localId is missing") {
		t.Errorf("index 0: %q", byIndex[0])
	}
	if !strings.Contains(byIndex[1], "email is invalid") {
		t.Errorf("index 1: %q", byIndex[1])
	}
	if !strings.Contains(byIndex[3], "phone number format is invalid") {
		t.Errorf("index 3: %q", byIndex[3])
	}
	if realm.UserByLocalID("ok-entry") == nil {
		t.Error("valid entry should still import")
	}
}

func TestBatchCreateSanityCheckAndOverwrite(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	if _, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		SanityCheck: true,
		Users: []ImportUserInput{
			{LocalID: "a", Email: "dup@example.com"},
			{LocalID: "b", Email: "dup@example.com"},
		},
	}); err == nil || !strings.Contains(err.Error(), "DUPLICATE_EMAIL") {
		t.Errorf("duplicate email err = %v", err)
	}

	if _, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{
			{LocalID: "same"},
			{LocalID: "same"},
		},
	}); err == nil || !strings.Contains(err.Error(), "DUPLICATE_LOCAL_ID") {
		t.Errorf("duplicate localId err = %v", err)
	}

	if _, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{}); !errors.Is(err, apierr.ErrMissingUserAccount) {
		t.Errorf("empty upload err = %v", err)
	}

	// Re-importing an existing localId fails unless allowOverwrite is set.
	first, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{{LocalID: "keeper", DisplayName: "v1"}},
	})
	if err != nil || len(first.Error) != 0 {
		t.Fatalf("first import: %v %+v", err, first)
	}
	second, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{{LocalID: "keeper", DisplayName: "v2"}},
	})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if len(second.Error) != 1 || !strings.Contains(second.Error[0].Message, "can not overwrite") {
		t.Fatalf("overwrite guard = %+v", second.Error)
	}
	third, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		AllowOverwrite: true,
		Users:          []ImportUserInput{{LocalID: "keeper", DisplayName: "v2"}},
	})
	if err != nil || len(third.Error) != 0 {
		t.Fatalf("overwrite import: %v %+v", err, third)
	}
	if user := realm.UserByLocalID("keeper"); user.DisplayName != "v2" {
		t.Errorf("overwrite did not apply: %+v", user)
	}
}

func TestBatchGetPaging(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	var users []ImportUserInput
	for i := 0; i < 5; i++ {
		users = append(users, ImportUserInput{LocalID: fmt.Sprintf("user-%d", i)})
	}
	if _, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{Users: users}); err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}

	var got []string
	token := ""
	for {
		page, err := svc.BatchGet(ctx, realm, BatchGetRequest{MaxResults: 2, NextPageToken: token})
		if err != nil {
			t.Fatalf("BatchGet: %v", err)
		}
		for _, u := range page.Users {
			got = append(got, u.LocalID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(got) != 5 {
		t.Fatalf("paged users = %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("not sorted by localId: %v", got)
		}
	}

	// A negative maxResults downloads everything at once.
	all, err := svc.BatchGet(ctx, realm, BatchGetRequest{MaxResults: -1})
	if err != nil {
		t.Fatalf("BatchGet all: %v", err)
	}
	if len(all.Users) != 5 || all.NextPageToken != "" {
		t.Errorf("full download = %d users, token %q", len(all.Users), all.NextPageToken)
	}
}

func TestBatchDelete(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	if _, err := svc.BatchCreate(ctx, realm, BatchCreateRequest{
		Users: []ImportUserInput{
			{LocalID: "enabled-1"},
			{LocalID: "disabled-1", Disabled: true},
		},
	}); err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}

	resp, err := svc.BatchDelete(ctx, realm, BatchDeleteRequest{
		LocalIDs: []string{"enabled-1", "disabled-1", "no-such-id"},
	})
	if err != nil {
		t.Fatalf("BatchDelete: %v", err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].LocalID != "enabled-1" || !strings.Contains(resp.Errors[0].Message, "NOT_DISABLED") {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if realm.UserByLocalID("disabled-1") != nil {
		t.Error("disabled account should be deleted")
	}
	if realm.UserByLocalID("enabled-1") == nil {
		t.Error("enabled account should survive without force")
	}

	forced, err := svc.BatchDelete(ctx, realm, BatchDeleteRequest{
		LocalIDs: []string{"enabled-1"},
		Force:    true,
	})
	if err != nil || len(forced.Errors) != 0 {
		t.Fatalf("forced delete: %v %+v", err, forced)
	}
	if realm.UserByLocalID("enabled-1") != nil {
		t.Error("force should delete enabled accounts")
	}

	if _, err := svc.BatchDelete(ctx, realm, BatchDeleteRequest{}); !errors.Is(err, apierr.ErrLocalIDListExceedsLimit) {
		t.Errorf("empty list err = %v", err)
	}
}

func TestQueryAccounts(t *testing.T) {
	svc, ps := newTestEnv(t)
	realm := ps.Agent()
	ctx := context.Background()

	createPasswordUser(t, svc, realm, "q1@example.com", "hunter22")
	createPasswordUser(t, svc, realm, "q2@example.com", "hunter22")

	resp, err := svc.QueryAccounts(ctx, realm, QueryAccountsRequest{})
	if err != nil {
		t.Fatalf("QueryAccounts: %v", err)
	}
	if resp.RecordsCount != "2" || len(resp.UserInfo) != 2 {
		t.Errorf("response = %+v", resp)
	}

	countOnly := false
	counted, err := svc.QueryAccounts(ctx, realm, QueryAccountsRequest{ReturnUserInfo: &countOnly})
	if err != nil {
		t.Fatalf("count only: %v", err)
	}
	if counted.RecordsCount != "2" || counted.UserInfo != nil {
		t.Errorf("count-only response = %+v", counted)
	}

	if _, err := svc.QueryAccounts(ctx, realm, QueryAccountsRequest{
		Expression: []map[string]any{{"email": "x"}},
	}); err == nil || !strings.Contains(err.Error(), "NOT_IMPLEMENTED") {
		t.Errorf("expression err = %v", err)
	}
}
