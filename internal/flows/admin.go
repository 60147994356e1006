package flows

import (
	"context"

	"github.com/identitykit/identitykit/internal/store"
)

// OobCodeView is the debug listing shape for a pending out-of-band code.
type OobCodeView struct {
	Email       string `json:"email,omitempty"`
	RequestType string `json:"requestType,omitempty"`
	OobCode     string `json:"oobCode,omitempty"`
	OobLink     string `json:"oobLink,omitempty"`
}

// ListOobCodesResponse enumerates pending out-of-band codes for debugging.
type ListOobCodesResponse struct {
	OobCodes []OobCodeView `json:"oobCodes"`
}

// ListOobCodes returns every live out-of-band code in the realm.
func (s *Service) ListOobCodes(ctx context.Context, realm store.Realm) (*ListOobCodesResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	records, err := s.oob.List(ctx, scopeOf(realm))
	if err != nil {
		return nil, err
	}
	resp := &ListOobCodesResponse{OobCodes: make([]OobCodeView, 0, len(records))}
	for _, r := range records {
		resp.OobCodes = append(resp.OobCodes, OobCodeView{
			Email:       r.Email,
			RequestType: r.RequestType,
			OobCode:     r.OobCode,
			OobLink:     r.OobLink,
		})
	}
	return resp, nil
}

// VerificationCodeView is the debug listing shape for a pending SMS code.
type VerificationCodeView struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	SessionInfo string `json:"sessionInfo,omitempty"`
	Code        string `json:"code,omitempty"`
}

// ListVerificationCodesResponse enumerates pending SMS codes for debugging.
type ListVerificationCodesResponse struct {
	VerificationCodes []VerificationCodeView `json:"verificationCodes"`
}

// ListVerificationCodes returns every live phone verification code in the
// realm, including codes created for second factor challenges.
func (s *Service) ListVerificationCodes(ctx context.Context, realm store.Realm) (*ListVerificationCodesResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	records, err := s.phone.List(ctx, scopeOf(realm))
	if err != nil {
		return nil, err
	}
	resp := &ListVerificationCodesResponse{VerificationCodes: make([]VerificationCodeView, 0, len(records))}
	for _, r := range records {
		resp.VerificationCodes = append(resp.VerificationCodes, VerificationCodeView{
			PhoneNumber: r.PhoneNumber,
			SessionInfo: r.SessionInfo,
			Code:        r.Code,
		})
	}
	return resp, nil
}

// DeleteAllAccounts removes every user in the realm without firing
// lifecycle events. Pending refresh tokens for the realm are left to
// expire; lookups against them fail since the users are gone.
func (s *Service) DeleteAllAccounts(ctx context.Context, realm store.Realm) error {
	if err := checkRealm(realm); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	realm.DeleteAllAccounts()
	return nil
}
