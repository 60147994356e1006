package store

import "time"

// Provider ids with special handling in the index layer.
const (
	ProviderPassword   = "password"
	ProviderPhone      = "phone"
	ProviderAnonymous  = "anonymous"
	ProviderCustom     = "custom"
	ProviderGameCenter = "gc.apple.com"
)

// ProviderUserInfo describes one linked credential on a user.
type ProviderUserInfo struct {
	ProviderID  string `json:"providerId"`
	RawID       string `json:"rawId"`
	FederatedID string `json:"federatedId,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	ScreenName  string `json:"screenName,omitempty"`
}

// MfaEnrollment is one enrolled second factor. UnobfuscatedPhoneInfo keeps the
// real number for verification; PhoneInfo is what unprivileged callers see.
type MfaEnrollment struct {
	MfaEnrollmentID       string    `json:"mfaEnrollmentId"`
	PhoneInfo             string    `json:"phoneInfo,omitempty"`
	UnobfuscatedPhoneInfo string    `json:"unobfuscatedPhoneInfo,omitempty"`
	DisplayName           string    `json:"displayName,omitempty"`
	EnrolledAt            time.Time `json:"enrolledAt,omitempty"`
}

// UserInfo is the stored account record. Times are unix milliseconds except
// ValidSince (unix seconds) and LastRefreshAt, which the API renders as
// RFC 3339.
type UserInfo struct {
	LocalID           string
	TenantID          string
	Email             string
	EmailVerified     bool
	EmailLinkSignin   bool
	InitialEmail      string
	PasswordHash      string
	Salt              string
	PasswordUpdatedAt int64
	ValidSince        int64
	PhoneNumber       string
	DisplayName       string
	PhotoURL          string
	Disabled          bool
	CustomAuth        bool
	CustomAttributes  string
	CreatedAt         int64
	LastLoginAt       int64
	LastRefreshAt     time.Time
	ProviderUserInfo  []ProviderUserInfo
	MfaInfo           []MfaEnrollment
}

// HasPassword reports whether the user can sign in with a password.
func (u *UserInfo) HasPassword() bool {
	return u.PasswordHash != ""
}

// Provider returns the linked provider info for providerID, or nil.
func (u *UserInfo) Provider(providerID string) *ProviderUserInfo {
	for i := range u.ProviderUserInfo {
		if u.ProviderUserInfo[i].ProviderID == providerID {
			return &u.ProviderUserInfo[i]
		}
	}
	return nil
}

// Enrollment returns the MFA enrollment with the given id, or nil.
func (u *UserInfo) Enrollment(enrollmentID string) *MfaEnrollment {
	for i := range u.MfaInfo {
		if u.MfaInfo[i].MfaEnrollmentID == enrollmentID {
			return &u.MfaInfo[i]
		}
	}
	return nil
}

// ProviderEmails collects the distinct emails across all linked providers.
func (u *UserInfo) ProviderEmails() map[string]struct{} {
	emails := make(map[string]struct{})
	for _, info := range u.ProviderUserInfo {
		if info.Email != "" {
			emails[info.Email] = struct{}{}
		}
	}
	return emails
}

// Clone deep-copies the record so callers can read it outside the store lock.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	cp := *u
	cp.ProviderUserInfo = append([]ProviderUserInfo(nil), u.ProviderUserInfo...)
	cp.MfaInfo = append([]MfaEnrollment(nil), u.MfaInfo...)
	return &cp
}
