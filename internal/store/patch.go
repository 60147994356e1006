package store

import "time"

// Patch describes an optional change to one field. The zero value leaves the
// field untouched; Set replaces it; Clear resets it to the zero value.
type Patch[T any] struct {
	set   bool
	clear bool
	value T
}

// Set returns a patch that writes v.
func Set[T any](v T) Patch[T] {
	return Patch[T]{set: true, value: v}
}

// Clear returns a patch that resets the field to its zero value.
func Clear[T any]() Patch[T] {
	return Patch[T]{clear: true}
}

// Apply writes the patch into dst and reports whether dst changed shape
// (set or cleared; a Set of an equal value still counts as applied).
func (p Patch[T]) Apply(dst *T) bool {
	switch {
	case p.set:
		*dst = p.value
		return true
	case p.clear:
		var zero T
		*dst = zero
		return true
	}
	return false
}

// IsSet reports whether the patch writes a value.
func (p Patch[T]) IsSet() bool { return p.set }

// IsClear reports whether the patch resets the field.
func (p Patch[T]) IsClear() bool { return p.clear }

// Value returns the value a Set patch carries.
func (p Patch[T]) Value() T { return p.value }

// UserUpdate is the atomic mutation applied by ProjectState.UpdateUser.
// Index maintenance for email, initial email, phone number, provider emails
// and provider raw ids happens inside the same critical section.
type UserUpdate struct {
	Email             Patch[string]
	EmailVerified     Patch[bool]
	EmailLinkSignin   Patch[bool]
	InitialEmail      Patch[string]
	PasswordHash      Patch[string]
	Salt              Patch[string]
	PasswordUpdatedAt Patch[int64]
	ValidSince        Patch[int64]
	PhoneNumber       Patch[string]
	DisplayName       Patch[string]
	PhotoURL          Patch[string]
	Disabled          Patch[bool]
	CustomAuth        Patch[bool]
	CustomAttributes  Patch[string]
	CreatedAt         Patch[int64]
	LastLoginAt       Patch[int64]
	LastRefreshAt     Patch[time.Time]
	MfaInfo           Patch[[]MfaEnrollment]

	// UpsertProviders replaces or appends provider entries by providerId.
	// DeleteProviders unlinks by providerId. Password and phone entries are
	// also derived automatically from the email and phoneNumber fields.
	UpsertProviders []ProviderUserInfo
	DeleteProviders []string
}

// Preview returns the record the update would produce on a blank account,
// without touching any index. Used to evaluate pre-create hooks.
func (u *UserUpdate) Preview(localID string) *UserInfo {
	user := &UserInfo{LocalID: localID}
	u.apply(user)
	return user
}

func (u *UserUpdate) apply(user *UserInfo) {
	u.Email.Apply(&user.Email)
	u.EmailVerified.Apply(&user.EmailVerified)
	u.EmailLinkSignin.Apply(&user.EmailLinkSignin)
	u.InitialEmail.Apply(&user.InitialEmail)
	u.PasswordHash.Apply(&user.PasswordHash)
	u.Salt.Apply(&user.Salt)
	u.PasswordUpdatedAt.Apply(&user.PasswordUpdatedAt)
	u.ValidSince.Apply(&user.ValidSince)
	u.PhoneNumber.Apply(&user.PhoneNumber)
	u.DisplayName.Apply(&user.DisplayName)
	u.PhotoURL.Apply(&user.PhotoURL)
	u.Disabled.Apply(&user.Disabled)
	u.CustomAuth.Apply(&user.CustomAuth)
	u.CustomAttributes.Apply(&user.CustomAttributes)
	u.CreatedAt.Apply(&user.CreatedAt)
	u.LastLoginAt.Apply(&user.LastLoginAt)
	u.LastRefreshAt.Apply(&user.LastRefreshAt)
	u.MfaInfo.Apply(&user.MfaInfo)
}
