package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/idgen"
)

// realm holds the user records and secondary indices for one isolation
// domain: the project itself, or one tenant within it.
type realm struct {
	users           map[string]*UserInfo
	byEmail         map[string]string
	byInitialEmail  map[string]string
	byPhoneNumber   map[string]string
	byProviderEmail map[string]map[string]struct{}
	byProviderRawID map[string]map[string]string
	pendingLocalIDs map[string]struct{}
}

func newRealm() *realm {
	return &realm{
		users:           make(map[string]*UserInfo),
		byEmail:         make(map[string]string),
		byInitialEmail:  make(map[string]string),
		byPhoneNumber:   make(map[string]string),
		byProviderEmail: make(map[string]map[string]struct{}),
		byProviderRawID: make(map[string]map[string]string),
		pendingLocalIDs: make(map[string]struct{}),
	}
}

// ProjectState owns all account data for one project: the agent-level realm,
// one realm per tenant, tenant configs and the project config. A single
// RWMutex guards everything so every exported operation observes and applies
// a consistent index state.
type ProjectState struct {
	projectID string
	gen       *idgen.Generator

	mu           sync.RWMutex
	agent        *realm
	tenants      map[string]*Tenant
	tenantRealms map[string]*realm
	config       Config
}

// NewProjectState builds an empty project. gen may be nil for crypto/rand.
func NewProjectState(projectID string, gen *idgen.Generator) *ProjectState {
	if gen == nil {
		gen = idgen.New(nil)
	}
	return &ProjectState{
		projectID:    projectID,
		gen:          gen,
		agent:        newRealm(),
		tenants:      make(map[string]*Tenant),
		tenantRealms: make(map[string]*realm),
		config:       DefaultConfig(),
	}
}

// ProjectID returns the project this state belongs to.
func (ps *ProjectState) ProjectID() string { return ps.projectID }

// Realm is a handle binding a ProjectState to one isolation domain. The
// zero tenant id addresses the agent realm.
type Realm struct {
	ps       *ProjectState
	tenantID string
}

// Agent returns the project-level realm.
func (ps *ProjectState) Agent() Realm {
	return Realm{ps: ps}
}

// TenantRealm returns the realm for tenantID, which must already exist.
func (ps *ProjectState) TenantRealm(tenantID string) (Realm, error) {
	ps.mu.RLock()
	_, ok := ps.tenants[tenantID]
	ps.mu.RUnlock()
	if !ok {
		return Realm{}, apierr.ErrTenantNotFound
	}
	return Realm{ps: ps, tenantID: tenantID}, nil
}

// ProjectID returns the owning project id.
func (r Realm) ProjectID() string { return r.ps.projectID }

// TenantID returns the realm's tenant id, empty for the agent realm.
func (r Realm) TenantID() string { return r.tenantID }

func (r Realm) state() *realm {
	if r.tenantID == "" {
		return r.ps.agent
	}
	return r.ps.tenantRealms[r.tenantID]
}

// GenerateLocalID reserves a fresh local id. The reservation is released
// when a user with that id is created.
func (r Realm) GenerateLocalID() (string, error) {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	for i := 0; i < 10; i++ {
		localID, err := r.ps.gen.AlphanumericID(28)
		if err != nil {
			return "", err
		}
		if _, taken := rl.users[localID]; taken {
			continue
		}
		if _, pending := rl.pendingLocalIDs[localID]; pending {
			continue
		}
		rl.pendingLocalIDs[localID] = struct{}{}
		return localID, nil
	}
	return "", fmt.Errorf("store: cannot generate a unique localId after 10 tries")
}

// CreateUser inserts a new user with localID and applies update atomically.
// It fails with DUPLICATE_LOCAL_ID when the id is already taken.
func (r Realm) CreateUser(localID string, update UserUpdate) (*UserInfo, error) {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	if _, exists := rl.users[localID]; exists {
		return nil, apierr.ErrDuplicateLocalID
	}
	rl.users[localID] = &UserInfo{LocalID: localID, TenantID: r.tenantID}
	delete(rl.pendingLocalIDs, localID)
	return r.applyUpdate(rl, localID, update)
}

// OverwriteUser creates or fully replaces the user with localID, keeping the
// original createdAt when one exists in the update, and never dispatching
// triggers. Used by privileged imports.
func (r Realm) OverwriteUser(localID string, update UserUpdate) (*UserInfo, error) {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	if before, ok := rl.users[localID]; ok {
		removeFromIndex(rl, before)
	}
	now := time.Now().UnixMilli()
	fresh := &UserInfo{LocalID: localID, TenantID: r.tenantID, CreatedAt: now, LastLoginAt: now}
	rl.users[localID] = fresh
	return r.applyUpdate(rl, localID, update)
}

// UpdateUser applies update to an existing user atomically, maintaining all
// secondary indices in the same critical section.
func (r Realm) UpdateUser(localID string, update UserUpdate) (*UserInfo, error) {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	if _, ok := rl.users[localID]; !ok {
		return nil, apierr.ErrUserNotFound
	}
	return r.applyUpdate(rl, localID, update)
}

func (r Realm) applyUpdate(rl *realm, localID string, update UserUpdate) (*UserInfo, error) {
	user := rl.users[localID]
	oldEmail := user.Email
	oldPhoneNumber := user.PhoneNumber

	update.apply(user)

	upserts := append([]ProviderUserInfo(nil), update.UpsertProviders...)
	deletes := append([]string(nil), update.DeleteProviders...)

	if oldEmail != "" && oldEmail != user.Email {
		delete(rl.byEmail, oldEmail)
	}
	if user.Email != "" {
		rl.byEmail[user.Email] = user.LocalID
	}
	if user.Email != "" && (user.PasswordHash != "" || user.EmailLinkSignin) {
		upserts = append(upserts, ProviderUserInfo{
			ProviderID:  ProviderPassword,
			RawID:       user.Email,
			FederatedID: user.Email,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			PhotoURL:    user.PhotoURL,
		})
	} else {
		deletes = append(deletes, ProviderPassword)
	}

	if user.InitialEmail != "" {
		rl.byInitialEmail[user.InitialEmail] = user.LocalID
	}

	if oldPhoneNumber != "" && oldPhoneNumber != user.PhoneNumber {
		delete(rl.byPhoneNumber, oldPhoneNumber)
	}
	if user.PhoneNumber != "" {
		rl.byPhoneNumber[user.PhoneNumber] = user.LocalID
		upserts = append(upserts, ProviderUserInfo{
			ProviderID:  ProviderPhone,
			RawID:       user.PhoneNumber,
			PhoneNumber: user.PhoneNumber,
		})
	} else {
		deletes = append(deletes, ProviderPhone)
	}

	if user.MfaInfo != nil {
		if err := ValidateMfaEnrollments(user.MfaInfo); err != nil {
			return nil, err
		}
	}

	updateProviderInfo(rl, user, upserts, deletes)
	return user.Clone(), nil
}

func updateProviderInfo(rl *realm, user *UserInfo, upserts []ProviderUserInfo, deletes []string) {
	oldProviderEmails := user.ProviderEmails()

	if len(user.ProviderUserInfo) > 0 {
		kept := user.ProviderUserInfo[:0]
		for _, info := range user.ProviderUserInfo {
			if containsString(deletes, info.ProviderID) {
				if rawIDs := rl.byProviderRawID[info.ProviderID]; rawIDs != nil {
					delete(rawIDs, info.RawID)
				}
			} else {
				kept = append(kept, info)
			}
		}
		user.ProviderUserInfo = kept
	}

	for _, upsert := range upserts {
		rawIDs := rl.byProviderRawID[upsert.ProviderID]
		if rawIDs == nil {
			rawIDs = make(map[string]string)
			rl.byProviderRawID[upsert.ProviderID] = rawIDs
		}
		rawIDs[upsert.RawID] = user.LocalID

		replaced := false
		for i := range user.ProviderUserInfo {
			if user.ProviderUserInfo[i].ProviderID == upsert.ProviderID {
				user.ProviderUserInfo[i] = upsert
				replaced = true
				break
			}
		}
		if !replaced {
			user.ProviderUserInfo = append(user.ProviderUserInfo, upsert)
		}
	}

	for email := range user.ProviderEmails() {
		delete(oldProviderEmails, email)
		localIDs := rl.byProviderEmail[email]
		if localIDs == nil {
			localIDs = make(map[string]struct{})
			rl.byProviderEmail[email] = localIDs
		}
		localIDs[user.LocalID] = struct{}{}
	}
	for email := range oldProviderEmails {
		removeProviderEmail(rl, email, user.LocalID)
	}
}

func removeProviderEmail(rl *realm, email, localID string) {
	localIDs := rl.byProviderEmail[email]
	if localIDs == nil {
		return
	}
	delete(localIDs, localID)
	if len(localIDs) == 0 {
		delete(rl.byProviderEmail, email)
	}
}

func removeFromIndex(rl *realm, user *UserInfo) {
	if user.Email != "" {
		delete(rl.byEmail, user.Email)
	}
	if user.InitialEmail != "" {
		delete(rl.byInitialEmail, user.InitialEmail)
	}
	if user.PhoneNumber != "" {
		delete(rl.byPhoneNumber, user.PhoneNumber)
	}
	for _, info := range user.ProviderUserInfo {
		if rawIDs := rl.byProviderRawID[info.ProviderID]; rawIDs != nil {
			delete(rawIDs, info.RawID)
		}
		if info.Email != "" {
			removeProviderEmail(rl, info.Email, user.LocalID)
		}
	}
}

// DeleteUser removes the user and every index entry pointing at it.
func (r Realm) DeleteUser(localID string) (*UserInfo, error) {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	user, ok := rl.users[localID]
	if !ok {
		return nil, apierr.ErrUserNotFound
	}
	delete(rl.users, localID)
	removeFromIndex(rl, user)
	return user.Clone(), nil
}

// UserByLocalID returns the user with localID, or nil.
func (r Realm) UserByLocalID(localID string) *UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	return r.state().users[localID].Clone()
}

// UserByEmail returns the user owning email as their primary email, or nil.
func (r Realm) UserByEmail(email string) *UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	localID, ok := rl.byEmail[email]
	if !ok {
		return nil
	}
	return rl.users[localID].Clone()
}

// UserByInitialEmail returns the user whose first email was email, or nil.
func (r Realm) UserByInitialEmail(email string) *UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	localID, ok := rl.byInitialEmail[email]
	if !ok {
		return nil
	}
	return rl.users[localID].Clone()
}

// UserByPhoneNumber returns the user owning phoneNumber, or nil.
func (r Realm) UserByPhoneNumber(phoneNumber string) *UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	localID, ok := rl.byPhoneNumber[phoneNumber]
	if !ok {
		return nil
	}
	return rl.users[localID].Clone()
}

// UserByProviderRawID returns the user linked to rawID under provider, or nil.
func (r Realm) UserByProviderRawID(provider, rawID string) *UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	rawIDs := rl.byProviderRawID[provider]
	if rawIDs == nil {
		return nil
	}
	localID, ok := rawIDs[rawID]
	if !ok {
		return nil
	}
	return rl.users[localID].Clone()
}

// UsersByEmailOrProviderEmail returns every user reachable through email,
// either as primary email or through a linked provider, deduplicated with
// the primary owner first.
func (r Realm) UsersByEmailOrProviderEmail(email string) []*UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	var users []*UserInfo
	seen := make(map[string]struct{})
	if localID, ok := rl.byEmail[email]; ok {
		users = append(users, rl.users[localID].Clone())
		seen[localID] = struct{}{}
	}
	providerOwners := make([]string, 0, len(rl.byProviderEmail[email]))
	for localID := range rl.byProviderEmail[email] {
		providerOwners = append(providerOwners, localID)
	}
	sort.Strings(providerOwners)
	for _, localID := range providerOwners {
		if _, dup := seen[localID]; dup {
			continue
		}
		users = append(users, rl.users[localID].Clone())
		seen[localID] = struct{}{}
	}
	return users
}

// ProviderInfosByProviderID returns the provider entry of every user linked
// through provider.
func (r Realm) ProviderInfosByProviderID(provider string) []ProviderUserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	rawIDs := rl.byProviderRawID[provider]
	if rawIDs == nil {
		return nil
	}
	localIDs := make([]string, 0, len(rawIDs))
	for _, localID := range rawIDs {
		localIDs = append(localIDs, localID)
	}
	sort.Strings(localIDs)
	infos := make([]ProviderUserInfo, 0, len(localIDs))
	for _, localID := range localIDs {
		if info := rl.users[localID].Provider(provider); info != nil {
			infos = append(infos, *info)
		}
	}
	return infos
}

// QueryUsers returns users ordered by localId, skipping ids at or below
// startToken when one is given. descending reverses the order after the
// token filter.
func (r Realm) QueryUsers(startToken string, descending bool) []*UserInfo {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	rl := r.state()
	users := make([]*UserInfo, 0, len(rl.users))
	for _, user := range rl.users {
		if startToken == "" || user.LocalID > startToken {
			users = append(users, user.Clone())
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].LocalID < users[j].LocalID
	})
	if descending {
		for i, j := 0, len(users)-1; i < j; i, j = i+1, j-1 {
			users[i], users[j] = users[j], users[i]
		}
	}
	return users
}

// UserCount returns the number of users in the realm.
func (r Realm) UserCount() int {
	r.ps.mu.RLock()
	defer r.ps.mu.RUnlock()
	return len(r.state().users)
}

// DeleteAllAccounts drops every user and index in the realm. Out-of-band
// and phone verification records are left alone; stale ones surface as
// invalid when consumed.
func (r Realm) DeleteAllAccounts() {
	r.ps.mu.Lock()
	defer r.ps.mu.Unlock()
	rl := r.state()
	rl.users = make(map[string]*UserInfo)
	rl.byEmail = make(map[string]string)
	rl.byInitialEmail = make(map[string]string)
	rl.byPhoneNumber = make(map[string]string)
	rl.byProviderEmail = make(map[string]map[string]struct{})
	rl.byProviderRawID = make(map[string]map[string]string)
}

// ValidateMfaEnrollments checks that every enrollment has a valid phone
// number, a non-empty enrollment id, and that both are unique in the list.
func ValidateMfaEnrollments(enrollments []MfaEnrollment) error {
	phoneNumbers := make(map[string]struct{})
	enrollmentIDs := make(map[string]struct{})
	for _, enrollment := range enrollments {
		if !IsValidPhoneNumber(enrollment.PhoneInfo) {
			return apierr.ErrInvalidMfaPhoneNumber
		}
		if enrollment.MfaEnrollmentID == "" {
			return apierr.ErrInvalidMfaEnrollmentID
		}
		if _, dup := enrollmentIDs[enrollment.MfaEnrollmentID]; dup {
			return apierr.ErrDuplicateMfaEnrollmentID
		}
		if _, dup := phoneNumbers[enrollment.PhoneInfo]; dup {
			return apierr.ErrDuplicateMfaPhoneNumber
		}
		phoneNumbers[enrollment.PhoneInfo] = struct{}{}
		enrollmentIDs[enrollment.MfaEnrollmentID] = struct{}{}
	}
	return nil
}

// IsValidPhoneNumber reports whether s looks like an E.164 number: a plus
// sign followed by digits.
func IsValidPhoneNumber(s string) bool {
	if !strings.HasPrefix(s, "+") || len(s) < 2 {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
