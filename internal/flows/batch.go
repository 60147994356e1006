package flows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/identitykit/identitykit/idtoken"
	"github.com/identitykit/identitykit/internal/apierr"
	"github.com/identitykit/identitykit/internal/store"
)

// ImportUserInput is one account in a batchCreate upload. Password hashes are
// stored verbatim; rawPassword is hashed with a fresh salt instead.
type ImportUserInput struct {
	LocalID          string                   `json:"localId,omitempty"`
	Email            string                   `json:"email,omitempty"`
	EmailVerified    bool                     `json:"emailVerified,omitempty"`
	DisplayName      string                   `json:"displayName,omitempty"`
	PhotoURL         string                   `json:"photoUrl,omitempty"`
	PhoneNumber      string                   `json:"phoneNumber,omitempty"`
	PasswordHash     string                   `json:"passwordHash,omitempty"`
	Salt             string                   `json:"salt,omitempty"`
	RawPassword      string                   `json:"rawPassword,omitempty"`
	CustomAttributes string                   `json:"customAttributes,omitempty"`
	TenantID         string                   `json:"tenantId,omitempty"`
	Disabled         bool                     `json:"disabled,omitempty"`
	CreatedAt        string                   `json:"createdAt,omitempty"`
	LastLoginAt      string                   `json:"lastLoginAt,omitempty"`
	ProviderUserInfo []store.ProviderUserInfo `json:"providerUserInfo,omitempty"`
	MfaInfo          []MfaEnrollmentInput     `json:"mfaInfo,omitempty"`
}

// BatchCreateRequest imports accounts in bulk.
type BatchCreateRequest struct {
	Users          []ImportUserInput `json:"users"`
	SanityCheck    bool              `json:"sanityCheck,omitempty"`
	AllowOverwrite bool              `json:"allowOverwrite,omitempty"`
}

// BatchCreateError reports one rejected entry by its request index.
type BatchCreateError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchCreateResponse lists per-entry failures. Accepted entries are silent.
type BatchCreateResponse struct {
	Error []BatchCreateError `json:"error"`
}

// BatchCreate imports the given accounts, overwriting existing ones only when
// allowOverwrite is set. Entry-level validation failures are collected per
// index instead of failing the whole upload.
func (s *Service) BatchCreate(ctx context.Context, realm store.Realm, req BatchCreateRequest) (*BatchCreateResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if len(req.Users) == 0 {
		return nil, apierr.ErrMissingUserAccount
	}

	if req.SanityCheck {
		if realm.Features().OneAccountPerEmail {
			seenEmails := map[string]bool{}
			for _, userInfo := range req.Users {
				if userInfo.Email == "" {
					continue
				}
				if seenEmails[userInfo.Email] {
					return nil, apierr.NewBadRequestError("DUPLICATE_EMAIL : " + userInfo.Email)
				}
				seenEmails[userInfo.Email] = true
			}
		}
		seenProviders := map[string]bool{}
		for _, userInfo := range req.Users {
			for _, info := range userInfo.ProviderUserInfo {
				key := info.ProviderID + ":" + info.RawID
				if seenProviders[key] {
					return nil, apierr.NewBadRequestError(fmt.Sprintf("DUPLICATE_RAW_ID : Provider id(%s), Raw id(%s)", info.ProviderID, info.RawID))
				}
				seenProviders[key] = true
			}
		}
	}
	if !req.AllowOverwrite {
		seenLocalIDs := map[string]bool{}
		for _, userInfo := range req.Users {
			if seenLocalIDs[userInfo.LocalID] {
				return nil, apierr.NewBadRequestError("DUPLICATE_LOCAL_ID : " + userInfo.LocalID)
			}
			seenLocalIDs[userInfo.LocalID] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &BatchCreateResponse{Error: []BatchCreateError{}}
	for index, userInfo := range req.Users {
		if err := s.importUser(realm, req, userInfo); err != nil {
			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusBadRequest {
				return nil, err
			}
			resp.Error = append(resp.Error, BatchCreateError{
				Index:   index,
				Message: importErrorMessage(apiErr),
			})
		}
	}
	return resp, nil
}

// importErrorMessage swaps the claim validation codes for the friendlier
// messages production uses in upload reports.
func importErrorMessage(err *apierr.Error) string {
	switch {
	case err.Reason == "INVALID_CLAIMS":
		return "Invalid custom claims provided."
	case err.Reason == "CLAIMS_TOO_LARGE":
		return "Custom claims provided are too large."
	case strings.HasPrefix(err.Reason, "FORBIDDEN_CLAIM"):
		return "Custom claims provided include a reserved claim."
	}
	return err.Reason
}

func (s *Service) importUser(realm store.Realm, req BatchCreateRequest, userInfo ImportUserInput) error {
	if userInfo.LocalID == "" {
		return apierr.NewBadRequestError("localId is missing")
	}
	uploadTime := time.Now()
	var fields store.UserUpdate
	if userInfo.DisplayName != "" {
		fields.DisplayName = store.Set(userInfo.DisplayName)
	}
	if userInfo.PhotoURL != "" {
		fields.PhotoURL = store.Set(userInfo.PhotoURL)
	}
	if ms, err := strconv.ParseInt(userInfo.LastLoginAt, 10, 64); err == nil {
		fields.LastLoginAt = store.Set(ms)
	}
	if userInfo.TenantID != "" && userInfo.TenantID != realm.TenantID() {
		return apierr.NewBadRequestError("Tenant id in userInfo does not match the tenant id in request.")
	}

	switch {
	case userInfo.PasswordHash != "":
		fields.PasswordHash = store.Set(userInfo.PasswordHash)
		fields.Salt = store.Set(userInfo.Salt)
		fields.PasswordUpdatedAt = store.Set(uploadTime.UnixMilli())
	case userInfo.RawPassword != "":
		salt := userInfo.Salt
		if salt == "" {
			var err error
			salt, err = s.newSalt()
			if err != nil {
				return err
			}
		}
		fields.Salt = store.Set(salt)
		fields.PasswordHash = store.Set(hashPassword(userInfo.RawPassword, salt))
		fields.PasswordUpdatedAt = store.Set(uploadTime.UnixMilli())
	}

	if userInfo.CustomAttributes != "" {
		if err := idtoken.ValidateSerializedCustomClaims(userInfo.CustomAttributes); err != nil {
			return err
		}
		fields.CustomAttributes = store.Set(userInfo.CustomAttributes)
	}

	for _, info := range userInfo.ProviderUserInfo {
		if info.ProviderID == store.ProviderPassword || info.ProviderID == store.ProviderPhone {
			// Derived from the email and phone fields during the write.
			continue
		}
		if info.RawID == "" || info.ProviderID == "" {
			if info.FederatedID == "" {
				return apierr.NewBadRequestError("federatedId or (providerId & rawId) is required")
			}
			return apierr.NewBadRequestError("((Parsing federatedId is not implemented in Auth Emulator; please specify providerId AND rawId as a workaround.))")
		}
		if existing := realm.UserByProviderRawID(info.ProviderID, info.RawID); existing != nil && existing.LocalID != userInfo.LocalID {
			return apierr.NewBadRequestError("raw id exists in other account in database")
		}
		fields.UpsertProviders = append(fields.UpsertProviders, info)
	}

	if userInfo.PhoneNumber != "" {
		if !store.IsValidPhoneNumber(userInfo.PhoneNumber) {
			return apierr.NewBadRequestError("phone number format is invalid")
		}
		fields.PhoneNumber = store.Set(userInfo.PhoneNumber)
	}

	fields.ValidSince = store.Set(uploadTime.Unix())
	fields.CreatedAt = store.Set(uploadTime.UnixMilli())
	if ms, err := strconv.ParseInt(userInfo.CreatedAt, 10, 64); err == nil {
		fields.CreatedAt = store.Set(ms)
	}

	email := ""
	if userInfo.Email != "" {
		if !isValidEmail(userInfo.Email) {
			return apierr.NewBadRequestError("email is invalid")
		}
		email = canonicalizeEmail(userInfo.Email)
		// Production only checks this under sanityCheck with email
		// uniqueness on; here the check always runs, with a clarifying
		// message in the extra cases.
		if existing := realm.UserByEmail(email); existing != nil && existing.LocalID != userInfo.LocalID {
			if req.SanityCheck && realm.Features().OneAccountPerEmail {
				return apierr.NewBadRequestError("email exists in other account in database")
			}
			return apierr.NewBadRequestError(fmt.Sprintf("((Auth Emulator does not support importing duplicate email: %s))", email))
		}
		fields.Email = store.Set(email)
	}
	fields.EmailVerified = store.Set(userInfo.EmailVerified)
	fields.Disabled = store.Set(userInfo.Disabled)

	if len(userInfo.MfaInfo) > 0 {
		if email == "" {
			return apierr.NewBadRequestError("Second factor account requires email to be presented.")
		}
		if !userInfo.EmailVerified {
			return apierr.NewBadRequestError("Second factor account requires email to be verified.")
		}
		existingIDs := map[string]bool{}
		for _, enrollment := range userInfo.MfaInfo {
			if enrollment.MfaEnrollmentID == "" {
				continue
			}
			if existingIDs[enrollment.MfaEnrollmentID] {
				return apierr.NewBadRequestError("Enrollment id already exists.")
			}
			existingIDs[enrollment.MfaEnrollmentID] = true
		}
		var enrollments []store.MfaEnrollment
		for _, enrollment := range userInfo.MfaInfo {
			id := enrollment.MfaEnrollmentID
			if id == "" {
				var err error
				id, err = s.newEnrollmentID(existingIDs)
				if err != nil {
					return err
				}
				existingIDs[id] = true
			}
			enrolledAt := enrollment.EnrolledAt
			if enrolledAt.IsZero() {
				enrolledAt = time.Now()
			}
			if enrollment.PhoneInfo == "" {
				return apierr.NewBadRequestError("Second factor not supported.")
			}
			if !store.IsValidPhoneNumber(enrollment.PhoneInfo) {
				return apierr.NewBadRequestError("Phone number format is invalid")
			}
			enrollments = append(enrollments, store.MfaEnrollment{
				MfaEnrollmentID:       id,
				DisplayName:           enrollment.DisplayName,
				PhoneInfo:             enrollment.PhoneInfo,
				UnobfuscatedPhoneInfo: enrollment.PhoneInfo,
				EnrolledAt:            enrolledAt,
			})
		}
		fields.MfaInfo = store.Set(enrollments)
	}

	if realm.UserByLocalID(userInfo.LocalID) != nil && !req.AllowOverwrite {
		return apierr.NewBadRequestError("localId belongs to an existing account - can not overwrite.")
	}
	_, err := realm.OverwriteUser(userInfo.LocalID, fields)
	return err
}

// BatchDeleteRequest removes up to 1000 accounts by localId.
type BatchDeleteRequest struct {
	LocalIDs []string `json:"localIds"`
	Force    bool     `json:"force,omitempty"`
}

// BatchDeleteError reports one account that could not be deleted.
type BatchDeleteError struct {
	Index   int    `json:"index"`
	LocalID string `json:"localId"`
	Message string `json:"message"`
}

// BatchDeleteResponse lists per-account failures, if any.
type BatchDeleteResponse struct {
	Errors []BatchDeleteError `json:"errors,omitempty"`
}

// BatchDelete removes accounts. Without force, only disabled accounts are
// deleted and the rest are reported. Unknown ids are silently skipped.
func (s *Service) BatchDelete(ctx context.Context, realm store.Realm, req BatchDeleteRequest) (*BatchDeleteResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if len(req.LocalIDs) == 0 || len(req.LocalIDs) > 1000 {
		return nil, apierr.ErrLocalIDListExceedsLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &BatchDeleteResponse{}
	for index, localID := range req.LocalIDs {
		user := realm.UserByLocalID(localID)
		if user == nil {
			continue
		}
		if !user.Disabled && !req.Force {
			resp.Errors = append(resp.Errors, BatchDeleteError{
				Index:   index,
				LocalID: localID,
				Message: "NOT_DISABLED : Disable the account before batch deletion.",
			})
			continue
		}
		if _, err := realm.DeleteUser(localID); err != nil {
			return nil, err
		}
		if err := s.refresh.DeleteForUser(ctx, scopeOf(realm), localID); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// BatchGetRequest pages through accounts in localId order.
type BatchGetRequest struct {
	MaxResults    int    `json:"maxResults,omitempty"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// BatchGetResponse carries one page of accounts. NextPageToken is set only
// when more accounts remain.
type BatchGetResponse struct {
	Users         []UserView `json:"users,omitempty"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

// BatchGet downloads accounts in pages of maxResults, defaulting to 20 and
// capped at 1000. A negative maxResults returns everything at once.
func (s *Service) BatchGet(ctx context.Context, realm store.Realm, req BatchGetRequest) (*BatchGetResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = 20
	}
	if maxResults > 1000 {
		maxResults = 1000
	}

	users := realm.QueryUsers(req.NextPageToken, false)
	resp := &BatchGetResponse{}
	if maxResults >= 0 && len(users) >= maxResults {
		users = users[:maxResults]
		if len(users) > 0 {
			resp.NextPageToken = users[len(users)-1].LocalID
		}
	}
	for _, user := range users {
		resp.Users = append(resp.Users, newUserView(user))
	}
	return resp, nil
}

// QueryAccountsRequest counts or lists accounts.
type QueryAccountsRequest struct {
	Expression     []map[string]any `json:"expression,omitempty"`
	ReturnUserInfo *bool            `json:"returnUserInfo,omitempty"`
	Limit          string           `json:"limit,omitempty"`
	Offset         string           `json:"offset,omitempty"`
	Order          string           `json:"order,omitempty"`
	SortBy         string           `json:"sortBy,omitempty"`
}

// QueryAccountsResponse carries the record count; UserInfo is omitted when
// the caller asked for the count only.
type QueryAccountsResponse struct {
	RecordsCount string     `json:"recordsCount"`
	UserInfo     []UserView `json:"userInfo,omitempty"`
}

// QueryAccounts returns every account in the realm. Filtering and paging
// parameters from the production API are rejected as unimplemented.
func (s *Service) QueryAccounts(ctx context.Context, realm store.Realm, req QueryAccountsRequest) (*QueryAccountsResponse, error) {
	if err := checkRealm(realm); err != nil {
		return nil, err
	}
	if len(req.Expression) > 0 {
		return nil, apierr.NotImplementedError("expression is not implemented.")
	}
	if req.ReturnUserInfo != nil && !*req.ReturnUserInfo {
		return &QueryAccountsResponse{RecordsCount: strconv.Itoa(realm.UserCount())}, nil
	}
	if req.Limit != "" && req.Limit != "0" {
		return nil, apierr.NotImplementedError("limit is not implemented.")
	}
	if req.Offset != "" && req.Offset != "0" {
		return nil, apierr.NotImplementedError("offset is not implemented.")
	}
	order := req.Order
	if order == "" || order == "ORDER_UNSPECIFIED" {
		order = "ASC"
	}
	sortBy := req.SortBy
	if sortBy == "" || sortBy == "SORT_BY_FIELD_UNSPECIFIED" {
		sortBy = "USER_ID"
	}
	if sortBy != "USER_ID" {
		return nil, apierr.NotImplementedError("Only sorting by USER_ID is implemented.")
	}

	users := realm.QueryUsers("", order == "DESC")
	resp := &QueryAccountsResponse{RecordsCount: strconv.Itoa(len(users))}
	for _, user := range users {
		resp.UserInfo = append(resp.UserInfo, newUserView(user))
	}
	return resp, nil
}
