package idtoken

import (
	"encoding/json"

	"github.com/identitykit/identitykit/internal/apierr"
)

// CustomAttributesMaxLength bounds the serialized custom claims size.
const CustomAttributesMaxLength = 1000

// forbiddenCustomClaims are the reserved JWT fields custom claims may not
// override.
var forbiddenCustomClaims = []string{
	"iss",
	"aud",
	"sub",
	"iat",
	"exp",
	"nbf",
	"jti",
	"nonce",
	"azp",
	"acr",
	"amr",
	"cnf",
	"auth_time",
	"firebase",
	"at_hash",
	"c_hash",
}

// ValidateCustomClaims rejects claim sets using reserved JWT field names.
func ValidateCustomClaims(claims map[string]any) error {
	for _, reserved := range forbiddenCustomClaims {
		if _, found := claims[reserved]; found {
			return apierr.ForbiddenClaimError(reserved)
		}
	}
	return nil
}

// ValidateSerializedCustomClaims checks a JSON-serialized claim set: size
// bound, a JSON object at the top level, and no reserved field names.
func ValidateSerializedCustomClaims(serialized string) error {
	if len(serialized) > CustomAttributesMaxLength {
		return apierr.ErrClaimsTooLarge
	}
	var claims map[string]any
	if err := json.Unmarshal([]byte(serialized), &claims); err != nil {
		return apierr.ErrInvalidClaims
	}
	if claims == nil {
		return apierr.ErrInvalidClaims
	}
	return ValidateCustomClaims(claims)
}
