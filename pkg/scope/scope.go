// Package scope encodes, parses, and validates the tenant-scoped keys that
// name an optimistic-concurrency boundary.
//
// A scope key has the form tenant:{tenantId}:{scopeType}:{scopeId}. The
// tenant id and scope type are single segments and must not contain a colon;
// the scope id is the remainder of the string after the third colon and may
// itself contain colons, so keys like tenant:t1:order:ord:2024:001 round-trip.
package scope

import (
	"strings"

	apperrors "github.com/ambit-dev/ambit/pkg/errors"
)

// Prefix is the leading segment of every scope key.
const Prefix = "tenant"

// Parts holds the decoded segments of a scope key.
type Parts struct {
	TenantID  string
	ScopeType string
	ScopeID   string
}

// Create builds a scope key from its segments. It returns an error when any
// segment is empty or when the tenant id or scope type contains a colon.
func Create(tenantID, scopeType, scopeID string) (string, error) {
	if err := validateSegment("tenantId", tenantID, false); err != nil {
		return "", err
	}
	if err := validateSegment("scopeType", scopeType, false); err != nil {
		return "", err
	}
	if err := validateSegment("scopeId", scopeID, true); err != nil {
		return "", err
	}
	return Prefix + ":" + tenantID + ":" + scopeType + ":" + scopeID, nil
}

// TryCreate builds a scope key from its segments, reporting validity instead
// of returning an error.
func TryCreate(tenantID, scopeType, scopeID string) (string, bool) {
	key, err := Create(tenantID, scopeType, scopeID)
	if err != nil {
		return "", false
	}
	return key, true
}

// Parse decodes a scope key into its segments. It reports false when the key
// lacks the tenant prefix or has fewer than four colon-delimited segments.
// The scope id consumes the remainder of the string after the third colon.
func Parse(raw string) (Parts, bool) {
	segments := strings.SplitN(raw, ":", 4)
	if len(segments) != 4 || segments[0] != Prefix {
		return Parts{}, false
	}
	if segments[1] == "" || segments[2] == "" || segments[3] == "" {
		return Parts{}, false
	}
	return Parts{
		TenantID:  segments[1],
		ScopeType: segments[2],
		ScopeID:   segments[3],
	}, true
}

// Validate checks a raw scope key and returns nil when it is well formed.
func Validate(raw string) *apperrors.Error {
	if raw == "" {
		return apperrors.New(apperrors.CodeScopeKeyEmpty, "scope key must not be empty")
	}
	if _, ok := Parse(raw); !ok {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidScopeKeyFormat,
			"scope key must use tenant:{tenantId}:{scopeType}:{scopeId}",
			map[string]string{"scopeKey": raw},
		)
	}
	return nil
}

// IsValid reports whether a raw scope key is well formed.
func IsValid(raw string) bool {
	return Validate(raw) == nil
}

// AssertValid adapts Validate to a plain error for guard clauses.
func AssertValid(raw string) error {
	if err := Validate(raw); err != nil {
		return err
	}
	return nil
}

// IsTenant reports whether a raw string is a tenant-scoped key.
func IsTenant(raw string) bool {
	_, ok := Parse(raw)
	return ok
}

// ExtractTenantID returns the tenant id segment, or "" for malformed keys.
func ExtractTenantID(raw string) string {
	parts, ok := Parse(raw)
	if !ok {
		return ""
	}
	return parts.TenantID
}

// ExtractScopeType returns the scope type segment, or "" for malformed keys.
func ExtractScopeType(raw string) string {
	parts, ok := Parse(raw)
	if !ok {
		return ""
	}
	return parts.ScopeType
}

// ExtractScopeID returns the scope id segment, or "" for malformed keys.
func ExtractScopeID(raw string) string {
	parts, ok := Parse(raw)
	if !ok {
		return ""
	}
	return parts.ScopeID
}

func validateSegment(name, value string, allowColon bool) error {
	if value == "" {
		return apperrors.WithMetadata(
			apperrors.CodeScopeKeySegmentEmpty,
			name+" must not be empty",
			map[string]string{"segment": name},
		)
	}
	if !allowColon && strings.Contains(value, ":") {
		return apperrors.WithMetadata(
			apperrors.CodeScopeKeySegmentColon,
			name+" must not contain ':'",
			map[string]string{"segment": name},
		)
	}
	return nil
}
