package graph

import (
	"fmt"
	"regexp"
)

// TenantID identifies an isolated customer namespace. All graph data is
// partitioned by tenant; a TenantID is immutable once attached to a row.
//
// The accepted character set is deliberately narrow because tenant identifiers
// are embedded in object-store key prefixes and in COPY statements that cannot
// take bound parameters. An identifier that passes validation is inert in both
// positions.
type TenantID string

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NewTenantID validates and returns a TenantID
func NewTenantID(raw string) (TenantID, error) {
	if raw == "" {
		return "", fmt.Errorf("tenant id cannot be empty")
	}
	if !tenantIDPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid tenant id %q: must match %s", raw, tenantIDPattern.String())
	}
	return TenantID(raw), nil
}

// String returns the string representation
func (t TenantID) String() string {
	return string(t)
}

// IsEmpty checks whether the tenant id is unset
func (t TenantID) IsEmpty() bool {
	return t == ""
}
