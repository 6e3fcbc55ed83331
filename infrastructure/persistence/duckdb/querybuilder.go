package duckdb

import (
	"fmt"
	"strings"

	"meshmind-backend/domain/graph"
)

// tenantQuery builds SELECT statements whose first predicate is always the
// bound tenant filter. Caller-supplied fragments can only narrow the result
// set: any fragment that mentions tenant_id, stacks statements, or embeds
// comment tokens is rejected, which closes the tenant-isolation injection
// vector named by the query contract.
type tenantQuery struct {
	base       string
	conditions []string
	args       []interface{}
	orderBy    string
	limit      int
}

// newTenantQuery starts a query against table with the tenant filter bound
// as the first predicate
func newTenantQuery(columns, table string, tenantID graph.TenantID) *tenantQuery {
	return &tenantQuery{
		base:       fmt.Sprintf("SELECT %s FROM %s", columns, table),
		conditions: []string{"tenant_id = ?"},
		args:       []interface{}{tenantID.String()},
	}
}

// Where appends a parameterized condition
func (q *tenantQuery) Where(condition string, args ...interface{}) *tenantQuery {
	q.conditions = append(q.conditions, condition)
	q.args = append(q.args, args...)
	return q
}

// WhereFragment appends a caller-supplied condition after safety validation
func (q *tenantQuery) WhereFragment(fragment string, args ...interface{}) (*tenantQuery, error) {
	if err := validateFragment(fragment); err != nil {
		return nil, err
	}
	return q.Where(fragment, args...), nil
}

// Live restricts the query to rows without a soft-delete marker
func (q *tenantQuery) Live() *tenantQuery {
	return q.Where("deleted_at IS NULL")
}

// OrderBy sets the result ordering
func (q *tenantQuery) OrderBy(clause string) *tenantQuery {
	q.orderBy = clause
	return q
}

// Limit caps the result set
func (q *tenantQuery) Limit(n int) *tenantQuery {
	q.limit = n
	return q
}

// Build renders the SQL and its bound arguments. Every condition is
// parenthesized so a condition containing OR cannot widen past the tenant
// filter it is ANDed with.
func (q *tenantQuery) Build() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(q.base)
	sb.WriteString(" WHERE (")
	sb.WriteString(strings.Join(q.conditions, ") AND ("))
	sb.WriteString(")")
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
	}
	return sb.String(), q.args
}

// forbiddenFragmentTokens are substrings that could widen the tenant filter
// or escape the statement
var forbiddenFragmentTokens = []string{"tenant_id", ";", "--", "/*", "*/"}

// forbiddenFragmentWords are SQL keywords that widen a predicate without any
// special characters, matched as whole words
var forbiddenFragmentWords = []string{"or", "union"}

// validateFragment rejects caller-supplied filter fragments that could widen
// the tenant scope
func validateFragment(fragment string) error {
	lowered := strings.ToLower(fragment)
	for _, token := range forbiddenFragmentTokens {
		if strings.Contains(lowered, token) {
			return fmt.Errorf("unsafe query fragment: contains %q", token)
		}
	}
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return r != '_' && (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for _, word := range words {
		for _, bad := range forbiddenFragmentWords {
			if word == bad {
				return fmt.Errorf("unsafe query fragment: contains %q", bad)
			}
		}
	}
	return nil
}
