package store

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates WHERE conditions with positional pgx arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.conds = append(b.conds, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *whereBuilder) addRaw(cond string, values ...any) {
	for _, v := range values {
		b.args = append(b.args, v)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(b.args)), 1)
	}
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// applyScope appends conditions for the non-empty scope discriminators.
func (b *whereBuilder) applyScope(s Scope) {
	if s.TenantID != "" {
		b.add("tenant_id", s.TenantID)
	}
	if s.ClientID != "" {
		b.add("client_id", s.ClientID)
	}
	if s.ProjectID != "" {
		b.add("project_id", s.ProjectID)
	}
}

// applyFilter appends conditions for a chunk query filter.
func (b *whereBuilder) applyFilter(f Filter) {
	b.applyScope(f.Scope)
	if f.Namespace != "" {
		b.add("namespace", f.Namespace)
	}
	if f.Strategy != "" {
		b.addRaw("meta->>'strategy' = ?", f.Strategy)
	}
}
