package ldap

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// placeholder marks where the searched value goes in a filter template.
const placeholder = "%s"

// ExpandAuthQuery substitutes the escaped value into every placeholder of template.
func ExpandAuthQuery(template, value string) string {
	return strings.ReplaceAll(template, placeholder, ldap.EscapeFilter(value))
}

// EqualityFilter returns (attr=value) with value escaped.
func EqualityFilter(attr, value string) string {
	return "(" + attr + "=" + ldap.EscapeFilter(value) + ")"
}

// normalizeFilter wraps a bare filter in parentheses.
func normalizeFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if !strings.HasPrefix(filter, "(") {
		filter = "(" + filter + ")"
	}
	return filter
}

// SearchByAuth runs the auth filter template with value in every placeholder.
func (h *Handler) SearchByAuth(ctx context.Context, value string) (*SearchResult, error) {
	return h.SearchByQuery(ctx, ExpandAuthQuery(h.search.AuthQuery, value))
}

// SearchByUID searches by the configured username attribute.
func (h *Handler) SearchByUID(ctx context.Context, uid string) (*SearchResult, error) {
	return h.SearchByQuery(ctx, EqualityFilter(h.search.UsernameAttr, uid))
}

// SearchByEmail searches by the configured mail attribute.
func (h *Handler) SearchByEmail(ctx context.Context, email string) (*SearchResult, error) {
	return h.SearchByQuery(ctx, EqualityFilter(h.search.MailAttr, email))
}

// SearchByEmailArray searches by the configured multi-valued mail attribute.
func (h *Handler) SearchByEmailArray(ctx context.Context, email string) (*SearchResult, error) {
	return h.SearchByQuery(ctx, EqualityFilter(h.search.MailArrayAttr, email))
}

// SearchByQuery runs filter under the base DN with subtree scope.
func (h *Handler) SearchByQuery(ctx context.Context, filter string) (*SearchResult, error) {
	if h.conn == nil {
		return nil, NewLDAPError("search", NewConnectionError("not connected", nil))
	}

	filter = normalizeFilter(filter)
	req := ldap.NewSearchRequest(
		first(h.cfg.BaseDN),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(h.cfg.Timeout.Seconds()),
		false,
		filter,
		nil,
		nil,
	)

	var res *ldap.SearchResult
	fields := map[string]any{
		"base_dn": req.BaseDN,
		"filter":  filter,
	}
	err := LogOperation(ctx, Subsystem, "search", fields, func() error {
		var err error
		res, err = h.conn.Search(req)
		return err
	})
	if err != nil {
		return nil, WrapError("search", err)
	}

	result := &SearchResult{Entries: res.Entries}
	LogConnectionEvent(ctx, "search_completed", map[string]any{
		"filter":      filter,
		"entry_count": result.Len(),
	})
	return result, nil
}

// GetAttributeFromResults returns the first value of attr in result.
func (h *Handler) GetAttributeFromResults(result *SearchResult, attr string) (string, bool) {
	return GetAttributeFromResults(result, attr)
}

// IsValidResult reports whether result holds any entry.
func (h *Handler) IsValidResult(result *SearchResult) bool {
	return IsValidResult(result)
}
