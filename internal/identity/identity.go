// Package identity holds the caller identity the retrieval core reasons
// about: tenant, groups, and the access predicate every returned chunk must
// satisfy.
package identity

import (
	"errors"
	"strings"
)

// ErrInvalidUser is returned when a UserContext fails its invariants.
var ErrInvalidUser = errors.New("INVALID_USER")

// UserContext identifies the caller a retrieval request is made on behalf of.
type UserContext struct {
	UserID         string
	TenantID       string
	GroupIDs       []string
	Language       string
	GroupHierarchy map[string][]string // group -> direct parent groups, optional
}

// Validate enforces the UserContext invariant: TenantID must be non-empty.
// GroupIDs may be empty.
func (u UserContext) Validate() error {
	if strings.TrimSpace(u.TenantID) == "" {
		return ErrInvalidUser
	}
	return nil
}

// Principals returns the flat set of principal identifiers this user is
// granted access through: their own userId, their groups (transitively
// closed over GroupHierarchy when present), and the public principal.
func (u UserContext) Principals() []string {
	seen := make(map[string]struct{}, len(u.GroupIDs)+2)
	principals := make([]string, 0, len(u.GroupIDs)+2)
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		principals = append(principals, p)
	}

	add(u.UserID)
	add("public")

	queue := append([]string{}, u.GroupIDs...)
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		add(g)
		for _, parent := range u.GroupHierarchy[g] {
			if _, ok := seen[parent]; !ok {
				queue = append(queue, parent)
			}
		}
	}

	return principals
}

// IsAdmin reports whether this user is treated as an administrator for the
// purpose of the guardrail bypass. This is
// a documented, intentionally weak policy placeholder: membership in group
// "admin" or "system", or a userId containing the substring "admin".
// Production deployments should replace it with an explicit capability claim.
func (u UserContext) IsAdmin() bool {
	for _, g := range u.GroupIDs {
		if g == "admin" || g == "system" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(u.UserID), "admin")
}

// DocumentACL is the access-control payload carried on every chunk.
type DocumentACL struct {
	Tenant string
	ACL    []string
}

// Allows implements the access predicate P(user, doc): the document's
// tenant must match the user's tenant, and the document's ACL set must
// intersect the user's principal set.
func (d DocumentACL) Allows(u UserContext) bool {
	if d.Tenant != u.TenantID {
		return false
	}
	if len(d.ACL) == 0 {
		return false
	}
	allowed := make(map[string]struct{}, len(u.Principals()))
	for _, p := range u.Principals() {
		allowed[p] = struct{}{}
	}
	for _, principal := range d.ACL {
		if _, ok := allowed[principal]; ok {
			return true
		}
	}
	return false
}
