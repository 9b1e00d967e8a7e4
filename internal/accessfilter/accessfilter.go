// Package accessfilter translates a caller's identity into the vector
// store's native payload filter grammar, so every downstream search is
// already scoped to what that caller is allowed to see.
package accessfilter

import (
	"github.com/knoguchi/rag/internal/identity"
	"github.com/knoguchi/rag/internal/vectorstore"
)

// Build constructs the payload filter for user: tenant match, an ACL
// disjunction over the user's principals, and an optional language match.
// extra conditions (e.g. docId) are merged into the must[] conjunction.
// Returns identity.ErrInvalidUser if user fails its own invariants.
func Build(user identity.UserContext, extra ...vectorstore.MatchCondition) (vectorstore.Filter, error) {
	if err := user.Validate(); err != nil {
		return vectorstore.Filter{}, err
	}

	filter := vectorstore.Filter{
		Must: []vectorstore.MatchCondition{
			{Key: "tenant", Value: user.TenantID},
			{Key: "acl", Any: user.Principals()},
		},
	}

	if user.Language != "" {
		filter.Must = append(filter.Must, vectorstore.MatchCondition{Key: "lang", Value: user.Language})
	}

	filter.Must = append(filter.Must, extra...)

	return filter, nil
}
