package accessfilter

import (
	"errors"
	"testing"

	"github.com/knoguchi/rag/internal/identity"
	"github.com/knoguchi/rag/internal/vectorstore"
)

func TestBuildEmitsTenantAndACLConditions(t *testing.T) {
	user := identity.UserContext{UserID: "u1", TenantID: "t1", GroupIDs: []string{"g1"}}

	filter, err := Build(user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawTenant, sawACL bool
	for _, c := range filter.Must {
		if c.Key == "tenant" && c.Value == "t1" {
			sawTenant = true
		}
		if c.Key == "acl" {
			sawACL = true
			want := map[string]bool{"u1": true, "g1": true, "public": true}
			if len(c.Any) != len(want) {
				t.Errorf("acl disjunction = %v, want principals %v", c.Any, want)
			}
			for _, p := range c.Any {
				if !want[p] {
					t.Errorf("unexpected principal %q in acl filter", p)
				}
			}
		}
	}
	if !sawTenant {
		t.Error("filter.Must missing tenant condition")
	}
	if !sawACL {
		t.Error("filter.Must missing acl condition")
	}
}

func TestBuildIncludesLanguageWhenSet(t *testing.T) {
	user := identity.UserContext{UserID: "u1", TenantID: "t1", Language: "en"}
	filter, err := Build(user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawLang bool
	for _, c := range filter.Must {
		if c.Key == "lang" && c.Value == "en" {
			sawLang = true
		}
	}
	if !sawLang {
		t.Error("filter.Must missing lang condition when user.Language is set")
	}
}

func TestBuildMergesExtraConditions(t *testing.T) {
	user := identity.UserContext{UserID: "u1", TenantID: "t1"}
	extra := vectorstore.MatchCondition{Key: "docId", Value: "doc-1"}

	filter, err := Build(user, extra)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawExtra bool
	for _, c := range filter.Must {
		if c.Key == "docId" && c.Value == "doc-1" {
			sawExtra = true
		}
	}
	if !sawExtra {
		t.Error("filter.Must missing merged extra condition")
	}
}

func TestBuildFailsInvalidUser(t *testing.T) {
	_, err := Build(identity.UserContext{})
	if !errors.Is(err, identity.ErrInvalidUser) {
		t.Errorf("want ErrInvalidUser for empty tenantId, got %v", err)
	}
}
