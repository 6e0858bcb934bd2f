package cache

import (
	"fmt"
	"strings"
)

// Scope namespaces cache keys so logically separate views never share a
// physical key. Separation is enforced purely by key construction.
type Scope string

const (
	// ScopePublic is shared data visible to everyone.
	ScopePublic Scope = "public"

	// ScopeUser is data private to one user.
	ScopeUser Scope = "user"

	// ScopeTenant is data shared within one tenant/organization.
	ScopeTenant Scope = "tenant"
)

// Key is a scoped cache key. Raw is the caller's logical key; Identity is
// the user or tenant id for non-public scopes.
type Key struct {
	Scope    Scope
	Identity string
	Raw      string
}

// PublicKey builds a key in the public scope.
func PublicKey(raw string) Key {
	return Key{Scope: ScopePublic, Raw: raw}
}

// UserKey builds a key scoped to one user.
func UserKey(userID, raw string) Key {
	return Key{Scope: ScopeUser, Identity: userID, Raw: raw}
}

// TenantKey builds a key scoped to one tenant.
func TenantKey(tenantID, raw string) Key {
	return Key{Scope: ScopeTenant, Identity: tenantID, Raw: raw}
}

// String generates the deterministic physical key.
// Format: scope:identity:raw, e.g. "user:42:donations:recent".
// The identity segment is sanitized so a crafted identity cannot collide
// with another scope's layout.
func (k Key) String() string {
	scope := k.Scope
	if scope == "" {
		scope = ScopePublic
	}

	identity := strings.ReplaceAll(k.Identity, ":", "_")
	return fmt.Sprintf("%s:%s:%s", scope, identity, k.Raw)
}
