package pipeline

import (
	"github.com/causewayhq/requestcore/pkg/cache"
	"github.com/causewayhq/requestcore/pkg/ratelimit"
)

// Identity describes the caller of a pipeline run. The zero value is an
// anonymous caller.
type Identity struct {
	UserID        string
	TenantID      string
	Role          string
	Authenticated bool
	IP            string
	UserAgent     string
}

// Tier resolves the caller's rate limit tier.
func (id Identity) Tier() ratelimit.Tier {
	return ratelimit.TierFor(id.Role, id.Authenticated)
}

// RateIdentifier resolves the identifier rate limit counters are keyed on.
func (id Identity) RateIdentifier() string {
	return ratelimit.IdentifierFor(id.UserID, id.IP, id.UserAgent)
}

// cacheKey scopes a logical key to the caller per the requested scope.
// Non-public scopes without a matching identity degrade to narrower ones so
// a missing tenant id can never leak tenant data through a shared key.
func (id Identity) cacheKey(scope cache.Scope, raw string) cache.Key {
	switch scope {
	case cache.ScopeTenant:
		if id.TenantID != "" {
			return cache.TenantKey(id.TenantID, raw)
		}
		return cache.UserKey(id.UserID, raw)
	case cache.ScopeUser:
		return cache.UserKey(id.UserID, raw)
	default:
		return cache.PublicKey(raw)
	}
}
