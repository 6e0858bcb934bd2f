// Package ratelimit implements tiered fixed-window rate limiting over the
// shared cache store. Each identity gets per-minute, per-hour and per-day
// ceilings determined by its tier; counters live in time-bucketed keys so
// windows reset at bucket boundaries rather than sliding.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Tier classifies an identity for limit selection.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAdmin         Tier = "admin"
)

// Limits holds the request ceilings for one tier across the three windows.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// tierLimits is the fixed ceiling table. Anonymous traffic is limited hard;
// admin generously, since admin tooling batches operations.
var tierLimits = map[Tier]Limits{
	TierAnonymous:     {PerMinute: 10, PerHour: 100, PerDay: 500},
	TierAuthenticated: {PerMinute: 60, PerHour: 1000, PerDay: 5000},
	TierPremium:       {PerMinute: 120, PerHour: 5000, PerDay: 20000},
	TierAdmin:         {PerMinute: 600, PerHour: 20000, PerDay: 100000},
}

// LimitsFor returns the ceilings for tier, falling back to anonymous for
// unknown tiers.
func LimitsFor(tier Tier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierAnonymous]
}

// TierFor maps an authentication context to a tier.
// Priority: admin > premium > authenticated > anonymous.
func TierFor(role string, authenticated bool) Tier {
	switch strings.ToLower(role) {
	case "admin", "superadmin":
		return TierAdmin
	case "premium":
		return TierPremium
	}
	if authenticated {
		return TierAuthenticated
	}
	return TierAnonymous
}

// IdentifierFor derives the limiting identity for a request. Precedence:
// user id, client IP, a hash of the user-agent, then a shared anonymous
// bucket - some identity always exists.
func IdentifierFor(userID, ip, userAgent string) string {
	if userID != "" {
		return "user:" + userID
	}
	if ip != "" {
		return "ip:" + ip
	}
	if userAgent != "" {
		sum := sha256.Sum256([]byte(userAgent))
		return "ua:" + hex.EncodeToString(sum[:8])
	}
	return "anonymous"
}

// window is one fixed time window with its ceiling.
type window struct {
	name     string
	duration time.Duration
	limit    int
}

func windowsFor(tier Tier) []window {
	limits := LimitsFor(tier)
	return []window{
		{name: "minute", duration: time.Minute, limit: limits.PerMinute},
		{name: "hour", duration: time.Hour, limit: limits.PerHour},
		{name: "day", duration: 24 * time.Hour, limit: limits.PerDay},
	}
}
