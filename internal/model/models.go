package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a phone-number identity, created on the first successful OTP
// verification. This subsystem never deletes identities.
type Identity struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Phone     string    `json:"phone" db:"phone"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DeviceInfo is coarse metadata captured at session creation. Platform and
// browser are derived from the user agent on a best-effort basis.
type DeviceInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Browser   string `json:"browser,omitempty"`
}

// Session is the durable session record. Only a SHA-256 digest of the opaque
// token is stored; the plaintext token is returned to the client exactly once
// and every lookup path hashes the presented token before querying.
type Session struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	IdentityID uuid.UUID  `json:"identity_id" db:"identity_id"`
	TokenHash  string     `json:"-" db:"token_hash"`
	DeviceInfo DeviceInfo `json:"device_info" db:"device_info"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// OtpChallenge is the ephemeral per-phone challenge stored in Redis. At most
// one lives at a time; issuance replaces any prior state.
type OtpChallenge struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"` // unix milliseconds
	Attempts  int    `json:"attempts"`
}

// Expired reports whether the challenge is past its absolute expiry.
func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.UnixMilli() > c.ExpiresAt
}

// SessionCacheEntry is the Redis projection of a session, keyed by token
// hash. It is a performance hint only; the durable row stays authoritative.
type SessionCacheEntry struct {
	SessionID  uuid.UUID `json:"session_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionSummary is what session-listing endpoints expose.
type SessionSummary struct {
	ID         uuid.UUID  `json:"id"`
	DeviceInfo DeviceInfo `json:"device_info"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsActive   bool       `json:"is_active"`
}

// Summary projects a session into its listing view.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		DeviceInfo: s.DeviceInfo,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		ExpiresAt:  s.ExpiresAt,
		IsActive:   s.IsActive,
	}
}
