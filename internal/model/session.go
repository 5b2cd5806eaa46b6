package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// VerificationState tracks where a session is in the one-time
// identity/age handshake.
type VerificationState string

const (
	VerificationUnverified VerificationState = "unverified"
	VerificationVerifying  VerificationState = "verifying"
	VerificationVerified   VerificationState = "verified"
	VerificationFailed     VerificationState = "failed"
)

// Session is one managed upstream credential plus its verification and
// quota bookkeeping. The raw Secret is persisted only in the credential
// store and must never appear in responses or logs.
type Session struct {
	ID                string            `db:"id" json:"id"`
	Secret            string            `db:"secret" json:"-"`
	VerificationState VerificationState `db:"verification_state" json:"verificationState"`
	FailureReason     string            `db:"failure_reason" json:"failureReason,omitempty"`
	DailyCount        int               `db:"daily_count" json:"dailyCount"`
	DailyWindowStart  time.Time         `db:"daily_window_start" json:"dailyWindowStart"`
	TotalCount        int64             `db:"total_count" json:"totalCount"`
	LastUsedAt        time.Time         `db:"last_used_at" json:"lastUsedAt"`
	Weight            int               `db:"weight" json:"weight"`
	Blocked           bool              `db:"blocked" json:"blocked"`
	CreatedAt         time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updatedAt"`
}

// SessionID derives the stable session identity from the raw credential.
// It is a pure function of the secret, so a reloaded credential list
// reconciles with existing durable records.
func SessionID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:16]
}

// NewSession creates a fresh unverified record for a credential.
func NewSession(secret string, weight int, now time.Time) *Session {
	return &Session{
		ID:                SessionID(secret),
		Secret:            secret,
		VerificationState: VerificationUnverified,
		Weight:            weight,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a copy safe to hand outside the pool's locks.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
