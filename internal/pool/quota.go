package pool

import (
	"time"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

// QuotaTracker maintains the rolling daily counter per session. The
// window is anchored at first use rather than wall-clock midnight, so
// resets spread out instead of clustering.
type QuotaTracker struct {
	limit  int
	window time.Duration
}

func NewQuotaTracker(limit int, window time.Duration) *QuotaTracker {
	return &QuotaTracker{limit: limit, window: window}
}

func (q *QuotaTracker) Limit() int {
	return q.limit
}

// RollWindow resets the daily counter when now has crossed into a new
// window. A session blocked only by quota becomes usable again; a
// verification failure stays blocked until reconciliation clears it.
// Returns true when the session record changed.
func (q *QuotaTracker) RollWindow(s *model.Session, now time.Time) bool {
	if s.DailyWindowStart.IsZero() || now.Sub(s.DailyWindowStart) < q.window {
		return false
	}

	s.DailyCount = 0
	s.DailyWindowStart = now
	if s.Blocked && s.VerificationState != model.VerificationFailed {
		s.Blocked = false
	}
	return true
}

func (q *QuotaTracker) windowExpired(s *model.Session, now time.Time) bool {
	return !s.DailyWindowStart.IsZero() && now.Sub(s.DailyWindowStart) >= q.window
}

// IsEligible reports whether the session has quota left in its current
// window as of now.
func (q *QuotaTracker) IsEligible(s *model.Session, now time.Time) bool {
	if q.windowExpired(s, now) {
		// Window has rolled; the counter resets on next use.
		return true
	}
	return s.DailyCount < q.limit
}

// RecordUse accounts one successful generation. The caller holds the
// session's lock and persists the record afterwards.
func (q *QuotaTracker) RecordUse(s *model.Session, now time.Time) {
	q.RollWindow(s, now)
	if s.DailyWindowStart.IsZero() {
		s.DailyWindowStart = now
	}

	if s.DailyCount < q.limit {
		s.DailyCount++
	}
	s.TotalCount++
	s.LastUsedAt = now

	if s.DailyCount >= q.limit {
		s.Blocked = true
	}
}
