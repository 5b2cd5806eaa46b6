package pool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
	"github.com/imaginegw/imagine-gateway-go/internal/store"
)

// Verifier runs the one-time identity/age handshake for a session.
type Verifier interface {
	Verify(ctx context.Context, session *model.Session) error
}

// Generator drives one generation job over a verified session.
type Generator interface {
	Generate(ctx context.Context, session *model.Session, job *model.GenerationJob, onProgress model.ProgressFunc) (*model.GenerationResult, error)
}

// sessionEntry pairs a session record with its locks. busy serializes
// the whole verify-generate-record cycle per session; mu guards field
// access so pool-wide scans read consistent snapshots without waiting
// out an in-flight generation.
type sessionEntry struct {
	busy sync.Mutex

	mu sync.Mutex
	s  *model.Session
}

func (e *sessionEntry) view() *model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone()
}

// update applies fn under the field lock and returns a clone of the
// resulting record.
func (e *sessionEntry) update(fn func(*model.Session)) *model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.s)
	return e.s.Clone()
}

// Pool owns the managed sessions and composes rotation, quota and
// verification to answer "give me a usable session" for each job.
type Pool struct {
	store       store.Store
	strategy    Strategy
	quota       *QuotaTracker
	verifier    Verifier
	generator   Generator
	maxAttempts int

	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

type Options struct {
	Store       store.Store
	Strategy    Strategy
	Quota       *QuotaTracker
	Verifier    Verifier
	Generator   Generator
	MaxAttempts int
}

func New(opts Options) *Pool {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Pool{
		store:       opts.Store,
		strategy:    opts.Strategy,
		quota:       opts.Quota,
		verifier:    opts.Verifier,
		generator:   opts.Generator,
		maxAttempts: opts.MaxAttempts,
		entries:     make(map[string]*sessionEntry),
	}
}

// Reconcile matches the configured credential list against durable
// records. Existing metadata reattaches by id; new credentials get
// fresh unverified records; durable records whose credential left the
// list are orphaned and ignored. A record persisted mid-handshake
// reloads as unverified, which makes the handshake safely retryable.
func (p *Pool) Reconcile(ctx context.Context, creds []store.Credential) (int, error) {
	durable, err := p.store.Load(ctx)
	if err != nil {
		return 0, apperrors.Store(err)
	}

	byID := make(map[string]*model.Session, len(durable))
	for _, s := range durable {
		byID[s.ID] = s
	}

	now := time.Now()
	orphaned := len(durable)
	entries := make(map[string]*sessionEntry, len(creds))
	for _, cred := range creds {
		id := model.SessionID(cred.Secret)
		s, ok := byID[id]
		if !ok {
			s = model.NewSession(cred.Secret, cred.Weight, now)
		} else {
			orphaned--
			s.Secret = cred.Secret
			s.Weight = cred.Weight
			if s.VerificationState == model.VerificationVerifying {
				s.VerificationState = model.VerificationUnverified
			}
		}
		entries[id] = &sessionEntry{s: s}
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()

	log.Info().
		Int("sessions", len(entries)).
		Int("orphaned", orphaned).
		Str("strategy", p.strategy.Name()).
		Msg("session pool reconciled")

	return len(entries), nil
}

// AcquireAndRun selects a usable session, verifies it if needed, and
// drives the job through the generator. Retryable upstream failures
// move to another session up to the bounded attempt count.
func (p *Pool) AcquireAndRun(ctx context.Context, job *model.GenerationJob, onProgress model.ProgressFunc) (*model.GenerationResult, error) {
	blacklist := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		entry := p.selectSession(blacklist)
		if entry == nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, apperrors.AllSessionsExhausted()
		}

		result, err := p.runOnSession(ctx, entry, job, onProgress)
		if err == nil {
			return result, nil
		}

		if !apperrors.IsRetryable(err) {
			return nil, err
		}

		// Retryable: keep this session out of the remaining attempts.
		// Quota/ban and verification failures blocked it durably in
		// runOnSession; transient failures carry no persistent penalty.
		blacklist[entry.view().ID] = true
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxAttempts", p.maxAttempts).
			Msg("generation attempt failed, rotating session")
	}

	return nil, lastErr
}

// selectSession snapshots the eligible set, asks the strategy for a
// candidate and takes its busy lock. Sessions already driving another
// job are skipped rather than waited on. Eligibility is re-validated
// under the lock since the snapshot is only loosely consistent.
func (p *Pool) selectSession(blacklist map[string]bool) *sessionEntry {
	excluded := make(map[string]bool, len(blacklist))
	for id := range blacklist {
		excluded[id] = true
	}

	for {
		candidates := p.eligibleSnapshot(excluded)
		if len(candidates) == 0 {
			return nil
		}

		selected := p.strategy.Select(candidates)
		if selected == nil {
			return nil
		}

		p.mu.RLock()
		entry := p.entries[selected.ID]
		p.mu.RUnlock()
		if entry == nil {
			excluded[selected.ID] = true
			continue
		}

		if !entry.busy.TryLock() {
			excluded[selected.ID] = true
			continue
		}

		if p.eligible(entry.view(), time.Now()) {
			return entry
		}
		entry.busy.Unlock()
		excluded[selected.ID] = true
	}
}

func (p *Pool) eligibleSnapshot(excluded map[string]bool) []*model.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	out := make([]*model.Session, 0, len(p.entries))
	for id, entry := range p.entries {
		if excluded[id] {
			continue
		}
		if s := entry.view(); p.eligible(s, now) {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pool) eligible(s *model.Session, now time.Time) bool {
	switch s.VerificationState {
	case model.VerificationVerified, model.VerificationUnverified:
	default:
		return false
	}
	// A quota or upstream-ban block clears when the daily window rolls;
	// failed sessions never reach here (excluded by state above).
	if s.Blocked && !p.quota.windowExpired(s, now) {
		return false
	}
	return p.quota.IsEligible(s, now)
}

// runOnSession holds the session's busy lock, plus the store-side lock
// for shared backends, across the whole verify-generate-record cycle.
// Mutations become effective only after a successful persist.
func (p *Pool) runOnSession(ctx context.Context, entry *sessionEntry, job *model.GenerationJob, onProgress model.ProgressFunc) (*model.GenerationResult, error) {
	defer entry.busy.Unlock()

	sessionID := entry.view().ID

	release, err := p.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	defer release()

	rolled := false
	entry.update(func(s *model.Session) {
		rolled = p.quota.RollWindow(s, time.Now())
	})
	if rolled {
		p.persist(ctx, entry)
	}

	if entry.view().VerificationState == model.VerificationUnverified {
		if err := p.verifySession(ctx, entry); err != nil {
			return nil, err
		}
	}

	job.SessionID = sessionID
	result, err := p.generator.Generate(ctx, entry.view(), job, onProgress)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeUpstreamRejected {
			// Quota/ban signal from upstream: take the session out of
			// rotation durably.
			entry.update(func(s *model.Session) { s.Blocked = true })
			p.persist(ctx, entry)
		}
		return nil, err
	}

	entry.update(func(s *model.Session) {
		p.quota.RecordUse(s, time.Now())
	})
	p.persist(ctx, entry)

	return result, nil
}

// verifySession drives the unverified session through the handshake.
// Verifying is an in-memory state only; a crash mid-handshake reloads
// as unverified.
func (p *Pool) verifySession(ctx context.Context, entry *sessionEntry) error {
	snapshot := entry.update(func(s *model.Session) {
		s.VerificationState = model.VerificationVerifying
	})

	if err := p.verifier.Verify(ctx, snapshot); err != nil {
		entry.update(func(s *model.Session) {
			s.VerificationState = model.VerificationFailed
			s.FailureReason = err.Error()
			s.Blocked = true
		})
		p.persist(ctx, entry)

		log.Warn().
			Str("sessionId", snapshot.ID).
			Str("reason", err.Error()).
			Msg("session verification failed")
		return apperrors.VerificationFailed(err.Error())
	}

	entry.update(func(s *model.Session) {
		s.VerificationState = model.VerificationVerified
		s.FailureReason = ""
	})
	p.persist(ctx, entry)

	log.Info().Str("sessionId", snapshot.ID).Msg("session verified")
	return nil
}

// persist saves the record, logging instead of failing the job when the
// write goes wrong: a generation that already completed upstream is
// still returned to the caller, and the lost accounting update is
// accepted as drift.
func (p *Pool) persist(ctx context.Context, entry *sessionEntry) {
	snapshot := entry.update(func(s *model.Session) {
		s.UpdatedAt = time.Now()
	})
	if err := p.store.Save(ctx, snapshot); err != nil {
		log.Error().Err(err).Str("sessionId", snapshot.ID).Msg("failed to persist session record")
	}
}

func (p *Pool) allEntries() []*sessionEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*sessionEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// MaintenanceSweep rolls expired daily windows so quota-blocked
// sessions re-enter rotation without waiting for a selection attempt.
func (p *Pool) MaintenanceSweep(ctx context.Context, now time.Time) int {
	rolled := 0
	for _, entry := range p.allEntries() {
		changed := false
		entry.update(func(s *model.Session) {
			changed = p.quota.RollWindow(s, now)
		})
		if changed {
			p.persist(ctx, entry)
			rolled++
		}
	}
	return rolled
}

// ResetDailyUsage zeroes every session's window counter and clears
// quota blocks. Verification failures stay blocked.
func (p *Pool) ResetDailyUsage(ctx context.Context) {
	for _, entry := range p.allEntries() {
		entry.update(func(s *model.Session) {
			s.DailyCount = 0
			s.DailyWindowStart = time.Time{}
			if s.VerificationState != model.VerificationFailed {
				s.Blocked = false
			}
		})
		p.persist(ctx, entry)
	}
}

// SessionStatus is one session's admin-facing view. No secret material.
type SessionStatus struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	UsedToday     int       `json:"usedToday"`
	Remaining     int       `json:"remaining"`
	TotalCount    int64     `json:"totalCount"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
	Blocked       bool      `json:"blocked"`
	FailureReason string    `json:"failureReason,omitempty"`
}

type Status struct {
	TotalSessions int             `json:"totalSessions"`
	Eligible      int             `json:"eligible"`
	Blocked       int             `json:"blocked"`
	Strategy      string          `json:"strategy"`
	DailyLimit    int             `json:"dailyLimit"`
	Sessions      []SessionStatus `json:"sessions"`
}

func (p *Pool) Status() Status {
	now := time.Now()
	st := Status{
		Strategy:   p.strategy.Name(),
		DailyLimit: p.quota.Limit(),
	}
	for _, entry := range p.allEntries() {
		s := entry.view()
		st.TotalSessions++
		remaining := p.quota.Limit() - s.DailyCount
		if remaining < 0 {
			remaining = 0
		}
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:            s.ID,
			State:         string(s.VerificationState),
			UsedToday:     s.DailyCount,
			Remaining:     remaining,
			TotalCount:    s.TotalCount,
			LastUsedAt:    s.LastUsedAt,
			Blocked:       s.Blocked,
			FailureReason: s.FailureReason,
		})
		if s.Blocked {
			st.Blocked++
		}
		if p.eligible(s, now) {
			st.Eligible++
		}
	}
	return st
}
