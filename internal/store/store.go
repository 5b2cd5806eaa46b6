package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

// Store is the durable credential-store contract shared by all backends.
// Save is an idempotent upsert keyed by session id. AcquireLock provides
// cross-process exclusion for one session record; the file backend runs
// single-instance and returns a no-op release.
type Store interface {
	Load(ctx context.Context) ([]*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	AcquireLock(ctx context.Context, sessionID string) (release func(), err error)
	Close() error
}

// record is the persisted form of a session. The model hides the raw
// secret from JSON; the store is the one place it round-trips.
type record struct {
	ID                string                  `json:"id"`
	Secret            string                  `json:"secret"`
	VerificationState model.VerificationState `json:"verificationState"`
	FailureReason     string                  `json:"failureReason,omitempty"`
	DailyCount        int                     `json:"dailyCount"`
	DailyWindowStart  time.Time               `json:"dailyWindowStart"`
	TotalCount        int64                   `json:"totalCount"`
	LastUsedAt        time.Time               `json:"lastUsedAt"`
	Weight            int                     `json:"weight"`
	Blocked           bool                    `json:"blocked"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

func toRecord(s *model.Session) record {
	return record{
		ID:                s.ID,
		Secret:            s.Secret,
		VerificationState: s.VerificationState,
		FailureReason:     s.FailureReason,
		DailyCount:        s.DailyCount,
		DailyWindowStart:  s.DailyWindowStart,
		TotalCount:        s.TotalCount,
		LastUsedAt:        s.LastUsedAt,
		Weight:            s.Weight,
		Blocked:           s.Blocked,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func (r record) toSession() *model.Session {
	return &model.Session{
		ID:                r.ID,
		Secret:            r.Secret,
		VerificationState: r.VerificationState,
		FailureReason:     r.FailureReason,
		DailyCount:        r.DailyCount,
		DailyWindowStart:  r.DailyWindowStart,
		TotalCount:        r.TotalCount,
		LastUsedAt:        r.LastUsedAt,
		Weight:            r.Weight,
		Blocked:           r.Blocked,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// Credential is one entry of the configured credential list.
type Credential struct {
	Secret string
	Weight int
}

// LoadCredentials reads the credential source file: one secret per line,
// optionally followed by a whitespace-separated rotation weight.
// Blank lines and '#' comments are skipped.
func LoadCredentials(path string) ([]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	var creds []Credential
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		weight := 1
		fields := strings.Fields(line)
		if len(fields) > 1 {
			if w, err := strconv.Atoi(fields[1]); err == nil && w >= 0 {
				weight = w
			}
		}
		creds = append(creds, Credential{Secret: fields[0], Weight: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	return creds, nil
}
