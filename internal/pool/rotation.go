package pool

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

// Strategy picks the next session from an eligible snapshot. Selection
// is pure over the snapshot except for strategy-local cursors, which
// stay per-instance even with a shared store.
type Strategy interface {
	Name() string
	Select(eligible []*model.Session) *model.Session
}

// NewStrategy returns the strategy registered under name. The set is
// closed; configuration picks one of the known variants.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round_robin":
		return &roundRobin{}, nil
	case "least_used":
		return leastUsed{}, nil
	case "least_recent":
		return leastRecent{}, nil
	case "weighted":
		return weighted{}, nil
	case "hybrid", "":
		return hybrid{}, nil
	default:
		return nil, fmt.Errorf("unknown rotation strategy %q", name)
	}
}

func sortByID(sessions []*model.Session) []*model.Session {
	out := make([]*model.Session, len(sessions))
	copy(out, sessions)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// roundRobin cycles over the eligible set in stable id order. The
// cursor advances by one per call regardless of outcome.
type roundRobin struct {
	mu     sync.Mutex
	cursor int
}

func (*roundRobin) Name() string { return "round_robin" }

func (s *roundRobin) Select(eligible []*model.Session) *model.Session {
	if len(eligible) == 0 {
		return nil
	}

	ordered := sortByID(eligible)

	s.mu.Lock()
	defer s.mu.Unlock()
	selected := ordered[s.cursor%len(ordered)]
	s.cursor++
	return selected
}

// leastUsed prefers the session with the lowest lifetime count, ties
// broken by earliest id.
type leastUsed struct{}

func (leastUsed) Name() string { return "least_used" }

func (leastUsed) Select(eligible []*model.Session) *model.Session {
	if len(eligible) == 0 {
		return nil
	}

	ordered := sortByID(eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalCount < ordered[j].TotalCount
	})
	return ordered[0]
}

// leastRecent prefers the session idle the longest; never-used sessions
// sort first.
type leastRecent struct{}

func (leastRecent) Name() string { return "least_recent" }

func (leastRecent) Select(eligible []*model.Session) *model.Session {
	if len(eligible) == 0 {
		return nil
	}

	ordered := sortByID(eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastUsedAt.Before(ordered[j].LastUsedAt)
	})
	return ordered[0]
}

// weighted picks probabilistically in proportion to configured weight.
// Zero-weight sessions are never selected unless nothing else is
// eligible.
type weighted struct{}

func (weighted) Name() string { return "weighted" }

func (weighted) Select(eligible []*model.Session) *model.Session {
	if len(eligible) == 0 {
		return nil
	}

	ordered := sortByID(eligible)

	total := 0
	for _, s := range ordered {
		total += s.Weight
	}
	if total == 0 {
		return ordered[0]
	}

	n := rand.Intn(total)
	for _, s := range ordered {
		if s.Weight == 0 {
			continue
		}
		n -= s.Weight
		if n < 0 {
			return s
		}
	}
	return ordered[len(ordered)-1]
}

// hybrid is the default: least quota consumed today first, then least
// recently used, then stable id order on full ties.
type hybrid struct{}

func (hybrid) Name() string { return "hybrid" }

func (hybrid) Select(eligible []*model.Session) *model.Session {
	if len(eligible) == 0 {
		return nil
	}

	ordered := sortByID(eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DailyCount != ordered[j].DailyCount {
			return ordered[i].DailyCount < ordered[j].DailyCount
		}
		return ordered[i].LastUsedAt.Before(ordered[j].LastUsedAt)
	})
	return ordered[0]
}
