package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper rolls expired quota windows and persists the refreshed
// records.
type Sweeper interface {
	MaintenanceSweep(ctx context.Context, now time.Time) int
}

// MaintenanceJob periodically sweeps the session pool so quota-blocked
// sessions come back into rotation once their window passes.
type MaintenanceJob struct {
	pool     Sweeper
	interval time.Duration
	done     chan struct{}
}

func NewMaintenanceJob(pool Sweeper, interval time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		pool:     pool,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("pool maintenance job started")
}

func (j *MaintenanceJob) Stop() {
	close(j.done)
	log.Info().Msg("pool maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *MaintenanceJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if rolled := j.pool.MaintenanceSweep(ctx, time.Now()); rolled > 0 {
		log.Info().Int("rolled", rolled).Msg("quota windows rolled")
	}
}
