package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/adapter"
	"github.com/ops-euc-admin/ops-app-repo/internal/store"
	"github.com/ops-euc-admin/ops-app-repo/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepInterval is how often expired in-memory entries are purged
const DefaultSweepInterval = time.Minute

// Scheduler runs the periodic knowledge sync and store housekeeping
type Scheduler struct {
	cron          *cron.Cron
	interval      time.Duration
	adapters      []adapter.Adapter
	syncManager   sync.ManagerInterface
	sweepers      []store.Sweeper
	sweepInterval time.Duration
}

// New creates a new scheduler. A zero interval or nil manager disables the
// sync job.
func New(interval time.Duration, adapters []adapter.Adapter, syncManager sync.ManagerInterface) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		interval:      interval,
		adapters:      adapters,
		syncManager:   syncManager,
		sweepInterval: DefaultSweepInterval,
	}
}

// AddSweeper registers a store whose expired entries are purged periodically
func (s *Scheduler) AddSweeper(sw store.Sweeper) {
	s.sweepers = append(s.sweepers, sw)
}

// Start schedules the jobs and blocks until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	if s.syncManager != nil && s.interval > 0 {
		logrus.Infof("Starting knowledge sync scheduler with interval: %v", s.interval)
		_, err := s.cron.AddFunc(fmt.Sprintf("@every %v", s.interval), func() {
			logrus.Info("Running scheduled sync")
			if err := s.RunSync(); err != nil {
				logrus.Errorf("Scheduled sync failed: %v", err)
			}
		})
		if err != nil {
			logrus.Errorf("Failed to schedule sync job: %v", err)
			return
		}
	}

	if len(s.sweepers) > 0 {
		_, err := s.cron.AddFunc(fmt.Sprintf("@every %v", s.sweepInterval), func() {
			s.RunSweep(ctx)
		})
		if err != nil {
			logrus.Errorf("Failed to schedule store sweep: %v", err)
			return
		}
	}

	s.cron.Start()

	<-ctx.Done()
	logrus.Info("Stopping scheduler...")
	<-s.cron.Stop().Done()
}

// RunSync runs a synchronization cycle
func (s *Scheduler) RunSync() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	return s.syncManager.SyncFiles(ctx, s.adapters)
}

// RunSweep purges expired entries from every registered store
func (s *Scheduler) RunSweep(ctx context.Context) {
	for _, sw := range s.sweepers {
		n, err := sw.Sweep(ctx)
		if err != nil {
			logrus.Warnf("Store sweep failed: %v", err)
			continue
		}
		if n > 0 {
			logrus.Debugf("Swept %d expired store entries", n)
		}
	}
}
