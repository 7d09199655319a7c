// Package scheduler runs the hourly upload sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/services/operations"
)

var (
	mu         sync.Mutex
	cronRunner *cron.Cron
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

const sweepSpec = "0 * * * *"

// StartSweepScheduler starts the cron job that expires abandoned upload
// sessions once per hour.
func StartSweepScheduler(sweeper *operations.SweeperService, logger *logrus.Logger) error {
	if sweeper == nil {
		return fmt.Errorf("sweeper service is required")
	}

	mu.Lock()
	defer mu.Unlock()

	if cronRunner != nil {
		ctx := cronRunner.Stop()
		<-ctx.Done()
	}

	cronRunner = cron.New(cron.WithParser(cronParser))

	job := func() {
		runSweepJob(sweeper, logger)
	}

	if _, err := cronRunner.AddFunc(sweepSpec, job); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	cronRunner.Start()

	if logger != nil {
		logger.WithField("schedule", sweepSpec).Info("upload sweep scheduler started")
	}
	return nil
}

// StopScheduler stops the cron runner and waits for a running job to end.
func StopScheduler() {
	mu.Lock()
	defer mu.Unlock()

	if cronRunner != nil {
		ctx := cronRunner.Stop()
		<-ctx.Done()
		cronRunner = nil
	}
}

func runSweepJob(sweeper *operations.SweeperService, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	expired, err := sweeper.Sweep(ctx)
	if err != nil {
		if log != nil {
			log.WithError(err).Error("sweep scheduler: sweep failed")
		}
		return
	}

	if log != nil && expired > 0 {
		log.WithField("expired", expired).Info("sweep scheduler: sweep completed")
	}
}
