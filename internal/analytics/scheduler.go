package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a periodic task run by the Scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. A job never overlaps itself: a slow
// run delays the next tick instead of starting a second run. Failures are logged
// and the next tick proceeds as usual.
type Scheduler struct {
	jobs       []Job
	runOnStart bool
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func NewScheduler(logger *zap.Logger, runOnStart bool, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// AggregationJobs returns the aggregation and retention jobs for s.
func AggregationJobs(s *Service, aggregationInterval, retentionInterval time.Duration) []Job {
	return []Job{
		{
			Name:     JobAggregation,
			Interval: aggregationInterval,
			Run: func(ctx context.Context) error {
				_, err := s.Aggregate(ctx)
				return err
			},
		},
		{
			Name:     JobRetention,
			Interval: retentionInterval,
			Run: func(ctx context.Context) error {
				_, err := s.Retention(ctx)
				return err
			},
		},
	}
}

// Start launches one goroutine per job. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("Scheduled job started",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
	)

	if s.runOnStart {
		s.run(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx, job)
		case <-ctx.Done():
			s.logger.Info("Scheduled job stopped", zap.String("job", job.Name))
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		s.logger.Warn("Scheduled job failed, waiting for next tick",
			zap.String("job", job.Name),
			zap.Error(err),
		)
	}
}
