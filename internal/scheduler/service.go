// Package scheduler runs housekeeping jobs on fixed intervals.
package scheduler

import (
	"context"
	"sync"
	"time"

	"skyportal/pkg/logger"
)

// Job is one unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs    []Job
	logger  logger.Logger
	timeout time.Duration
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewScheduler(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		logger:  log,
		timeout: 30 * time.Second,
		stop:    make(chan struct{}),
	}
}

// Schedule adds a job. Jobs must be scheduled before Start.
func (s *Scheduler) Schedule(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Info("Scheduled job", map[string]interface{}{
		"job":      job.Name,
		"interval": job.Interval.String(),
	})
}

// Start runs each job on its own ticker until Stop.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	s.logger.Info("Scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
}

// Stop halts the tickers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(job)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := job.Run(ctx); err != nil {
		s.logger.Error("Scheduled job failed", map[string]interface{}{
			"job":   job.Name,
			"error": err.Error(),
		})
	}
}
