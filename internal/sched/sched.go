package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Job defines a periodically invoked function.
// Schedule supports only the form "@every <duration>" (e.g., "@every 5m").
// Non-overlap: if the previous run of the same job is still running,
// the tick is skipped. The reconcile cycle relies on this — cycles are
// strictly serialized, there is no cross-cycle cancellation.
//
// Name must be unique across jobs inside the same Scheduler.

type Job struct {
	Name      string
	Schedule  string
	Singleton bool // skip tick while the previous run is still active (default: true)
	Run       func(ctx context.Context) error

	// internal (guarded via atomic)
	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("job requires a run function")
	}
	return nil
}

// Scheduler runs jobs on independent tickers. Use Start to launch the
// background loops and Stop to cancel them.

type Scheduler struct {
	jobs   []*Job
	logger *slog.Logger
	quit   chan struct{}
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if _, err := parseEvery(job.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all job loops. Call Stop to cancel.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, err := parseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		go s.runJob(j, d)
	}
	return nil
}

func (s *Scheduler) runJob(j *Job, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			if j.Singleton {
				// attempt to mark running; if already true, skip this tick
				if !j.running.CompareAndSwap(false, true) {
					s.logger.Debug("tick skipped, previous run still active", "job", j.Name)
					continue
				}
			} else {
				j.running.Store(true)
			}
			go func(j *Job) {
				defer j.running.Store(false)
				if err := j.Run(context.Background()); err != nil {
					s.logger.Error("scheduled job failed", "job", j.Name, "error", err)
				}
			}(j)
		}
	}
}

// Stop cancels all jobs. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
		// already closed
	default:
		close(s.quit)
	}
}
