// Package scheduler runs periodic maintenance jobs (memory pruning and the
// like) on cron schedules, using robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the work a job performs on each run.
type JobFunc func(ctx context.Context) error

// Job is one scheduled maintenance task.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@daily" or "@every 6h".
	Schedule string

	// Run is called on every trigger.
	Run JobFunc

	LastRunAt *time.Time
	LastError string
	RunCount  int
}

// Scheduler manages maintenance jobs.
type Scheduler struct {
	jobs        map[string]*Job
	cron        *cron.Cron
	cronIDs     map[string]cron.EntryID
	runningJobs map[string]bool
	parser      cron.Parser

	// jobTimeout bounds a single run.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Jobs added before Start are scheduled on Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		jobTimeout: 5 * time.Minute,
		logger:     logger.With("component", "scheduler"),
		ctx:        context.Background(),
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.ID)
	}
	if _, err := s.parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if s.cron != nil {
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns the registered jobs sorted by ID.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result
}

// Start schedules every registered job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(s.parser))

	for _, job := range s.jobs {
		if err := s.scheduleLocked(job); err != nil {
			s.logger.Warn("skipping job with invalid schedule",
				"id", job.ID, "schedule", job.Schedule, "error", err)
		}
	}
	s.cron.Start()

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the cron loop and waits (up to 10s) for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	s.executeJob(job)
	return nil
}

func (s *Scheduler) scheduleLocked(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.executeJob(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// executeJob runs a job with duplicate-run protection, panic recovery and
// a timeout.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	parent := s.ctx
	s.mu.Unlock()

	start := time.Now()
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
		}

		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		job.LastRunAt = &start
		job.RunCount++
		job.LastError = ""
		if runErr != nil {
			job.LastError = runErr.Error()
		}
		s.mu.Unlock()

		if runErr != nil {
			s.logger.Error("job failed", "id", job.ID, "error", runErr)
			return
		}
		s.logger.Debug("job finished", "id", job.ID, "duration_ms", time.Since(start).Milliseconds())
	}()

	ctx, cancel := context.WithTimeout(parent, s.jobTimeout)
	defer cancel()
	runErr = job.Run(ctx)
}
