package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrJobNotFound is returned for unknown job names.
var ErrJobNotFound = errors.New("cron job not found")

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// Job defines a recurring background task. Fn returns a short summary that
// is kept as the job's last message.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// Timeout bounds one run. Zero means Interval.
	Timeout time.Duration
	Fn      func(ctx context.Context) (string, error)
}

type jobState struct {
	Job
	mu        sync.Mutex
	status    JobStatus
	message   string
	lastRunAt *time.Time
	nextRunAt time.Time
}

// ListItem is the serializable representation of a job for the API.
type ListItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Interval    string     `json:"interval"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	NextDate    *time.Time `json:"next_date"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// TaskResult is returned when polling a job's execution status.
type TaskResult struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Scheduler runs a fixed set of named jobs on intervals.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger *zap.Logger
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*jobState),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("CronService")
	return s
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 {
		panic(fmt.Sprintf("cron: job %q has no interval", job.Name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{
		Job:       job,
		status:    StatusIdle,
		nextRunAt: time.Now().Add(job.Interval),
	}
}

// Start launches every registered job loop. Loops stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, js)
	}
}

// Wait blocks until all loops and manual runs have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runLoop(ctx context.Context, js *jobState) {
	defer s.wg.Done()
	for {
		js.mu.Lock()
		wait := time.Until(js.nextRunAt)
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = time.Now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

// execute runs js once unless it is already running.
func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return
	}
	js.status = StatusRunning
	js.mu.Unlock()

	timeout := js.Timeout
	if timeout <= 0 {
		timeout = js.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now()
	msg, err := s.call(ctx, js)

	js.mu.Lock()
	js.lastRunAt = &now
	if err != nil {
		js.status = StatusReject
		js.message = err.Error()
	} else {
		js.status = StatusFulfill
		js.message = msg
	}
	js.mu.Unlock()

	if err != nil {
		s.logger.Warn("cron job failed", zap.String("job", js.Name), zap.Error(err))
		return
	}
	s.logger.Info("cron job done", zap.String("job", js.Name), zap.String("result", msg), zap.Duration("took", time.Since(now)))
}

func (s *Scheduler) call(ctx context.Context, js *jobState) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return js.Fn(ctx)
}

// Run triggers a job by name in the background. The run outlives ctx.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(bg, js)
	}()
	return nil
}

// GetTask returns the current execution state of a job.
func (s *Scheduler) GetTask(name string) (*TaskResult, error) {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	return &TaskResult{Status: js.status, Message: js.message}, nil
}

// List returns all registered jobs ordered by name.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		next := js.nextRunAt
		items = append(items, ListItem{
			Name:        js.Name,
			Description: js.Description,
			Interval:    js.Interval.String(),
			Status:      js.status,
			Message:     js.message,
			NextDate:    &next,
			LastRunAt:   js.lastRunAt,
		})
		js.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
