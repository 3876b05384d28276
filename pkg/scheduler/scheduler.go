package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownJob is returned when triggering a job that is not registered
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned when a job is triggered while already running
	ErrJobRunning = errors.New("job already running")
	// ErrStopped is returned when triggering a job after Stop
	ErrStopped = errors.New("scheduler stopped")
)

// Run outcomes reported to Metrics
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Config holds cron schedules per job name
type Config struct {
	Schedules map[string]string
	// Location is the time zone the schedules are evaluated in. Defaults to UTC.
	Location *time.Location
	// JobTimeout bounds a single scheduled run. Manual triggers use the
	// caller's context.
	JobTimeout time.Duration
}

// DefaultConfig returns the stock schedules: warnings, expiry and sync
// retries hourly, the downgrade scan and the admin summary daily.
func DefaultConfig() Config {
	return Config{
		Schedules: map[string]string{
			JobScanAndWarn:             "0 * * * *",
			JobScanAndExpire:           "15 * * * *",
			JobRetryUnsynced:           "30 * * * *",
			JobScanAndDowngradeEditors: "0 2 * * *",
			JobRunDailySummary:         "0 8 * * *",
		},
		Location:   time.UTC,
		JobTimeout: 30 * time.Minute,
	}
}

// Metrics receives job run observations
type Metrics interface {
	RecordJobRun(job, outcome string, duration time.Duration)
}

// Options are optional collaborators
type Options struct {
	Logger  *logrus.Logger
	Clock   clockwork.Clock
	Metrics Metrics
}

// JobStatus is a snapshot of one job
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Skipped      int64         `json:"skipped"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastResult   interface{}   `json:"last_result,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
}

type job struct {
	name     string
	schedule string
	run      RunFunc
	entry    cron.EntryID
	running  atomic.Bool

	mu      sync.Mutex
	runs    int64
	skipped int64
	lastRun *time.Time
	lastDur time.Duration
	lastErr string
	lastRes interface{}
}

// Scheduler owns the cron loop and the per-job state. There is no package
// level state; create one per process.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*job
	cfg     Config
	logger  *logrus.Logger
	clock   clockwork.Clock
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Stop's wg.Wait
	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New registers every job that has a schedule. Jobs without a schedule are
// still available through Trigger.
func New(cfg Config, jobs map[string]RunFunc, opts Options) (*Scheduler, error) {
	if len(jobs) == 0 {
		return nil, errors.New("scheduler: no jobs")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cron.PrintfLogger(opts.Logger))),
		),
		jobs:    make(map[string]*job, len(jobs)),
		cfg:     cfg,
		logger:  opts.Logger,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}

	for name, run := range jobs {
		j := &job{name: name, run: run, schedule: cfg.Schedules[name]}
		s.jobs[name] = j
		if j.schedule == "" {
			continue
		}
		id, err := s.cron.AddFunc(j.schedule, func() { s.scheduled(j) })
		if err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: invalid schedule %q for %s: %w", j.schedule, name, err)
		}
		j.entry = id
	}
	for name := range cfg.Schedules {
		if _, ok := jobs[name]; !ok {
			cancel()
			return nil, fmt.Errorf("scheduler: schedule for %w %q", ErrUnknownJob, name)
		}
	}
	return s, nil
}

// Start begins firing scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	fields := logrus.Fields{}
	for name, j := range s.jobs {
		if j.schedule != "" {
			fields[name] = j.schedule
		}
	}
	s.logger.WithFields(fields).Info("Scheduler started")
}

// Stop halts the cron loop, cancels running jobs and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return nil
	}
	s.stopped.Store(true)
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: jobs still running at shutdown: %w", ctx.Err())
	}
}

// Trigger runs a job now and returns its result. It fails with
// ErrJobRunning instead of waiting when the job is already running.
func (s *Scheduler) Trigger(ctx context.Context, name string) (interface{}, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.stopped.Load() {
		return nil, ErrStopped
	}

	// stop cancels manual runs too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.run(ctx, j, "manual")
}

// Status returns a snapshot of every job ordered by name
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := JobStatus{
			Name:         j.name,
			Schedule:     j.schedule,
			Running:      j.running.Load(),
			Runs:         j.runs,
			Skipped:      j.skipped,
			LastRun:      j.lastRun,
			LastDuration: j.lastDur,
			LastError:    j.lastErr,
			LastResult:   j.lastRes,
		}
		j.mu.Unlock()
		if j.schedule != "" {
			if next := s.cron.Entry(j.entry).Next; !next.IsZero() {
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) scheduled(j *job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	if _, err := s.run(ctx, j, "schedule"); errors.Is(err, ErrJobRunning) {
		s.logger.WithField("job", j.name).Warn("Previous run still in progress; skipping tick")
	}
}

// begin registers a run with the wait group unless the scheduler is stopped
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) run(ctx context.Context, j *job, trigger string) (interface{}, error) {
	if !s.begin() {
		return nil, ErrStopped
	}
	defer s.wg.Done()

	if !j.running.CompareAndSwap(false, true) {
		j.mu.Lock()
		j.skipped++
		j.mu.Unlock()
		s.observe(j.name, OutcomeSkipped, 0)
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, j.name)
	}
	defer j.running.Store(false)

	log := s.logger.WithFields(logrus.Fields{"job": j.name, "trigger": trigger})
	log.Info("Job started")

	start := s.clock.Now()
	result, err := j.run(ctx)
	duration := s.clock.Since(start)

	j.mu.Lock()
	j.runs++
	j.lastRun = &start
	j.lastDur = duration
	j.lastRes = result
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	log = log.WithField("duration", duration.String())
	if err != nil {
		s.observe(j.name, OutcomeFailure, duration)
		log.WithError(err).Error("Job failed")
		return result, err
	}
	s.observe(j.name, OutcomeSuccess, duration)
	log.WithField("result", result).Info("Job finished")
	return result, nil
}

func (s *Scheduler) observe(name, outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordJobRun(name, outcome, d)
	}
}
