package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/users"
)

type jobMetrics struct {
	mu   sync.Mutex
	runs map[string]int
}

func (m *jobMetrics) RecordJobRun(job, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[job+"/"+outcome]++
}

func (m *jobMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[key]
}

func newTestScheduler(t *testing.T, cfg Config, jobs map[string]RunFunc) (*Scheduler, *jobMetrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	metrics := &jobMetrics{}
	s, err := New(cfg, jobs, Options{Logger: logger, Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, metrics
}

func TestNew_Validation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	_, err := New(DefaultConfig(), nil, Options{Logger: logger})
	assert.Error(t, err)

	_, err = New(Config{Schedules: map[string]string{"a": "not a cron"}}, map[string]RunFunc{"a": noop}, Options{Logger: logger})
	assert.Error(t, err)

	_, err = New(Config{Schedules: map[string]string{"b": "@hourly"}}, map[string]RunFunc{"a": noop}, Options{Logger: logger})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestTrigger(t *testing.T) {
	s, metrics := newTestScheduler(t, Config{}, map[string]RunFunc{
		"ok":   func(ctx context.Context) (interface{}, error) { return 7, nil },
		"fail": func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") },
	})
	ctx := context.Background()

	res, err := s.Trigger(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, 7, res)

	_, err = s.Trigger(ctx, "fail")
	assert.EqualError(t, err, "boom")

	_, err = s.Trigger(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	assert.Equal(t, 1, metrics.count("ok/success"))
	assert.Equal(t, 1, metrics.count("fail/failure"))

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "fail", status[0].Name)
	assert.Equal(t, "boom", status[0].LastError)
	assert.Equal(t, "ok", status[1].Name)
	assert.Equal(t, int64(1), status[1].Runs)
	assert.Equal(t, 7, status[1].LastResult)
	assert.NotNil(t, status[1].LastRun)
	assert.Nil(t, status[1].NextRun)
}

func TestTrigger_OverlapIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, metrics := newTestScheduler(t, Config{}, map[string]RunFunc{
		"slow": func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Trigger(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err := s.Trigger(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, s.Status()[0].Running)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, metrics.count("slow/skipped"))
	assert.Equal(t, int64(1), s.Status()[0].Runs)
	assert.Equal(t, int64(1), s.Status()[0].Skipped)
}

func TestTrigger_CallerCancellation(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, map[string]RunFunc{
		"wait": func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Trigger(ctx, "wait")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduledRun(t *testing.T) {
	var runs atomic.Int32
	s, _ := newTestScheduler(t, Config{Schedules: map[string]string{"tick": "@every 1s"}}, map[string]RunFunc{
		"tick": func(ctx context.Context) (interface{}, error) {
			runs.Add(1)
			return nil, nil
		},
	})

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.NotNil(t, s.Status()[0].NextRun)
}

func TestStop_CancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	s, _ := newTestScheduler(t, Config{}, map[string]RunFunc{
		"wait": func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Trigger(context.Background(), "wait")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := s.Trigger(context.Background(), "wait")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStop_RacesWithTriggers(t *testing.T) {
	var runs atomic.Int64
	s, _ := newTestScheduler(t, Config{}, map[string]RunFunc{
		"quick": func(ctx context.Context) (interface{}, error) {
			runs.Add(1)
			return nil, nil
		},
	})

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, 64)
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Trigger(context.Background(), "quick")
			errs <- err
		}()
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	wg.Wait()
	close(errs)

	var stopped int64
	for err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrStopped):
			stopped++
		default:
			assert.ErrorIs(t, err, ErrJobRunning)
		}
	}
	assert.LessOrEqual(t, runs.Load(), int64(64)-stopped)

	_, err := s.Trigger(context.Background(), "quick")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestLifecycleJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	engine, err := lifecycle.New(lifecycle.DefaultConfig(), lifecycle.Deps{
		Repo:     grants.NewMemoryRepository(),
		Provider: ga4.NewMemoryProvider(),
		Users:    users.NewMemoryStore(),
		Logger:   logger,
	})
	require.NoError(t, err)

	jobs := LifecycleJobs(engine)
	assert.Len(t, jobs, len(JobNames()))

	s, _ := newTestScheduler(t, DefaultConfig(), jobs)
	for _, name := range JobNames() {
		_, err := s.Trigger(context.Background(), name)
		assert.NoError(t, err, name)
	}

	res, err := s.Trigger(context.Background(), JobScanAndExpire)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ExpireResult{}, res)

	for _, st := range s.Status() {
		assert.NotEmpty(t, st.Schedule, st.Name)
	}
}
