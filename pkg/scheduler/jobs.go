package scheduler

import (
	"context"

	"github.com/platinummonkey/ga4access/pkg/lifecycle"
)

// Job names
const (
	JobScanAndWarn             = lifecycle.ScanWarn
	JobScanAndExpire           = lifecycle.ScanExpire
	JobScanAndDowngradeEditors = lifecycle.ScanDowngrade
	JobRunDailySummary         = lifecycle.ScanSummary
	JobRetryUnsynced           = lifecycle.ScanRetry
)

// JobNames returns every job name in a stable order
func JobNames() []string {
	return []string{
		JobScanAndWarn,
		JobScanAndExpire,
		JobScanAndDowngradeEditors,
		JobRunDailySummary,
		JobRetryUnsynced,
	}
}

// RunFunc performs one run of a job and returns its result
type RunFunc func(ctx context.Context) (interface{}, error)

// Engine is the subset of the lifecycle engine the jobs drive
type Engine interface {
	ScanAndWarn(ctx context.Context) (lifecycle.WarnResult, error)
	ScanAndExpire(ctx context.Context) (lifecycle.ExpireResult, error)
	ScanAndDowngradeEditors(ctx context.Context) (lifecycle.DowngradeResult, error)
	RunDailySummary(ctx context.Context) (lifecycle.SummaryResult, error)
	RetryUnsynced(ctx context.Context) (lifecycle.RetryResult, error)
}

// LifecycleJobs maps every job name onto the engine
func LifecycleJobs(e Engine) map[string]RunFunc {
	return map[string]RunFunc{
		JobScanAndWarn: func(ctx context.Context) (interface{}, error) {
			return e.ScanAndWarn(ctx)
		},
		JobScanAndExpire: func(ctx context.Context) (interface{}, error) {
			return e.ScanAndExpire(ctx)
		},
		JobScanAndDowngradeEditors: func(ctx context.Context) (interface{}, error) {
			return e.ScanAndDowngradeEditors(ctx)
		},
		JobRunDailySummary: func(ctx context.Context) (interface{}, error) {
			return e.RunDailySummary(ctx)
		},
		JobRetryUnsynced: func(ctx context.Context) (interface{}, error) {
			return e.RetryUnsynced(ctx)
		},
	}
}
