// Package scheduler runs the periodic grant maintenance jobs.
//
// Each job has its own cron schedule. A tick that fires while the previous
// run of the same job is still going is skipped rather than queued, and
// every job can also be triggered by hand:
//
//	s, err := scheduler.New(scheduler.DefaultConfig(), scheduler.LifecycleJobs(engine), scheduler.Options{Logger: logger})
//	if err != nil {
//		return err
//	}
//	s.Start()
//	defer s.Stop(ctx)
//
//	result, err := s.Trigger(ctx, scheduler.JobScanAndExpire)
package scheduler
