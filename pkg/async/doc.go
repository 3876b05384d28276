// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery,
// per-task timeouts, context cancellation and error collection. Panics and
// errors are reported through logrus instead of crashing the process.
//
// # Key Functions
//
// SafeGo runs a fire-and-forget task, for example a welcome email after
// registration:
//
//	async.SafeGo(ctx, 30*time.Second, "welcome email", func(ctx context.Context) error {
//		_, err := dispatcher.HandleEvent(ctx, event)
//		return err
//	})
//
// Batch processes a candidate set with a bounded number of workers. The
// lifecycle scans use it so one slow GA4 call cannot stall the others:
//
//	errs := async.Batch(ctx, candidates, 4, "expire", time.Minute, func(ctx context.Context, g *grants.Grant) error {
//		return engine.expireOne(ctx, g)
//	})
package async
