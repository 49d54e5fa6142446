// Package async provides safe concurrent execution primitives for background tasks.
//
// Tracker runs a function in a goroutine with panic recovery and a timeout,
// and remembers in-flight tasks so shutdown can wait for them:
//
//	tracker := async.NewTracker(logger)
//	tracker.Go(context.WithoutCancel(r.Context()), 5*time.Second, "audit write", write)
//	_ = tracker.Wait(shutdownCtx)
//
// Batch processes a slice with bounded concurrency and collects every error:
//
//	errs := async.Batch(ctx, entries, 4, "audit replay", 5*time.Second, insert)
package async
