package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

func run(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("panic in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Warn("background task failed")
	}
}

// Tracker runs fire-and-forget work such as audit writes and alert
// deliveries in goroutines guarded by panic recovery and a timeout. Failures
// are logged. Callers can wait for the in-flight tasks.
type Tracker struct {
	logger logrus.FieldLogger
	wg     sync.WaitGroup
}

// NewTracker creates a tracker that logs task failures to logger
func NewTracker(logger logrus.FieldLogger) *Tracker {
	return &Tracker{logger: logger}
}

// Go starts fn in the background. fn gets a context derived from parentCtx
// that expires after timeout.
func (t *Tracker) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run(parentCtx, t.logger, timeout, taskName, fn)
	}()
}

// Wait blocks until every started task has finished or ctx is done
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

// Batch processes items concurrently with at most workers tasks in flight.
// Each task gets its own timeout and panic recovery. Returns all errors encountered.
//
// Example:
//
//	errs := Batch(ctx, entries, 4, "audit replay", 5*time.Second, func(ctx context.Context, e *AuditLogEntry) error {
//	    return store.InsertAuditLog(ctx, e)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(fmt.Errorf("%s: %w", taskName, err))
			break
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer sem.Release(1)

			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("%s: panic: %v", taskName, r))
				}
			}()

			if err := fn(taskCtx, item); err != nil {
				record(err)
			}
		}(item)
	}

	wg.Wait()
	return errs
}
