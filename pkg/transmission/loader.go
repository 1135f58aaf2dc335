package transmission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signalhouse/relay/internal/persist"
)

const (
	// maxLoaderWorkers bounds the loader pool.
	maxLoaderWorkers = 9

	loaderIdleSleep    = 2 * time.Second
	loaderBlockedSleep = 5 * time.Second
)

// Loader drains persisted transmissions back into the dispatcher when
// policy allows. When sending is permanently disallowed it still fetches
// and discards files so the disk cannot grow without bound.
type Loader struct {
	store      *persist.Store
	policy     *PolicyManager
	dispatcher *Dispatcher
	logger     *slog.Logger

	workers int
	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewLoader constructs a loader with the given worker count, clamped to
// [1, 9].
func NewLoader(workers int, store *persist.Store, policy *PolicyManager, dispatcher *Dispatcher, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > maxLoaderWorkers {
		workers = maxLoaderWorkers
	}
	return &Loader{
		store:      store,
		policy:     policy,
		dispatcher: dispatcher,
		logger:     logger,
		workers:    workers,
		stopped:    make(chan struct{}),
	}
}

// Start launches the loader goroutines.
func (l *Loader) Start() {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.loop()
		}()
	}
}

// Stop signals the loaders and joins them, bounded by the caller's context.
func (l *Loader) Stop(ctx context.Context) error {
	close(l.stopped)
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loader: %w", ctx.Err())
	}
}

func (l *Loader) loop() {
	for {
		select {
		case <-l.stopped:
			return
		default:
		}

		switch l.policy.State() {
		case StateUnblocked:
			if !l.loadOne(true) {
				l.sleep(loaderIdleSleep)
			}
		case StateBlockedAndCannotBePersist:
			// Drain the disk without resending so storage cannot
			// grow while sending is permanently disallowed.
			if !l.loadOne(false) {
				l.sleep(loaderBlockedSleep)
			}
		default:
			l.sleep(loaderBlockedSleep)
		}
	}
}

// loadOne takes the oldest persisted file. With redispatch true the decoded
// transmission re-enters the dispatcher; otherwise it is discarded. Returns
// false when no file was available or the dispatcher refused the
// transmission, in which case the file is restored to the worklist.
func (l *Loader) loadOne(redispatch bool) bool {
	loaded, err := l.store.TakeOldest()
	if err != nil {
		l.logger.Error("failed to load persisted transmission", "error", err)
		return false
	}
	if loaded == nil {
		return false
	}

	if !redispatch {
		l.store.Complete(loaded)
		l.logger.Debug("discarding persisted transmission while blocked")
		return true
	}

	t := New(loaded.Frame.Content, loaded.Frame.ContentType, loaded.Frame.ContentEncoding)
	if !l.dispatcher.Dispatch(t) {
		// Every output refused; put the file back and let the worker
		// idle instead of spinning on the same payload.
		l.store.Abandon(loaded)
		return false
	}
	l.store.Complete(loaded)
	l.logger.Debug("resubmitted persisted transmission", "transmission", t.ID)
	return true
}

// sleep waits without busy-polling, waking early on stop.
func (l *Loader) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.stopped:
	case <-timer.C:
	}
}
