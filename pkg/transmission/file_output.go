package transmission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/signalhouse/relay/internal/persist"
)

// FileOutputConfig tunes the persistence output.
type FileOutputConfig struct {
	Workers   int
	QueueSize int
}

// FileOutput persists transmissions to disk so they survive restarts and
// outages. Like the network output it owns a small worker pool and refuses
// rather than blocks: capacity pressure and the policy gate are both
// checked on the producer path.
type FileOutput struct {
	store   *persist.Store
	policy  *PolicyManager
	tracker *Tracker
	logger  *slog.Logger

	queue   chan *Transmission
	workers int
	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewFileOutput constructs the output over an opened store.
func NewFileOutput(cfg FileOutputConfig, store *persist.Store, policy *PolicyManager, tracker *Tracker, logger *slog.Logger) *FileOutput {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = workers * 8
	}
	return &FileOutput{
		store:   store,
		policy:  policy,
		tracker: tracker,
		logger:  logger,
		queue:   make(chan *Transmission, queueSize),
		workers: workers,
		stopped: make(chan struct{}),
	}
}

// Name identifies the output in dispatcher logs.
func (o *FileOutput) Name() string { return "filesystem" }

// Start launches the persistence workers.
func (o *FileOutput) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-o.stopped:
					o.drain()
					return
				case t, ok := <-o.queue:
					if !ok {
						return
					}
					o.persist(t)
				}
			}
		}()
	}
}

// Stop signals the workers and waits, bounded by the caller's context.
func (o *FileOutput) Stop(ctx context.Context) error {
	close(o.stopped)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("file output: %w", ctx.Err())
	}
}

// Send enqueues for persistence. It refuses when persistence is disallowed
// by policy, the folder is at capacity, or the queue is full.
func (o *FileOutput) Send(t *Transmission) bool {
	if o.policy.State() == StateBlockedAndCannotBePersist {
		return false
	}
	if o.store.CapacityReached() {
		return false
	}
	select {
	case <-o.stopped:
		return false
	default:
	}
	select {
	case o.queue <- t:
		return true
	default:
		return false
	}
}

// drain persists whatever was already queued when the stop signal arrived.
func (o *FileOutput) drain() {
	for {
		select {
		case t := <-o.queue:
			o.persist(t)
		default:
			return
		}
	}
}

func (o *FileOutput) persist(t *Transmission) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during transmission persist", "transmission", t.ID, "panic", r)
		}
	}()

	name, err := o.store.Write(persist.Frame{
		Content:         t.Content,
		ContentType:     t.ContentType,
		ContentEncoding: t.ContentEncoding,
	})
	if err != nil {
		o.logger.Warn("failed to persist transmission, dropping",
			"transmission", t.ID, "error", err)
		o.tracker.Forget(t.ID)
		return
	}
	o.tracker.RecordPersist(t.ID)
	o.logger.Debug("transmission persisted", "transmission", t.ID, "file", name)
}
