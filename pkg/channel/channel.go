package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/signalhouse/relay/internal/persist"
	"github.com/signalhouse/relay/pkg/processor"
	"github.com/signalhouse/relay/pkg/telemetry"
	"github.com/signalhouse/relay/pkg/transmission"
)

// Options configures a channel end to end.
type Options struct {
	// Endpoint is the ingestion URL transmissions are posted to.
	Endpoint string
	// MaxBatchSize flushes the buffer when this many records accumulate.
	MaxBatchSize int
	// FlushInterval flushes a non-empty buffer after this long.
	FlushInterval time.Duration
	// StorageFolder holds persisted transmissions across restarts.
	StorageFolder string
	// DiskCapacityKB caps the storage folder size.
	DiskCapacityKB int64
	// MaxInstantRetries is the number of failed sends redispatched without
	// paying a backoff first.
	MaxInstantRetries int
	// Throttling enables server-directed suspension. When false the policy
	// gate stays open permanently.
	Throttling bool
	// Backoff selects the wait schedule; nil means the exponential table.
	Backoff transmission.BackoffPolicy
	// NetworkWorkers and LoaderWorkers size the send and reload pools.
	NetworkWorkers int
	LoaderWorkers  int
	// MaxRedirects bounds how many permanent redirects one endpoint may
	// accumulate.
	MaxRedirects int
	// ClientFactory overrides the HTTP client construction, mainly in tests.
	ClientFactory transmission.ClientFactory
}

// Channel is the full export pipeline: records run through the processor
// chain, accumulate in the buffer, and on flush are serialized and handed to
// the dispatcher, which tries the network first and disk second.
type Channel struct {
	chain      *processor.Chain
	buffer     *Buffer
	serializer *Serializer
	dispatcher *transmission.Dispatcher

	policy  *transmission.PolicyManager
	tracker *transmission.Tracker
	store   *persist.Store
	network *transmission.NetworkOutput
	file    *transmission.FileOutput
	loader  *transmission.Loader

	metrics *Metrics
	logger  *slog.Logger

	startOnce sync.Once
	started   bool
	mu        sync.Mutex
}

// New wires a channel from its options and an already-compiled processor
// chain. Start must be called before records are accepted.
func New(opts Options, chain *processor.Chain, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Endpoint == "" {
		return nil, errors.New("channel: endpoint is required")
	}
	if opts.MaxBatchSize < 1 {
		opts.MaxBatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 15 * time.Second
	}
	if opts.DiskCapacityKB < 1 {
		opts.DiskCapacityKB = 10 * 1024
	}

	store, err := persist.NewStore(opts.StorageFolder, opts.DiskCapacityKB, logger)
	if err != nil {
		return nil, err
	}

	backoff := opts.Backoff
	if backoff == nil {
		backoff = transmission.NewExponentialBackoff()
	}
	policy := transmission.NewPolicyManager(backoff, opts.Throttling, logger)
	tracker := transmission.NewTracker()

	network := transmission.NewNetworkOutput(transmission.NetworkConfig{
		Endpoint:     opts.Endpoint,
		Workers:      opts.NetworkWorkers,
		MaxRedirects: opts.MaxRedirects,
		Factory:      opts.ClientFactory,
	}, policy, tracker, logger)
	file := transmission.NewFileOutput(transmission.FileOutputConfig{
		Workers: 1,
	}, store, policy, tracker, logger)

	metrics := NewMetrics()
	c := &Channel{
		chain:      chain,
		policy:     policy,
		tracker:    tracker,
		store:      store,
		network:    network,
		file:       file,
		metrics:    metrics,
		serializer: NewSerializer(metrics, logger),
		logger:     logger,
	}

	c.dispatcher = transmission.NewDispatcher(logger, network, file)
	network.SetHandlers(transmission.NewHandlers(
		policy, c.dispatcher, tracker, opts.MaxInstantRetries, logger))
	c.loader = transmission.NewLoader(opts.LoaderWorkers, store, policy, c.dispatcher, logger)
	c.buffer = NewBuffer(opts.MaxBatchSize, opts.FlushInterval, c.flushBatch)
	return c, nil
}

// Start launches the output pools and the loader. Safe to call more than
// once; only the first call does anything.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		c.network.Start()
		c.file.Start()
		c.loader.Start()
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		c.logger.Info("channel started")
	})
}

// Send runs one record through the processor chain and buffers the result.
// Records are refused before Start.
func (c *Channel) Send(rec *telemetry.Record) bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started || rec == nil {
		return false
	}
	if c.chain != nil {
		rec = c.chain.Process(rec)
	}
	c.buffer.Add(rec)
	c.metrics.RecordBuffered()
	return true
}

// Flush forces out whatever is buffered.
func (c *Channel) Flush() {
	c.buffer.Flush()
}

// Reconfigure applies new buffer limits, flushing immediately when they got
// stricter.
func (c *Channel) Reconfigure(maxBatchSize int, flushInterval time.Duration) {
	c.buffer.Reconfigure(maxBatchSize, flushInterval)
	c.logger.Info("buffer reconfigured",
		"max_batch_size", maxBatchSize, "flush_interval", flushInterval)
}

// Metrics exposes the channel's Prometheus metrics.
func (c *Channel) Metrics() *Metrics {
	return c.metrics
}

// Stop flushes the buffer and shuts the pipeline down within the caller's
// deadline. The loader stops first so nothing re-enters the dispatcher while
// the outputs drain.
func (c *Channel) Stop(ctx context.Context) error {
	c.buffer.Flush()

	var errs []error
	if err := c.loader.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.network.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.file.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info("channel stopped")
	return errors.Join(errs...)
}

// flushBatch is the buffer's FlushFunc: serialize and dispatch.
func (c *Channel) flushBatch(batch []*telemetry.Record, trigger string) {
	c.metrics.RecordFlush(trigger)
	t, err := c.serializer.Serialize(batch)
	if err != nil {
		if !errors.Is(err, ErrNothingToSerialize) {
			c.logger.Error("failed to serialize batch", "records", len(batch), "error", err)
		}
		return
	}
	accepted := c.dispatcher.Dispatch(t)
	c.metrics.RecordDispatch(accepted)
	c.logger.Debug("batch flushed",
		"trigger", trigger, "records", len(batch), "transmission", t.ID, "accepted", accepted)
}
