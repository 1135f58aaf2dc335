package transmission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ClientFactory produces the HTTP client used for ingestion posts. It is
// invoked once, lazily, when the first send happens, so constructing a
// channel never touches the network stack.
type ClientFactory func() *http.Client

// DefaultClientFactory builds a client with an OpenTelemetry-instrumented
// transport and a conservative request timeout.
func DefaultClientFactory() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   60 * time.Second,
		// Redirect handling is the output's job: 308 targets are
		// cached per endpoint.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NetworkConfig tunes the network output.
type NetworkConfig struct {
	Endpoint     string
	Workers      int
	QueueSize    int
	MaxRedirects int
	Factory      ClientFactory
}

// NetworkOutput posts transmissions to the ingestion endpoint on a small
// bounded worker pool. Send refuses immediately when the policy gate is not
// open or the queue is full; producers never block on network I/O.
type NetworkOutput struct {
	endpoint  string
	policy    *PolicyManager
	tracker   *Tracker
	handlers  *Handlers
	redirects *redirectCache
	logger    *slog.Logger

	factory    ClientFactory
	clientOnce sync.Once
	client     *http.Client

	queue   chan *Transmission
	workers int
	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewNetworkOutput constructs the output. Start must be called before any
// transmission is accepted.
func NewNetworkOutput(cfg NetworkConfig, policy *PolicyManager, tracker *Tracker, logger *slog.Logger) *NetworkOutput {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = workers * 4
	}
	factory := cfg.Factory
	if factory == nil {
		factory = DefaultClientFactory
	}
	return &NetworkOutput{
		endpoint:  cfg.Endpoint,
		policy:    policy,
		tracker:   tracker,
		redirects: newRedirectCache(cfg.MaxRedirects),
		logger:    logger,
		factory:   factory,
		queue:     make(chan *Transmission, queueSize),
		workers:   workers,
		stopped:   make(chan struct{}),
	}
}

// SetHandlers installs the outcome handler chain. The dispatcher inside the
// chain refers back to this output, so wiring happens after construction.
func (o *NetworkOutput) SetHandlers(h *Handlers) { o.handlers = h }

// Name identifies the output in dispatcher logs.
func (o *NetworkOutput) Name() string { return "network" }

// Start launches the worker pool. Each worker owns its backoff cursor.
func (o *NetworkOutput) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			state := NewBackoffState()
			for {
				select {
				case <-o.stopped:
					o.drain(state)
					return
				case t, ok := <-o.queue:
					if !ok {
						return
					}
					o.send(t, state)
				}
			}
		}()
	}
}

// Stop signals the workers and waits for in-flight sends, bounded by the
// caller's context.
func (o *NetworkOutput) Stop(ctx context.Context) error {
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
		return fmt.Errorf("network output: %w", ctx.Err())
	}
}

// Send enqueues for an async POST. It refuses without blocking when the
// policy gate is closed or the queue is full.
func (o *NetworkOutput) Send(t *Transmission) bool {
	if o.policy.State() != StateUnblocked {
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

// drain sends whatever was already queued when the stop signal arrived.
func (o *NetworkOutput) drain(state *BackoffState) {
	for {
		select {
		case t := <-o.queue:
			o.send(t, state)
		default:
			return
		}
	}
}

func (o *NetworkOutput) httpClient() *http.Client {
	o.clientOnce.Do(func() { o.client = o.factory() })
	return o.client
}

// send performs the POST and hands every non-success outcome to the handler
// chain. A worker panic is caught so a single bad transmission cannot kill
// the pool.
func (o *NetworkOutput) send(t *Transmission, state *BackoffState) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during transmission send", "transmission", t.ID, "panic", r)
		}
	}()

	url := o.redirects.Resolve(o.endpoint)
	for {
		resp, err := o.post(url, t)
		if err != nil {
			o.handlers.Handle(Response{Err: err, Transmission: t}, state)
			return
		}
		if resp.StatusCode == http.StatusPermanentRedirect {
			target := resp.Header.Get("Location")
			resp.Body.Close()
			if !o.redirects.Store(o.endpoint, target) {
				o.logger.Warn("redirect budget exhausted, dropping",
					"transmission", t.ID, "endpoint", o.endpoint)
				o.tracker.Forget(t.ID)
				return
			}
			url = target
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusPartialContent {
			o.policy.ClearBackoff(state)
			o.tracker.Forget(t.ID)
			o.logger.Debug("transmission accepted", "transmission", t.ID, "status", resp.StatusCode)
			return
		}

		o.handlers.Handle(Response{
			StatusCode:   resp.StatusCode,
			RetryAfter:   resp.Header.Get("Retry-After"),
			Body:         body,
			Transmission: t,
		}, state)
		return
	}
}

func (o *NetworkOutput) post(url string, t *Transmission) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(t.Content))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", t.ContentType)
	if t.ContentEncoding != "" {
		req.Header.Set("Content-Encoding", t.ContentEncoding)
	}
	return o.httpClient().Do(req)
}
