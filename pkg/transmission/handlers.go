package transmission

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Response carries the full outcome of one send attempt into the handler
// chain.
type Response struct {
	StatusCode   int
	Err          error
	RetryAfter   string
	Body         []byte
	Transmission *Transmission
}

// retryableStatus lists the codes a rejected item or failed send may be
// retried on.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, // 408
		http.StatusInternalServerError, // 500
		http.StatusServiceUnavailable,  // 503
		http.StatusTooManyRequests,     // 429
		statusThrottledOverExtended:    // 439
		return true
	}
	return false
}

// statusThrottledOverExtended is the non-standard throttling code some
// ingestion endpoints emit alongside 429.
const statusThrottledOverExtended = 439

// Handlers reacts to send outcomes: transient errors re-dispatch with
// bounded instant retries before backing off, throttling suspends per the
// server's Retry-After, and partial successes resubmit exactly the
// rejected-and-retryable subset.
type Handlers struct {
	policy            *PolicyManager
	dispatcher        *Dispatcher
	tracker           *Tracker
	maxInstantRetries int
	logger            *slog.Logger
}

// NewHandlers wires the handler chain.
func NewHandlers(policy *PolicyManager, dispatcher *Dispatcher, tracker *Tracker, maxInstantRetries int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInstantRetries < 0 {
		maxInstantRetries = 0
	}
	return &Handlers{
		policy:            policy,
		dispatcher:        dispatcher,
		tracker:           tracker,
		maxInstantRetries: maxInstantRetries,
		logger:            logger,
	}
}

// Handle routes one send outcome. The BackoffState belongs to the sending
// goroutine that observed the outcome.
func (h *Handlers) Handle(resp Response, s *BackoffState) {
	switch {
	case resp.Err != nil:
		h.handleError(resp, s)
	case resp.StatusCode == http.StatusPartialContent:
		h.handlePartialSuccess(resp)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == statusThrottledOverExtended:
		h.handleThrottling(resp, s)
	case retryableStatus(resp.StatusCode):
		h.handleError(resp, s)
	default:
		// Permanent failure: logged, never retried.
		h.logger.Warn("transmission rejected",
			"transmission", resp.Transmission.ID,
			"status", resp.StatusCode,
			"body", truncateForLog(resp.Body))
		h.tracker.Forget(resp.Transmission.ID)
	}
}

// handleError covers network failures and retryable server errors. A
// bounded number of instant retries is free; past that every retry pays the
// backoff cost first.
func (h *Handlers) handleError(resp Response, s *BackoffState) {
	t := resp.Transmission
	sends := h.tracker.RecordSend(t.ID)
	if sends > h.maxInstantRetries {
		d := h.policy.Backoff(s)
		h.logger.Info("send failed, backing off",
			"transmission", t.ID, "sends", sends, "suspend", d, "status", resp.StatusCode, "error", resp.Err)
	} else {
		h.logger.Debug("send failed, instant retry",
			"transmission", t.ID, "sends", sends, "status", resp.StatusCode, "error", resp.Err)
	}
	h.dispatcher.Dispatch(t)
}

// handleThrottling honours the server's Retry-After date, falling back to
// the backoff schedule when the header cannot be parsed. The transmission is
// always redispatched so it lands in persistence or waits for unblock.
func (h *Handlers) handleThrottling(resp Response, s *BackoffState) {
	t := resp.Transmission
	if wait, err := retryAfterDelay(resp.RetryAfter); err == nil {
		h.policy.SuspendInSeconds(StateBlockedButCanBePersisted, wait)
		h.logger.Info("throttled by server",
			"transmission", t.ID, "status", resp.StatusCode, "retry_after", wait)
	} else {
		h.policy.Backoff(s)
		h.logger.Warn("throttled with unparseable Retry-After, backing off",
			"transmission", t.ID, "header", resp.RetryAfter, "error", err)
	}
	h.tracker.RecordSend(t.ID)
	h.dispatcher.Dispatch(t)
}

// retryAfterDelay converts an RFC-1123-style Retry-After date into a wait
// duration. http.ParseTime understands the GMT formats servers emit.
func retryAfterDelay(header string) (time.Duration, error) {
	when, err := http.ParseTime(strings.TrimSpace(header))
	if err != nil {
		return 0, err
	}
	d := time.Until(when)
	if d < 0 {
		d = 0
	}
	return d, nil
}

// partialResponse is the 206 JSON body shape.
type partialResponse struct {
	ItemsReceived int `json:"itemsReceived"`
	ItemsAccepted int `json:"itemsAccepted"`
	Errors        []struct {
		Index      int    `json:"index"`
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	} `json:"errors"`
}

// handlePartialSuccess re-collects the rejected-and-retryable items into a
// fresh transmission. When the server's received count disagrees with the
// original item count the whole response is treated as unrecoverable and
// dropped rather than guessing at indexes.
func (h *Handlers) handlePartialSuccess(resp Response) {
	t := resp.Transmission
	defer h.tracker.Forget(t.ID)

	var parsed partialResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		h.logger.Warn("unparseable partial success body", "transmission", t.ID, "error", err)
		return
	}

	items, err := t.Items()
	if err != nil {
		h.logger.Warn("cannot reconstruct items from transmission", "transmission", t.ID, "error", err)
		return
	}
	if parsed.ItemsReceived != len(items) {
		h.logger.Warn("partial success item count mismatch, dropping",
			"transmission", t.ID, "received", parsed.ItemsReceived, "items", len(items))
		return
	}

	var resend []string
	for _, e := range parsed.Errors {
		if e.Index < 0 || e.Index >= len(items) {
			continue
		}
		if retryableStatus(e.StatusCode) {
			resend = append(resend, items[e.Index])
		}
	}
	if len(resend) == 0 {
		return
	}

	payload, err := Gzip([]byte(strings.Join(resend, "\n")))
	if err != nil {
		h.logger.Error("failed to rebuild partial batch", "transmission", t.ID, "error", err)
		return
	}
	retry := New(payload, ContentTypeJSONStream, ContentEncodingGzip)
	h.logger.Info("resubmitting rejected items",
		"transmission", t.ID, "retry", retry.ID,
		"accepted", parsed.ItemsAccepted, "resend", len(resend))
	h.dispatcher.Dispatch(retry)
}

func truncateForLog(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
