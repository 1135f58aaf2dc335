package transmission

import "log/slog"

// Output is a destination a transmission can be handed to. Send returns
// true when the output takes ownership; it must never block the caller on
// I/O.
type Output interface {
	Name() string
	Send(t *Transmission) bool
}

// Dispatcher tries a fixed, ordered list of outputs until one accepts. When
// every output refuses, the transmission is dropped with a log line; retry
// is the handlers' responsibility, never the dispatcher's.
type Dispatcher struct {
	outputs []Output
	logger  *slog.Logger
}

// NewDispatcher builds a dispatcher over the given outputs, tried in order.
func NewDispatcher(logger *slog.Logger, outputs ...Output) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{outputs: outputs, logger: logger}
}

// Dispatch hands the transmission to the first accepting output. It reports
// whether any output took ownership.
func (d *Dispatcher) Dispatch(t *Transmission) bool {
	for _, out := range d.outputs {
		if out.Send(t) {
			return true
		}
	}
	d.logger.Warn("transmission dropped, all outputs refused",
		"transmission", t.ID, "bytes", len(t.Content))
	return false
}
