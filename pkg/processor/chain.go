package processor

import (
	"log/slog"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// Chain applies an ordered list of processors to each record. A processor
// that does not select a record leaves it unchanged for the next one.
type Chain struct {
	processors []Processor
	logger     *slog.Logger
}

// NewChain compiles every config in order. The first invalid config aborts
// chain construction so a misconfigured chain is never installed.
func NewChain(configs []Config, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	procs := make([]Processor, 0, len(configs))
	for _, cfg := range configs {
		p, err := New(cfg, logger)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return &Chain{processors: procs, logger: logger}, nil
}

// Len returns the number of installed processors.
func (c *Chain) Len() int { return len(c.processors) }

// Process runs the record through every processor in order and returns the
// final record. The input record is never mutated.
func (c *Chain) Process(rec *telemetry.Record) *telemetry.Record {
	cur := rec
	for _, p := range c.processors {
		if out := p.Process(cur); out != nil {
			cur = out
		}
	}
	return cur
}
