package transmission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureOutput is a test double that records what it was handed.
type captureOutput struct {
	name   string
	accept bool

	mu  sync.Mutex
	got []*Transmission
}

func (c *captureOutput) Name() string { return c.name }

func (c *captureOutput) Send(t *Transmission) bool {
	if !c.accept {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, t)
	return true
}

func (c *captureOutput) all() []*Transmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Transmission(nil), c.got...)
}

func TestDispatchStopsAtFirstAcceptingOutput(t *testing.T) {
	first := &captureOutput{name: "first", accept: true}
	second := &captureOutput{name: "second", accept: true}
	d := NewDispatcher(nil, first, second)

	tr := New([]byte("payload"), ContentTypeJSONStream, "")
	assert.True(t, d.Dispatch(tr))
	assert.Len(t, first.all(), 1)
	assert.Empty(t, second.all())
}

func TestDispatchFallsThroughRefusals(t *testing.T) {
	first := &captureOutput{name: "first", accept: false}
	second := &captureOutput{name: "second", accept: true}
	d := NewDispatcher(nil, first, second)

	tr := New([]byte("payload"), ContentTypeJSONStream, "")
	assert.True(t, d.Dispatch(tr))
	assert.Empty(t, first.all())
	assert.Len(t, second.all(), 1)
}

func TestDispatchReportsTotalRefusal(t *testing.T) {
	d := NewDispatcher(nil, &captureOutput{name: "only", accept: false})
	assert.False(t, d.Dispatch(New(nil, ContentTypeJSONStream, "")))
}
