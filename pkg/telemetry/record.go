package telemetry

import (
	"encoding/json"
	"time"
)

// RecordKind distinguishes span-shaped records from log records.
type RecordKind string

const (
	// KindSpan marks request/dependency spans produced by tracing
	// instrumentation.
	KindSpan RecordKind = "span"
	// KindLog marks log records and log-shaped spans.
	KindLog RecordKind = "log"
)

// MarkerIsLog is the attribute the capture layer sets on spans that carry
// log content. Records with this marker are treated as log-shaped by
// processor selection even when their Kind is KindSpan.
const MarkerIsLog = "ai.internal.islog"

// Record is a single telemetry item flowing through the export pipeline.
// Records are treated as immutable once captured: transformations operate on
// a Clone so the same record can feed multiple processor chains.
type Record struct {
	Kind       RecordKind
	Name       string // span name, or log body for log records
	TraceID    string
	SpanID     string
	Timestamp  time.Time
	Attributes map[string]Value
}

// NewSpan constructs a span-shaped record.
func NewSpan(name string) *Record {
	return &Record{
		Kind:       KindSpan,
		Name:       name,
		Timestamp:  time.Now().UTC(),
		Attributes: make(map[string]Value),
	}
}

// NewLog constructs a log record whose body is the given text.
func NewLog(body string) *Record {
	return &Record{
		Kind:       KindLog,
		Name:       body,
		Timestamp:  time.Now().UTC(),
		Attributes: make(map[string]Value),
	}
}

// IsLog reports whether the record is log-shaped, either by kind or by the
// capture layer's marker attribute.
func (r *Record) IsLog() bool {
	if r.Kind == KindLog {
		return true
	}
	return r.Attributes[MarkerIsLog].AsBool()
}

// SetAttribute sets or replaces a single attribute.
func (r *Record) SetAttribute(key string, value Value) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]Value)
	}
	r.Attributes[key] = value
}

// Clone returns a deep copy of the record. The attribute map is copied so
// mutations on the clone never alias the original.
func (r *Record) Clone() *Record {
	out := *r
	out.Attributes = make(map[string]Value, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	return &out
}

// recordEnvelope is the newline-delimited export item shape.
type recordEnvelope struct {
	Kind       RecordKind       `json:"kind"`
	Name       string           `json:"name"`
	Time       string           `json:"time"`
	TraceID    string           `json:"trace_id,omitempty"`
	SpanID     string           `json:"span_id,omitempty"`
	Attributes map[string]Value `json:"attributes,omitempty"`
}

// MarshalJSON encodes the record as one item of the x-json-stream export
// payload.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordEnvelope{
		Kind:       r.Kind,
		Name:       r.Name,
		Time:       r.Timestamp.UTC().Format(time.RFC3339Nano),
		TraceID:    r.TraceID,
		SpanID:     r.SpanID,
		Attributes: r.Attributes,
	})
}

// UnmarshalJSON decodes an export item back into a record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Time)
	if err != nil {
		ts = time.Time{}
	}
	r.Kind = env.Kind
	r.Name = env.Name
	r.TraceID = env.TraceID
	r.SpanID = env.SpanID
	r.Timestamp = ts
	r.Attributes = env.Attributes
	if r.Attributes == nil {
		r.Attributes = make(map[string]Value)
	}
	return nil
}
