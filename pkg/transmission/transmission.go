package transmission

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Wire constants for the ingestion contract.
const (
	ContentTypeJSONStream = "application/x-json-stream"
	ContentEncodingGzip   = "gzip"
)

// Transmission is a single serialized, compressed, ready-to-send payload.
// The value itself is immutable; retry and persistence counters live in the
// Tracker, keyed by ID.
type Transmission struct {
	ID              string
	Content         []byte
	ContentType     string
	ContentEncoding string
}

// New wraps a payload with its metadata and a fresh identity.
func New(content []byte, contentType, contentEncoding string) *Transmission {
	return &Transmission{
		ID:              uuid.NewString(),
		Content:         content,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
	}
}

// Items splits the transmission back into its newline-delimited source
// items, decompressing first when the content is gzip-encoded.
func (t *Transmission) Items() ([]string, error) {
	raw := t.Content
	if t.ContentEncoding == ContentEncodingGzip {
		var err error
		raw, err = Gunzip(raw)
		if err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return splitLines(raw), nil
}

func splitLines(raw []byte) []string {
	var items []string
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		items = append(items, string(line))
	}
	return items
}

// Gzip compresses a payload.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("transmission: compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("transmission: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a payload.
func Gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transmission: decompress: %w", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("transmission: decompress: %w", err)
	}
	return out, nil
}

// Tracker records per-transmission send and persistence counts, keeping the
// payload value itself immutable.
type Tracker struct {
	mu       sync.Mutex
	sends    map[string]int
	persists map[string]int
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sends:    make(map[string]int),
		persists: make(map[string]int),
	}
}

// RecordSend increments and returns the send count for a transmission.
func (tr *Tracker) RecordSend(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sends[id]++
	return tr.sends[id]
}

// RecordPersist increments and returns the persistence count.
func (tr *Tracker) RecordPersist(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.persists[id]++
	return tr.persists[id]
}

// Sends returns the current send count.
func (tr *Tracker) Sends(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sends[id]
}

// Persists returns the current persistence count.
func (tr *Tracker) Persists(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.persists[id]
}

// Forget drops all counters for a transmission once its lifecycle ends.
func (tr *Tracker) Forget(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.sends, id)
	delete(tr.persists, id)
}
