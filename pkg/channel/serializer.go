package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/signalhouse/relay/pkg/telemetry"
	"github.com/signalhouse/relay/pkg/transmission"
)

// ErrNothingToSerialize is returned when no record of a batch could be
// encoded.
var ErrNothingToSerialize = errors.New("channel: nothing to serialize")

// Serializer turns a record batch into one compressed newline-delimited JSON
// transmission. Records that fail to encode are logged and skipped rather
// than failing the batch.
type Serializer struct {
	metrics *Metrics
	logger  *slog.Logger
}

// NewSerializer constructs a serializer.
func NewSerializer(metrics *Metrics, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{metrics: metrics, logger: logger}
}

// Serialize encodes and compresses a batch.
func (s *Serializer) Serialize(batch []*telemetry.Record) (*transmission.Transmission, error) {
	var buf bytes.Buffer
	encoded := 0
	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			s.logger.Warn("dropping unencodable record", "record", rec.Name, "error", err)
			if s.metrics != nil {
				s.metrics.RecordSerializationFailure()
			}
			continue
		}
		if encoded > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
		encoded++
	}
	if encoded == 0 {
		return nil, ErrNothingToSerialize
	}

	compressed, err := transmission.Gzip(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return transmission.New(compressed, transmission.ContentTypeJSONStream, transmission.ContentEncodingGzip), nil
}
