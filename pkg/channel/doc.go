// Package channel buffers processed telemetry records, serializes them into
// compressed newline-delimited JSON batches and dispatches the resulting
// transmissions to the configured outputs.
package channel
