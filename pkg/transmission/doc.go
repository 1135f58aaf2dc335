// Package transmission implements the send side of the export pipeline:
// compressed payloads dispatched across network and disk outputs, a policy
// state machine gating sends, exponential backoff, server-directed
// throttling, partial-success resubmission and a background loader that
// drains persisted payloads back onto the wire.
package transmission
