// Package telemetry defines the record model flowing through the export
// pipeline: spans and log records with typed attributes, plus the
// OpenTelemetry self-tracing bootstrap for the agent process.
package telemetry
