// Package processor implements the rule-based transformation pipeline
// applied to telemetry records before export: attribute insert/update/
// delete/hash/extract/mask actions and regex-driven span/log renaming,
// all declaratively configured and validated at construction time.
package processor
