// Package audit contains durable in-product audit writes for command execution.
//
// This package owns persisted operational audit events that are used for
// incident analysis and cross-service debugging of decider executions.
//
// For distributed tracing, hosts still use package `internal/platform/otel`.
package audit
