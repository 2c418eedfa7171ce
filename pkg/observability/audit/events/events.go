// Package events defines canonical audit event names for command execution.
//
// The names intentionally remain stable (`engine.*`) so operational
// consumers can rely on these values across releases.
package events

const (
	// CommandExecuted captures durable audit events for command executions
	// that produced a result, regardless of outcome.
	CommandExecuted = "engine.command.executed"
	// CommandErrored captures command executions that aborted before
	// producing a result because of an infrastructure or wiring error.
	CommandErrored = "engine.command.errored"
)
