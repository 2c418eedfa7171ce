package engine

import "github.com/ambit-dev/ambit/pkg/decision"

// Status discriminates the four terminal execution outcomes.
type Status string

const (
	// StatusSuccess indicates updates were applied and, when optimistic
	// concurrency is enabled, the scope version advanced.
	StatusSuccess Status = "success"
	// StatusRejected indicates a terminal refusal; no events, no writes,
	// no scope commit.
	StatusRejected Status = "rejected"
	// StatusFailed indicates a refusal recorded by an event; no updates
	// were applied and no scope commit occurred.
	StatusFailed Status = "failed"
	// StatusConflict indicates an optimistic concurrency mismatch at the
	// pre-check or the commit.
	StatusConflict Status = "conflict"
)

// Result is the terminal outcome of one execution. Every result states
// unambiguously which side effects, if any, occurred; switch on Status and
// handle all four cases.
type Result struct {
	// Status discriminates which of the remaining fields are meaningful.
	Status Status
	// Data is the decider-defined result data. Success only.
	Data any
	// Events are the tagged events emitted by the decision. Success and
	// failed only.
	Events []decision.Event
	// ScopeVersion is the scope version after the commit. Success only,
	// and zero when the request carried no scope operations.
	ScopeVersion int64
	// UpdatedIDs are the entity identifiers updated, in application order.
	// Success only.
	UpdatedIDs []string
	// Code is the machine-readable rejection code. Rejected only.
	Code string
	// Reason is the human-readable explanation. Rejected and failed.
	Reason string
	// CurrentVersion is the stored scope version observed at the mismatch,
	// zero when the caller expected a scope that does not exist. Conflict
	// only; callers rebuild ExpectedVersion from it before retrying.
	CurrentVersion int64
}

func rejectedResult(code, reason string) Result {
	return Result{Status: StatusRejected, Code: code, Reason: reason}
}

func conflictResult(currentVersion int64) Result {
	return Result{Status: StatusConflict, CurrentVersion: currentVersion}
}
