// Package decision defines the outcome primitives a decider produces and the
// context it consumes.
//
// A decider is a pure function over aggregated entity state and a command. It
// returns exactly one of three outcomes: success (state changes and events),
// rejected (terminal refusal that leaves no trace), or failed (terminal
// refusal that still emits an event as the durable record for downstream
// compensation). Every consumer of an Output must switch on its Outcome and
// handle all three cases; the silent-refusal versus recorded-refusal split is
// the core contract.
package decision

import (
	"errors"
	"fmt"
)

// Outcome discriminates the three decider results.
type Outcome string

const (
	// OutcomeSuccess indicates the decider accepted the command.
	OutcomeSuccess Outcome = "success"
	// OutcomeRejected indicates a terminal refusal with no event emitted.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed indicates a terminal refusal recorded by an event.
	OutcomeFailed Outcome = "failed"
)

// Output is the result of one decider invocation.
//
// Construct Output only through Success, Rejected, Failed, or their metadata
// variants. Direct construction bypasses the outcome discipline consumers
// rely on.
type Output struct {
	// Outcome discriminates which of the remaining fields are meaningful.
	Outcome Outcome
	// Data is decider-defined result data. Success only.
	Data any
	// Events are the emitted events, untagged until the engine stamps them.
	// Success and failed only; rejected outcomes never carry events.
	Events []Event
	// Updates are the per-entity state changes to apply, in decision order.
	// Success only.
	Updates Updates
	// Code is the machine-readable rejection code. Rejected only.
	Code string
	// Reason is the human-readable explanation. Rejected and failed.
	Reason string
	// Metadata carries optional diagnostic context for logs and audit.
	Metadata map[string]any
}

// Success builds a state-changing outcome with result data, the updates to
// apply, and the event(s) to emit.
func Success(data any, updates Updates, events ...Event) Output {
	return Output{
		Outcome: OutcomeSuccess,
		Data:    data,
		Events:  events,
		Updates: updates,
	}
}

// Rejected builds a terminal, non-event-producing outcome for precondition or
// business-rule violations. The caller must assume no state changed and should
// not retry without changing input.
func Rejected(code, reason string) Output {
	return Output{
		Outcome: OutcomeRejected,
		Code:    code,
		Reason:  reason,
	}
}

// RejectedWithMetadata builds a rejected outcome with diagnostic context.
func RejectedWithMetadata(code, reason string, metadata map[string]any) Output {
	return Output{
		Outcome:  OutcomeRejected,
		Code:     code,
		Reason:   reason,
		Metadata: metadata,
	}
}

// Failed builds a terminal outcome that does emit an event despite refusing
// the request. The event is the durable record used by downstream
// compensation logic.
func Failed(reason string, event Event) Output {
	return Output{
		Outcome: OutcomeFailed,
		Reason:  reason,
		Events:  []Event{event},
	}
}

// FailedWithMetadata builds a failed outcome with diagnostic context.
func FailedWithMetadata(reason string, event Event, metadata map[string]any) Output {
	return Output{
		Outcome:  OutcomeFailed,
		Reason:   reason,
		Events:   []Event{event},
		Metadata: metadata,
	}
}

// Validate checks the structural integrity of an output. A non-nil error is a
// decider contract bug, not a business outcome.
func (o Output) Validate() error {
	switch o.Outcome {
	case OutcomeSuccess:
		seen := make(map[string]struct{}, len(o.Updates))
		for _, update := range o.Updates {
			if update.EntityID == "" {
				return errors.New("success update has an empty entity id")
			}
			if _, dup := seen[update.EntityID]; dup {
				return fmt.Errorf("duplicate update for entity %s", update.EntityID)
			}
			seen[update.EntityID] = struct{}{}
		}
		return nil
	case OutcomeRejected:
		if o.Code == "" {
			return errors.New("rejected outcome requires a code")
		}
		if len(o.Events) != 0 {
			return errors.New("rejected outcome must not carry events")
		}
		if len(o.Updates) != 0 {
			return errors.New("rejected outcome must not carry updates")
		}
		return nil
	case OutcomeFailed:
		if len(o.Events) == 0 {
			return errors.New("failed outcome requires an event")
		}
		if len(o.Updates) != 0 {
			return errors.New("failed outcome must not carry updates")
		}
		return nil
	default:
		return fmt.Errorf("unknown outcome %q", o.Outcome)
	}
}
