// Package engine orchestrates decision execution across a dynamic consistency
// boundary: scope key validation, the optimistic pre-check, all-or-nothing
// entity loading, decider invocation, ordered update application, uniform
// event tagging, and the optimistic commit.
//
// The engine is a single-invocation orchestration with no cross-call shared
// state. All effects flow through injected collaborators, and safety against
// concurrent decisions on the same scope rests on two integer comparisons:
// the pre-check bounds the window in which a stale snapshot could drive the
// decision, and the commit re-verifies the version before declaring success.
// The engine never retries; conflicts are returned with the current version
// so the caller can re-read and resubmit under its own retry policy.
//
// Update application runs before the scope commit, so a commit conflict
// leaves already-applied updates in place. Hosts that need cross-entity
// atomicity must wrap load, apply, and commit in one transactional unit.
package engine
