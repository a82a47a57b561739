// Package transport defines the host-side interface for moving messages
// between locking engines. The engines are transport-agnostic: they queue
// outgoing acl.Message values and consume delivered ones, nothing more.
//
// A transport implementation is responsible for:
//   - draining each engine's outbox and fanning messages out to the
//     addressed receivers
//   - reporting undeliverable receivers back to the sender as Failure
//     envelopes (the engines turn these into resource state changes)
//   - calling Trigger on every engine periodically
//
// The local subpackage provides an in-memory implementation for tests and
// simulations. Production hosts bridge the same interface onto whatever
// messaging fabric connects their agents.
package transport
