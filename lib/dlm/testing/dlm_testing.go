// Package testing provides shared helpers for driving multiple locking
// engines in tests. The helpers play the role of the host: they drain
// outboxes, deliver every message to every engine, and assert lock states.
package testing

import (
	"testing"

	"github.com/si3792/multiagent-distributed-locking/lib/dlm"
)

// ForwardAllMessages performs one delivery sweep: every engine's outbox is
// drained in turn and each message is offered to all engines. Messages
// produced by an engine that was already drained in this sweep stay queued
// for the next sweep.
func ForwardAllMessages(t *testing.T, engines []dlm.IDLM) {
	t.Helper()

	for _, engine := range engines {
		for engine.HasOutgoingMessages() {
			msg, err := engine.PopNextOutgoingMessage()
			if err != nil {
				t.Fatalf("failed to pop outgoing message: %v", err)
			}
			for _, receiver := range engines {
				receiver.OnIncomingMessage(msg)
			}
		}
	}
}

// SettleMessages sweeps until no engine has outgoing messages left, up to
// maxSweeps rounds. It fails the test when the system does not go quiet.
func SettleMessages(t *testing.T, engines []dlm.IDLM, maxSweeps int) {
	t.Helper()

	for i := 0; i < maxSweeps; i++ {
		pending := false
		for _, engine := range engines {
			if engine.HasOutgoingMessages() {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		ForwardAllMessages(t, engines)
	}

	t.Fatalf("message exchange did not settle within %d sweeps", maxSweeps)
}

// RequireState asserts the lock state of one resource on one engine.
func RequireState(t *testing.T, engine dlm.IDLM, resource string, want dlm.LockState) {
	t.Helper()

	if got := engine.GetLockState(resource); got != want {
		t.Fatalf("'%s' reports lock state %s for resource '%s', expected %s",
			engine.Self(), got, resource, want)
	}
}

// RequireNoOutgoing asserts that an engine produced no messages.
func RequireNoOutgoing(t *testing.T, engine dlm.IDLM) {
	t.Helper()

	if engine.HasOutgoingMessages() {
		msg, _ := engine.PopNextOutgoingMessage()
		t.Fatalf("'%s' unexpectedly produced an outgoing message: %s", engine.Self(), msg)
	}
}
