package transport

import (
	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/dlm"
)

// IMessageTransport is the interface for a host-side transport that moves
// messages between locking engines. The engines themselves never see this
// interface; they only produce and consume acl.Message values.
type IMessageTransport interface {
	// Register attaches an engine to the transport under its own agent id.
	Register(engine dlm.IDLM)

	// Disconnect makes an agent unreachable. Subsequent deliveries to it
	// fail and are reported to the sender as Failure envelopes.
	Disconnect(agent acl.AgentID)

	// DeliverAll drains every engine's outbox and delivers the messages,
	// sweeping until the system is quiet. It returns the number of
	// messages moved.
	DeliverAll() int

	// Tick calls Trigger on every connected engine, advancing the probe
	// loops, and delivers the resulting messages.
	Tick()
}
