package dlm

import (
	"fmt"
	"time"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/token"
)

// --------------------------------------------------------------------------
// Lock States
// --------------------------------------------------------------------------

// LockState is the per-resource state of the locking engine.
type LockState uint8

const (
	// NotInterested is the initial state: no lock attempt in progress
	NotInterested LockState = iota
	// Interested means a lock attempt is in progress
	Interested
	// Locked means this agent holds the lock (critical section)
	Locked
	// Unreachable is terminal: the resource cannot be locked any more
	Unreachable
)

// String returns the string representation of a LockState.
func (s LockState) String() string {
	switch s {
	case NotInterested:
		return "not-interested"
	case Interested:
		return "interested"
	case Locked:
		return "locked"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Protocols
// --------------------------------------------------------------------------

// Protocol identifies one of the sub-protocols spoken by the engines.
type Protocol uint8

const (
	// ProtocolDiscover is the resource-owner discovery sub-protocol
	ProtocolDiscover Protocol = iota
	// ProtocolProbe is the liveness-probing sub-protocol
	ProtocolProbe
	// ProtocolRicartAgrawala is the permission-based algorithm
	ProtocolRicartAgrawala
	// ProtocolRicartAgrawalaExtended adds failure probing to Ricart–Agrawala
	ProtocolRicartAgrawalaExtended
	// ProtocolSuzukiKasami is the token-based algorithm
	ProtocolSuzukiKasami
	// ProtocolSuzukiKasamiExtended routes tokens via the owner for recovery
	ProtocolSuzukiKasamiExtended
)

// protocolTxt maps protocols to their wire tags
var protocolTxt = map[Protocol]string{
	ProtocolDiscover:               "dlm_discover",
	ProtocolProbe:                  "dlm_probe",
	ProtocolRicartAgrawala:         "ricart_agrawala",
	ProtocolRicartAgrawalaExtended: "ricart_agrawala_extended",
	ProtocolSuzukiKasami:           "suzuki_kasami",
	ProtocolSuzukiKasamiExtended:   "suzuki_kasami_extended",
}

// String returns the wire tag of a Protocol.
func (p Protocol) String() string {
	if txt, ok := protocolTxt[p]; ok {
		return txt
	}
	return "unknown"
}

// ParseProtocol converts a wire tag back to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	for p, txt := range protocolTxt {
		if txt == s {
			return p, nil
		}
	}
	return 0, NewError(RetCUnknownProtocol, fmt.Sprintf("unknown protocol tag: %s", s))
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IDLM is the host-facing interface of a distributed locking engine. One
// engine instance represents one agent. The host must serialize all calls
// on an instance; the engine performs no internal locking and never blocks.
//
// The host drives the engine by feeding delivered messages into
// OnIncomingMessage, calling Trigger periodically (about once a second)
// and draining the outbox via PopNextOutgoingMessage after every call.
type IDLM interface {
	// Self returns the agent this engine works for.
	Self() acl.AgentID

	// ActiveProtocol returns the algorithm this engine runs.
	ActiveProtocol() Protocol

	// Discover resolves the physical owner of a resource by broadcasting a
	// query to the given agents. A no-op if the owner is already known.
	Discover(resource string, agents []acl.AgentID)

	// Lock tries to lock a resource against the given communication
	// partners. GetLockState must be polled to observe the outcome. The
	// owner of the resource must be known (see Discover).
	Lock(resource string, agents []acl.AgentID) error

	// Unlock releases a resource that has been locked before. A no-op if
	// this agent does not hold the lock.
	Unlock(resource string)

	// GetLockState returns the lock state for a resource. Unknown
	// resources report NotInterested.
	GetLockState(resource string) LockState

	// GetOwner returns the known physical owner of a resource. The boolean
	// is false while discovery has not completed.
	GetOwner(resource string) (acl.AgentID, bool)

	// GetLockHolder returns the logical lock holder of a resource this
	// agent physically owns, as observed through Confirm/Disconfirm.
	GetLockHolder(resource string) (acl.AgentID, bool)

	// OnIncomingMessage must be called by the host for every delivered
	// message. It returns true if the message was consumed by the engine.
	// Sequential calls must be guaranteed.
	OnIncomingMessage(msg acl.Message) bool

	// PopNextOutgoingMessage removes and returns the next outgoing message.
	// It returns an Error with RetCOutboxEmpty if there is none.
	PopNextOutgoingMessage() (acl.Message, error)

	// HasOutgoingMessages reports whether the outbox is non-empty.
	HasOutgoingMessages() bool

	// Trigger advances the probe loop. The host should call it
	// periodically, about once a second.
	Trigger()

	// AgentFailed tells the engine that an agent is considered failed. The
	// probe loop calls this internally on probe timeout; hosts with an
	// out-of-band failure detector may call it too.
	AgentFailed(agent acl.AgentID)

	// SetProbeTimeout overrides the probe timeout (default 5s).
	SetProbeTimeout(timeout time.Duration)

	// Conversation returns the recorded messages of a conversation, in
	// exchange order.
	Conversation(conversationID string) []acl.Message
}

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

// DefaultProbeTimeout is the time a probe may stay unanswered before its
// peer is reported failed.
const DefaultProbeTimeout = 5 * time.Second

// New creates an engine for the given algorithm, working for agent self.
// Every resource listed is registered as physically owned by self; for the
// Suzuki–Kasami variants the token for each owned resource is created here.
// Tokens are serialized with the default binary serializer.
func New(protocol Protocol, self acl.AgentID, ownedResources []string) (IDLM, error) {
	return NewWithTokenSerializer(protocol, self, ownedResources, token.NewBinarySerializer())
}

// NewWithTokenSerializer is New with an explicit token serializer. All
// agents of a deployment must use the same serializer. The serializer is
// ignored by the Ricart–Agrawala variants.
func NewWithTokenSerializer(protocol Protocol, self acl.AgentID, ownedResources []string, serializer token.ISerializer) (IDLM, error) {
	switch protocol {
	case ProtocolRicartAgrawala:
		return newRicartAgrawala(ProtocolRicartAgrawala, self, ownedResources), nil
	case ProtocolRicartAgrawalaExtended:
		return newRicartAgrawalaExtended(self, ownedResources), nil
	case ProtocolSuzukiKasami:
		return newSuzukiKasami(ProtocolSuzukiKasami, self, ownedResources, serializer), nil
	case ProtocolSuzukiKasamiExtended:
		return newSuzukiKasamiExtended(self, ownedResources, serializer), nil
	default:
		return nil, NewError(RetCUnknownProtocol, fmt.Sprintf("%s is not a locking algorithm", protocol))
	}
}
