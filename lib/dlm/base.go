package dlm

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// log is the shared engine logger
var log = logger.GetLogger("dlm")

// --------------------------------------------------------------------------
// Shared Engine Base
// --------------------------------------------------------------------------

// dlmBase carries the state and sub-protocols shared by all engine
// variants: the outbox, conversation management, resource-owner discovery,
// lock-holder tracking and liveness probing. The algorithm engines embed
// it and plug themselves in through the agentFailedFn hook.
type dlmBase struct {
	self     acl.AgentID
	protocol Protocol

	// FIFO of outgoing messages, drained by the host
	outbox []acl.Message
	// counter for conversation ids of the form "<self>_<counter>"
	convCounter uint64

	// resource -> physical owner; an empty owner marks pending discovery
	ownedResources map[string]acl.AgentID
	// resource -> logical lock holder, for resources owned by self
	lockHolders map[string]acl.AgentID

	// peer -> probe runner
	probeRunners map[acl.AgentID]*probeRunner
	probeTimeout time.Duration

	// conversation id -> exchanged messages, in order. Concurrent map so
	// hosts may inspect conversations while the engine is driven from its
	// own goroutine.
	conversations *xsync.MapOf[string, []acl.Message]

	// agentFailedFn points at the embedding engine's AgentFailed
	agentFailedFn func(agent acl.AgentID)

	// clock is time.Now, replaceable in tests
	clock func() time.Time
}

// newBase initializes the shared state. Every listed resource is owned by
// self from the start.
func newBase(protocol Protocol, self acl.AgentID, ownedResources []string) dlmBase {
	owned := make(map[string]acl.AgentID, len(ownedResources))
	for _, resource := range ownedResources {
		owned[resource] = self
	}

	return dlmBase{
		self:           self,
		protocol:       protocol,
		ownedResources: owned,
		lockHolders:    make(map[string]acl.AgentID),
		probeRunners:   make(map[acl.AgentID]*probeRunner),
		probeTimeout:   DefaultProbeTimeout,
		conversations:  xsync.NewMapOf[string, []acl.Message](),
		clock:          time.Now,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

func (b *dlmBase) Self() acl.AgentID {
	return b.self
}

func (b *dlmBase) ActiveProtocol() Protocol {
	return b.protocol
}

func (b *dlmBase) SetProbeTimeout(timeout time.Duration) {
	b.probeTimeout = timeout
}

func (b *dlmBase) HasOutgoingMessages() bool {
	return len(b.outbox) != 0
}

func (b *dlmBase) PopNextOutgoingMessage() (acl.Message, error) {
	if !b.HasOutgoingMessages() {
		return acl.Message{}, NewError(RetCOutboxEmpty, "no outgoing messages")
	}
	msg := b.outbox[0]
	b.outbox = b.outbox[1:]
	return msg, nil
}

func (b *dlmBase) GetOwner(resource string) (acl.AgentID, bool) {
	owner, ok := b.ownedResources[resource]
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}

func (b *dlmBase) GetLockHolder(resource string) (acl.AgentID, bool) {
	holder, ok := b.lockHolders[resource]
	return holder, ok
}

func (b *dlmBase) Conversation(conversationID string) []acl.Message {
	msgs, _ := b.conversations.Load(conversationID)
	return msgs
}

func (b *dlmBase) Discover(resource string, agents []acl.AgentID) {
	if _, known := b.GetOwner(resource); known {
		return
	}
	// Register an open owner slot to be filled by an inform
	b.ownedResources[resource] = ""

	msg := b.prepareMessage(acl.PerformativeQueryIf, ProtocolDiscover)
	msg.Content = resource
	for _, agent := range agents {
		msg.AddReceiver(agent)
	}
	b.sendMessage(msg)
}

// --------------------------------------------------------------------------
// Messaging Helpers
// --------------------------------------------------------------------------

// nextConversationID mints a fresh conversation id. Ids issued by an agent
// are strictly increasing.
func (b *dlmBase) nextConversationID() string {
	id := fmt.Sprintf("%s_%d", b.self, b.convCounter)
	b.convCounter++
	return id
}

// prepareMessage creates an outgoing message on a fresh conversation
func (b *dlmBase) prepareMessage(performative acl.Performative, protocol Protocol) acl.Message {
	msg := acl.NewMessage(performative, b.self)
	msg.Protocol = protocolTxt[protocol]
	msg.ConversationID = b.nextConversationID()
	return msg
}

// sendMessage appends a message to the outbox and records it with the
// conversation monitor
func (b *dlmBase) sendMessage(msg acl.Message) {
	b.outbox = append(b.outbox, msg)
	b.recordConversation(msg)
	metrics.GetOrCreateCounter(fmt.Sprintf(`dlm_messages_out_total{agent=%q,protocol=%q}`, b.self, msg.Protocol)).Inc()
	log.Debugf("'%s' send %s", b.self, msg)
}

// recordConversation appends a message to its conversation log
func (b *dlmBase) recordConversation(msg acl.Message) {
	b.conversations.Compute(msg.ConversationID, func(old []acl.Message, _ bool) ([]acl.Message, bool) {
		return append(old, msg), false
	})
}

// --------------------------------------------------------------------------
// Incoming Message Classification
// --------------------------------------------------------------------------

// incomingAction is the result of classifying a delivered message
type incomingAction uint8

const (
	// incomingDropped: wrong protocol or not addressed to this agent
	incomingDropped incomingAction = iota
	// incomingConsumed: fully handled by the base (discover, probe,
	// lock-holder notification)
	incomingConsumed
	// incomingAlgorithm: to be handled by the algorithm engine
	incomingAlgorithm
)

// classifyIncoming updates the conversation monitor, filters by protocol
// tag and receiver, and dispatches the base sub-protocols. The algorithm
// engines call it first in their OnIncomingMessage.
func (b *dlmBase) classifyIncoming(msg acl.Message) incomingAction {
	b.recordConversation(msg)
	metrics.GetOrCreateCounter(fmt.Sprintf(`dlm_messages_in_total{agent=%q,protocol=%q}`, b.self, msg.Protocol)).Inc()

	switch msg.Protocol {
	case protocolTxt[b.protocol], protocolTxt[ProtocolDiscover], protocolTxt[ProtocolProbe]:
	default:
		metrics.GetOrCreateCounter(fmt.Sprintf(`dlm_messages_dropped_total{agent=%q}`, b.self)).Inc()
		return incomingDropped
	}

	if !msg.HasReceiver(b.self) {
		metrics.GetOrCreateCounter(fmt.Sprintf(`dlm_messages_dropped_total{agent=%q}`, b.self)).Inc()
		return incomingDropped
	}

	switch msg.Protocol {
	case protocolTxt[ProtocolDiscover]:
		b.handleDiscover(msg)
		return incomingConsumed
	case protocolTxt[ProtocolProbe]:
		b.handleProbe(msg)
		return incomingConsumed
	}

	// Lock-holder notifications ride on the active protocol tag
	switch msg.Performative {
	case acl.PerformativeConfirm, acl.PerformativeDisconfirm:
		b.handleLockNotification(msg)
		return incomingConsumed
	}

	return incomingAlgorithm
}

// --------------------------------------------------------------------------
// Discovery Sub-Protocol
// --------------------------------------------------------------------------

// handleDiscover answers owner queries and records discovered owners
func (b *dlmBase) handleDiscover(msg acl.Message) {
	resource := msg.Content

	switch msg.Performative {
	case acl.PerformativeQueryIf:
		if b.ownedResources[resource] != b.self {
			// Discovery misses are silent
			return
		}
		// Reply to the whole original receiver group plus the sender, so
		// every querier learns the owner from one inform
		reply := acl.NewMessage(acl.PerformativeInform, b.self)
		reply.Protocol = protocolTxt[ProtocolDiscover]
		reply.ConversationID = msg.ConversationID
		reply.Content = resource
		for _, receiver := range msg.Receivers {
			if receiver != b.self {
				reply.AddReceiver(receiver)
			}
		}
		reply.AddReceiver(msg.Sender)
		b.sendMessage(reply)

	case acl.PerformativeInform:
		if owner, ok := b.ownedResources[resource]; ok && owner == "" {
			b.ownedResources[resource] = msg.Sender
			log.Debugf("'%s' discovered owner '%s' for resource '%s'", b.self, msg.Sender, resource)
		}
	}
}

// hasKnownOwner reports whether discovery has completed for a resource
func (b *dlmBase) hasKnownOwner(resource string) bool {
	_, known := b.GetOwner(resource)
	return known
}

// owner returns the known owner of a resource, or "" if unknown
func (b *dlmBase) owner(resource string) acl.AgentID {
	return b.ownedResources[resource]
}

// isOwnResource reports whether this agent physically owns the resource
func (b *dlmBase) isOwnResource(resource string) bool {
	return b.ownedResources[resource] == b.self
}

// --------------------------------------------------------------------------
// Lock-Holder Tracking
// --------------------------------------------------------------------------

// handleLockNotification keeps lockHolders up to date for resources this
// agent owns, and probes the current holder
func (b *dlmBase) handleLockNotification(msg acl.Message) {
	resource := msg.Content
	if !b.isOwnResource(resource) {
		return
	}

	switch msg.Performative {
	case acl.PerformativeConfirm:
		b.lockHolders[resource] = msg.Sender
		b.startRequestingProbes(msg.Sender, resource)
		log.Debugf("'%s' records '%s' as holder of resource '%s'", b.self, msg.Sender, resource)

	case acl.PerformativeDisconfirm:
		if b.lockHolders[resource] != msg.Sender {
			return
		}
		delete(b.lockHolders, resource)
		b.stopRequestingProbes(msg.Sender, resource)
		log.Debugf("'%s' clears holder of resource '%s'", b.self, resource)
	}
}

// lockObtained is called by the algorithm engines when they acquire a
// lock. The physical owner is notified with a Confirm unless it is us.
func (b *dlmBase) lockObtained(resource, conversationID string) {
	owner := b.owner(resource)
	if owner == b.self {
		b.lockHolders[resource] = b.self
		return
	}
	if owner == "" {
		return
	}

	msg := acl.NewMessage(acl.PerformativeConfirm, b.self)
	msg.Protocol = protocolTxt[b.protocol]
	msg.ConversationID = conversationID
	msg.Content = resource
	msg.AddReceiver(owner)
	b.sendMessage(msg)
}

// lockReleased is the counterpart of lockObtained for Unlock
func (b *dlmBase) lockReleased(resource, conversationID string) {
	owner := b.owner(resource)
	if owner == b.self {
		delete(b.lockHolders, resource)
		return
	}
	if owner == "" {
		return
	}

	msg := acl.NewMessage(acl.PerformativeDisconfirm, b.self)
	msg.Protocol = protocolTxt[b.protocol]
	msg.ConversationID = conversationID
	msg.Content = resource
	msg.AddReceiver(owner)
	b.sendMessage(msg)
}
