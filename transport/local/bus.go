package local

import (
	"sort"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/dlm"
	"github.com/si3792/multiagent-distributed-locking/transport"
)

var log = logger.GetLogger("transport")

// mtsName is the sender id the bus uses for synthesized failure envelopes
const mtsName acl.AgentID = "message-transport-service"

// maxMessagesPerSweep bounds one DeliverAll call so a misbehaving engine
// pair cannot spin the bus forever
const maxMessagesPerSweep = 100000

// NewMessageBus creates an in-memory transport connecting engines that
// live in the same process. Deliveries to disconnected or unknown agents
// are reported back to the sender as Failure envelopes, the way a real
// message transport service would.
//
// The bus must be driven from a single goroutine; it serializes no engine
// calls itself.
func NewMessageBus() transport.IMessageTransport {
	return &busImpl{
		engines:      xsync.NewMapOf[acl.AgentID, dlm.IDLM](),
		disconnected: xsync.NewMapOf[acl.AgentID, struct{}](),
	}
}

// busImpl implements IMessageTransport with an in-process registry
type busImpl struct {
	engines      *xsync.MapOf[acl.AgentID, dlm.IDLM]
	disconnected *xsync.MapOf[acl.AgentID, struct{}]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IMessageTransport)
// --------------------------------------------------------------------------

func (b *busImpl) Register(engine dlm.IDLM) {
	b.engines.Store(engine.Self(), engine)
}

func (b *busImpl) Disconnect(agent acl.AgentID) {
	b.disconnected.Store(agent, struct{}{})
	log.Infof("agent '%s' disconnected", agent)
}

func (b *busImpl) DeliverAll() int {
	delivered := 0

	for delivered < maxMessagesPerSweep {
		moved := b.sweep()
		if moved == 0 {
			return delivered
		}
		delivered += moved
	}

	log.Errorf("delivery did not settle after %d messages", delivered)
	return delivered
}

func (b *busImpl) Tick() {
	for _, engine := range b.connectedEngines() {
		engine.Trigger()
	}
	b.DeliverAll()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connectedEngines returns the reachable engines in deterministic order
func (b *busImpl) connectedEngines() []dlm.IDLM {
	engines := make([]dlm.IDLM, 0)
	b.engines.Range(func(agent acl.AgentID, engine dlm.IDLM) bool {
		if !b.isReachable(agent) {
			return true
		}
		engines = append(engines, engine)
		return true
	})
	sort.Slice(engines, func(i, j int) bool { return engines[i].Self() < engines[j].Self() })
	return engines
}

// isReachable reports whether an agent is registered and not disconnected
func (b *busImpl) isReachable(agent acl.AgentID) bool {
	if _, gone := b.disconnected.Load(agent); gone {
		return false
	}
	_, ok := b.engines.Load(agent)
	return ok
}

// sweep drains every reachable engine's outbox once and returns the
// number of messages moved
func (b *busImpl) sweep() int {
	moved := 0

	for _, engine := range b.connectedEngines() {
		for engine.HasOutgoingMessages() {
			msg, err := engine.PopNextOutgoingMessage()
			if err != nil {
				log.Errorf("failed to pop outgoing message of '%s': %v", engine.Self(), err)
				break
			}
			moved++
			b.deliver(engine, msg)
		}
	}

	return moved
}

// deliver fans a message out to its receivers and reports undeliverable
// ones back to the sender
func (b *busImpl) deliver(sender dlm.IDLM, msg acl.Message) {
	var failed []acl.AgentID

	for _, receiver := range msg.Receivers {
		if !b.isReachable(receiver) {
			failed = append(failed, receiver)
			continue
		}
		target, _ := b.engines.Load(receiver)
		target.OnIncomingMessage(msg)
	}

	if len(failed) == 0 {
		return
	}

	log.Warningf("delivery of %s failed for %v", msg, failed)
	failure, err := failureFor(msg, failed)
	if err != nil {
		log.Errorf("cannot build failure envelope: %v", err)
		return
	}
	sender.OnIncomingMessage(failure)
}

// failureFor builds the Failure envelope for a partially undeliverable
// message. The inner envelope lists exactly the failed receivers; the
// outer envelope keeps the protocol tag and the conversation id.
func failureFor(msg acl.Message, failed []acl.AgentID) (acl.Message, error) {
	inner := msg
	inner.Receivers = failed

	content, err := inner.Encode()
	if err != nil {
		return acl.Message{}, err
	}

	failure := acl.NewMessage(acl.PerformativeFailure, mtsName)
	failure.Protocol = msg.Protocol
	failure.ConversationID = msg.ConversationID
	failure.Content = content
	failure.AddReceiver(msg.Sender)
	return failure, nil
}
