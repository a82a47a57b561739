package dlm

import (
	"fmt"
	"sort"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// probeContent is the (ignored) payload of a probe request
const probeContent = "PROBE"

// --------------------------------------------------------------------------
// Probe Runner
// --------------------------------------------------------------------------

// probeRunner tracks the liveness exchange with one peer. The runner lives
// while at least one resource is associated with the peer.
type probeRunner struct {
	// lastSent is the send time of the pending probe; zero before the
	// first send
	lastSent time.Time
	// resources this peer is probed for
	resources map[string]struct{}
	// success is set when the pending probe was confirmed
	success bool
}

// startRequestingProbes associates a resource with a peer's probe runner,
// creating the runner if needed. Probing oneself is a no-op.
func (b *dlmBase) startRequestingProbes(agent acl.AgentID, resource string) {
	if agent == b.self || agent == "" {
		return
	}
	runner, ok := b.probeRunners[agent]
	if !ok {
		runner = &probeRunner{resources: make(map[string]struct{})}
		b.probeRunners[agent] = runner
	}
	runner.resources[resource] = struct{}{}
}

// stopRequestingProbes removes a resource from a peer's probe runner. The
// runner is dropped once no resource is left.
func (b *dlmBase) stopRequestingProbes(agent acl.AgentID, resource string) {
	runner, ok := b.probeRunners[agent]
	if !ok {
		return
	}
	delete(runner.resources, resource)
	if len(runner.resources) == 0 {
		delete(b.probeRunners, agent)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

// Trigger advances every probe runner: first sends, re-sends after a
// confirmed round, and failure reports after an unanswered timeout.
func (b *dlmBase) Trigger() {
	now := b.clock()

	// Deterministic iteration order
	agents := make([]acl.AgentID, 0, len(b.probeRunners))
	for agent := range b.probeRunners {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })

	for _, agent := range agents {
		runner := b.probeRunners[agent]

		if len(runner.resources) == 0 {
			delete(b.probeRunners, agent)
			continue
		}

		if runner.lastSent.IsZero() {
			runner.lastSent = now
			runner.success = false
			b.sendProbe(agent)
			continue
		}

		if now.Sub(runner.lastSent) <= b.probeTimeout {
			continue
		}

		if runner.success {
			// Confirmed in time, start the next round
			runner.lastSent = now
			runner.success = false
			b.sendProbe(agent)
			continue
		}

		// Unanswered for longer than the timeout: the peer is gone
		delete(b.probeRunners, agent)
		metrics.GetOrCreateCounter(fmt.Sprintf(`dlm_probe_failures_total{agent=%q}`, b.self)).Inc()
		log.Warningf("'%s' probe timeout for agent '%s'", b.self, agent)
		if b.agentFailedFn != nil {
			b.agentFailedFn(agent)
		}
	}
}

// sendProbe emits one probe request to a peer
func (b *dlmBase) sendProbe(agent acl.AgentID) {
	msg := b.prepareMessage(acl.PerformativeRequest, ProtocolProbe)
	msg.Content = probeContent
	msg.AddReceiver(agent)
	b.sendMessage(msg)
}

// --------------------------------------------------------------------------
// Probe Sub-Protocol Handling
// --------------------------------------------------------------------------

// handleProbe answers probe requests and accounts probe confirms
func (b *dlmBase) handleProbe(msg acl.Message) {
	switch msg.Performative {
	case acl.PerformativeRequest:
		reply := acl.NewMessage(acl.PerformativeConfirm, b.self)
		reply.Protocol = protocolTxt[ProtocolProbe]
		reply.ConversationID = msg.ConversationID
		reply.AddReceiver(msg.Sender)
		b.sendMessage(reply)

	case acl.PerformativeConfirm:
		// A stray confirm without a runner is ignored
		if runner, ok := b.probeRunners[msg.Sender]; ok {
			runner.success = true
		}
	}
}
