package dlm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// --------------------------------------------------------------------------
// Resource State
// --------------------------------------------------------------------------

// raResourceState is the inner state the Ricart–Agrawala engine keeps per
// resource.
type raResourceState struct {
	// The lock state, initially NotInterested
	state LockState
	// Lamport time at which this agent marked Interested
	interestClock uint64
	// Everyone queried for the current lock attempt, sorted
	partners []acl.AgentID
	// Subset of partners that agreed
	responded []acl.AgentID
	// Replies to send upon unlock; the clock is stamped at send time
	deferred []acl.Message
	// The conversation the lock attempt is conducted under
	conversationID string
}

// removePartner drops an agent from the communication partners
func (st *raResourceState) removePartner(agent acl.AgentID) {
	kept := st.partners[:0]
	for _, a := range st.partners {
		if a != agent {
			kept = append(kept, a)
		}
	}
	st.partners = kept
}

// isPartner reports whether the agent was queried for the current attempt
func (st *raResourceState) isPartner(agent acl.AgentID) bool {
	for _, a := range st.partners {
		if a == agent {
			return true
		}
	}
	return false
}

// hasResponded reports whether the agent already agreed
func (st *raResourceState) hasResponded(agent acl.AgentID) bool {
	for _, a := range st.responded {
		if a == agent {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// ricartAgrawala implements the permission-based algorithm: a lock is held
// once every queried partner agreed; conflicting requests are ordered by
// Lamport time with a lexicographic tie-break on agent names.
type ricartAgrawala struct {
	dlmBase

	// The Lamport logical clock
	lamport uint64
	// All resources mapped to their state
	states map[string]*raResourceState

	// respondedHook is called whenever a partner agrees; the extended
	// variant uses it to stop probing that partner
	respondedHook func(agent acl.AgentID, resource string)
}

func newRicartAgrawala(protocol Protocol, self acl.AgentID, ownedResources []string) *ricartAgrawala {
	ra := &ricartAgrawala{
		dlmBase: newBase(protocol, self, ownedResources),
		states:  make(map[string]*raResourceState),
	}
	ra.agentFailedFn = ra.AgentFailed
	return ra
}

// getState returns the state for a resource, creating the default entry
func (ra *ricartAgrawala) getState(resource string) *raResourceState {
	st, ok := ra.states[resource]
	if !ok {
		st = &raResourceState{}
		ra.states[resource] = st
	}
	return st
}

// synchronizeClock merges a received Lamport timestamp
func (ra *ricartAgrawala) synchronizeClock(other uint64) {
	if other > ra.lamport {
		ra.lamport = other
	}
	ra.lamport++
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

func (ra *ricartAgrawala) GetLockState(resource string) LockState {
	if st, ok := ra.states[resource]; ok {
		return st.state
	}
	return NotInterested
}

func (ra *ricartAgrawala) Lock(resource string, agents []acl.AgentID) error {
	if !ra.hasKnownOwner(resource) {
		return NewError(RetCUnknownOwner,
			fmt.Sprintf("cannot lock resource '%s': owner is unknown, perform discovery first", resource))
	}

	st := ra.getState(resource)
	if st.state != NotInterested {
		if st.state == Unreachable {
			return NewError(RetCUnreachable,
				fmt.Sprintf("cannot lock unreachable resource '%s'", resource))
		}
		// Already interested or holding; nothing to do
		return nil
	}

	ra.lamport++

	msg := ra.prepareMessage(acl.PerformativeRequest, ra.protocol)
	msg.Content = fmt.Sprintf("%d\n%s", ra.lamport, resource)
	for _, agent := range agents {
		msg.AddReceiver(agent)
	}

	partners := append([]acl.AgentID(nil), agents...)
	acl.SortAgents(partners)

	st.partners = partners
	st.responded = nil
	st.interestClock = ra.lamport
	st.conversationID = msg.ConversationID
	st.state = Interested
	log.Debugf("'%s' mark INTERESTED for resource '%s'", ra.self, resource)

	if len(partners) == 0 {
		// Sole participant: nobody to ask
		st.state = Locked
		ra.lockObtained(resource, st.conversationID)
		return nil
	}

	ra.sendMessage(msg)
	return nil
}

func (ra *ricartAgrawala) Unlock(resource string) {
	st, ok := ra.states[resource]
	if !ok || st.state != Locked {
		return
	}

	st.state = NotInterested
	log.Debugf("'%s' mark NOT_INTERESTED for resource '%s'", ra.self, resource)

	ra.sendAllDeferredMessages(resource)
	ra.lockReleased(resource, st.conversationID)
}

func (ra *ricartAgrawala) OnIncomingMessage(msg acl.Message) bool {
	switch ra.classifyIncoming(msg) {
	case incomingDropped:
		return false
	case incomingConsumed:
		return true
	}

	switch msg.Performative {
	case acl.PerformativeRequest:
		ra.handleIncomingRequest(msg)
		return true
	case acl.PerformativeAgree:
		ra.handleIncomingResponse(msg)
		return true
	case acl.PerformativeFailure:
		ra.handleIncomingFailure(msg)
		return true
	default:
		// Not part of this protocol
		return false
	}
}

func (ra *ricartAgrawala) AgentFailed(agent acl.AgentID) {
	log.Debugf("'%s' detected failed agent '%s'", ra.self, agent)

	// Deterministic iteration order
	resources := make([]string, 0, len(ra.states))
	for resource := range ra.states {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	for _, resource := range resources {
		st := ra.states[resource]
		if st.state != Interested && st.state != Locked {
			continue
		}
		if st.isPartner(agent) && !st.hasResponded(agent) {
			ra.handleAgentFailure(resource, agent)
		}
	}
}

// --------------------------------------------------------------------------
// Message Handling
// --------------------------------------------------------------------------

// handleIncomingRequest grants or defers a lock request
func (ra *ricartAgrawala) handleIncomingRequest(msg acl.Message) {
	otherTime, resource, err := parseClockAndResource(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed request: %v", ra.self, err)
		return
	}

	ra.synchronizeClock(otherTime)

	reply := acl.NewMessage(acl.PerformativeAgree, ra.self)
	reply.Protocol = protocolTxt[ra.protocol]
	reply.ConversationID = msg.ConversationID
	reply.AddReceiver(msg.Sender)

	// Agree now if we are not interested ourselves, or the sender was
	// earlier. Ties in timestamps are broken by lexicographic comparison
	// of the agent names. Otherwise the reply is deferred until unlock.
	st := ra.getState(resource)
	grant := st.state == NotInterested ||
		(st.state == Interested &&
			(otherTime < st.interestClock ||
				(otherTime == st.interestClock && msg.Sender < ra.self)))

	if grant {
		ra.lamport++
		reply.Content = fmt.Sprintf("%d\n%s", ra.lamport, resource)
		ra.sendMessage(reply)
		return
	}

	// The timestamp is stamped at send time
	reply.Content = resource
	st.deferred = append(st.deferred, reply)
}

// handleIncomingResponse accounts an agreement; the lock is obtained once
// every partner agreed
func (ra *ricartAgrawala) handleIncomingResponse(msg acl.Message) {
	otherTime, resource, err := parseClockAndResource(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed response: %v", ra.self, err)
		return
	}

	ra.synchronizeClock(otherTime)

	// A response is only relevant while we are interested
	if ra.GetLockState(resource) != Interested {
		return
	}

	ra.addRespondedAgent(msg.Sender, resource)

	st := ra.getState(resource)
	if len(st.partners) != len(st.responded) {
		return
	}

	acl.SortAgents(st.responded)
	if !acl.EqualAgents(st.partners, st.responded) {
		log.Errorf("'%s' received enough responses for resource '%s' but responders do not match partners",
			ra.self, resource)
		return
	}

	st.state = Locked
	log.Debugf("'%s' mark LOCKED for resource '%s'", ra.self, resource)
	ra.lockObtained(resource, msg.ConversationID)
}

// addRespondedAgent records an agreeing partner
func (ra *ricartAgrawala) addRespondedAgent(agent acl.AgentID, resource string) {
	st := ra.getState(resource)
	if !st.hasResponded(agent) {
		st.responded = append(st.responded, agent)
	}
	if ra.respondedHook != nil {
		ra.respondedHook(agent, resource)
	}
}

// handleIncomingFailure correlates a transport failure with the affected
// lock attempt via the conversation id
func (ra *ricartAgrawala) handleIncomingFailure(msg acl.Message) {
	resource := ""
	for r, st := range ra.states {
		if st.conversationID == msg.ConversationID {
			resource = r
			break
		}
	}

	// A failed reply to someone else's conversation can be ignored
	if resource == "" || ra.states[resource].state != Interested {
		log.Debugf("'%s' ignoring delivery failure, not interested in the affected resource", ra.self)
		return
	}

	inner, err := acl.Decode(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed failure envelope: %v", ra.self, err)
		return
	}

	for _, failed := range inner.Receivers {
		ra.handleAgentFailure(resource, failed)
	}
}

// handleAgentFailure applies the loss of one agent to one resource
func (ra *ricartAgrawala) handleAgentFailure(resource string, agent acl.AgentID) {
	st := ra.getState(resource)

	if ra.owner(resource) == agent {
		// The physical owner is gone, the resource cannot be obtained
		st.state = Unreachable
		log.Warningf("'%s' mark resource '%s' UNREACHABLE", ra.self, resource)
		ra.sendAllDeferredMessages(resource)
		return
	}

	// The agent will never respond; we only needed its permission
	st.removePartner(agent)

	acl.SortAgents(st.responded)
	if st.state == Interested && acl.EqualAgents(st.partners, st.responded) {
		st.state = Locked
		log.Debugf("'%s' mark LOCKED for resource '%s' after partner loss", ra.self, resource)
		ra.lockObtained(resource, st.conversationID)
	}
}

// sendAllDeferredMessages flushes the deferred replies for a resource,
// stamping the current Lamport time into each
func (ra *ricartAgrawala) sendAllDeferredMessages(resource string) {
	st := ra.getState(resource)
	for _, msg := range st.deferred {
		ra.lamport++
		msg.Content = fmt.Sprintf("%d\n%s", ra.lamport, msg.Content)
		ra.sendMessage(msg)
	}
	st.deferred = nil
}

// --------------------------------------------------------------------------
// Content Grammar
// --------------------------------------------------------------------------

// parseClockAndResource splits a "<lamport_time>\n<resource>" content
func parseClockAndResource(content string) (uint64, string, error) {
	parts := strings.Split(content, "\n")
	if len(parts) != 2 {
		return 0, "", NewError(RetCMalformedMessage,
			fmt.Sprintf("content %q does not match <time>\\n<resource>", content))
	}

	t, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", NewError(RetCMalformedMessage,
			fmt.Sprintf("content %q carries no valid timestamp", content))
	}

	return t, parts[1], nil
}
