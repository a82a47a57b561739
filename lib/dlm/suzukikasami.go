package dlm

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/token"
)

// tokenLanguage tags the content encoding of token transfer messages
const tokenLanguage = "base64"

// --------------------------------------------------------------------------
// Resource State
// --------------------------------------------------------------------------

// skResourceState is the inner state the Suzuki–Kasami engine keeps per
// resource.
type skResourceState struct {
	// The lock state, initially NotInterested
	state LockState
	// Whether the token is currently held
	holdingToken bool
	// The token; authoritative only while holdingToken
	token *token.Token
	// Everyone queried for the current lock attempt, sorted
	partners []acl.AgentID
	// Highest request counter observed per agent
	requestNumber map[acl.AgentID]uint64
	// Conversation id per requesting agent (own requests under self)
	conversationIDs map[acl.AgentID]string
}

// removePartner drops an agent from the communication partners
func (st *skResourceState) removePartner(agent acl.AgentID) {
	kept := st.partners[:0]
	for _, a := range st.partners {
		if a != agent {
			kept = append(kept, a)
		}
	}
	st.partners = kept
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// suzukiKasami implements the token-based algorithm: the critical section
// may be entered while holding the resource's token; requests carry
// per-agent sequence numbers and the token queues outstanding requesters.
type suzukiKasami struct {
	dlmBase

	serializer token.ISerializer
	// All resources mapped to their state
	states map[string]*skResourceState

	// Extension points used by the extended variant
	forwardTokenFn   func(resource string)
	sendTokenFn      func(receiver acl.AgentID, resource, conversationID string)
	tokenReceivedFn  func(sender acl.AgentID, resource string)
	tokenReclaimedFn func(resource string)
	isTokenHolderFn  func(resource string, agent acl.AgentID) bool
}

func newSuzukiKasami(protocol Protocol, self acl.AgentID, ownedResources []string, serializer token.ISerializer) *suzukiKasami {
	sk := &suzukiKasami{
		dlmBase:    newBase(protocol, self, ownedResources),
		serializer: serializer,
		states:     make(map[string]*skResourceState),
	}

	// The owner of a resource starts out holding its token
	for _, resource := range ownedResources {
		st := sk.getState(resource)
		st.holdingToken = true
	}

	sk.agentFailedFn = sk.AgentFailed
	sk.forwardTokenFn = sk.forwardToken
	sk.sendTokenFn = sk.sendToken
	sk.tokenReceivedFn = func(acl.AgentID, string) {}
	sk.tokenReclaimedFn = func(string) {}
	sk.isTokenHolderFn = func(string, acl.AgentID) bool { return false }
	return sk
}

// getState returns the state for a resource, creating the default entry
func (sk *suzukiKasami) getState(resource string) *skResourceState {
	st, ok := sk.states[resource]
	if !ok {
		st = &skResourceState{
			token:           token.New(),
			requestNumber:   make(map[acl.AgentID]uint64),
			conversationIDs: make(map[acl.AgentID]string),
		}
		sk.states[resource] = st
	}
	return st
}

// conversationFor returns the conversation a transfer to the agent should
// run under, minting a fresh one for owner-initiated transfers
func (sk *suzukiKasami) conversationFor(st *skResourceState, agent acl.AgentID) string {
	if conv, ok := st.conversationIDs[agent]; ok && conv != "" {
		return conv
	}
	return sk.nextConversationID()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

func (sk *suzukiKasami) GetLockState(resource string) LockState {
	if st, ok := sk.states[resource]; ok {
		return st.state
	}
	return NotInterested
}

func (sk *suzukiKasami) Lock(resource string, agents []acl.AgentID) error {
	if !sk.hasKnownOwner(resource) {
		return NewError(RetCUnknownOwner,
			fmt.Sprintf("cannot lock resource '%s': owner is unknown, perform discovery first", resource))
	}

	st := sk.getState(resource)
	if st.state != NotInterested {
		if st.state == Unreachable {
			return NewError(RetCUnreachable,
				fmt.Sprintf("cannot lock unreachable resource '%s'", resource))
		}
		// Already interested or holding; nothing to do
		return nil
	}

	// Holding the token means the critical section is free to enter. No
	// message is emitted; the owner learned about the token transfer when
	// it happened.
	if st.holdingToken {
		st.state = Locked
		log.Debugf("'%s' mark LOCKED for resource '%s' (token already held)", sk.self, resource)
		if sk.isOwnResource(resource) {
			sk.lockHolders[resource] = sk.self
		}
		return nil
	}

	req := st.requestNumber[sk.self] + 1
	st.requestNumber[sk.self] = req

	msg := sk.prepareMessage(acl.PerformativeRequest, sk.protocol)
	msg.Content = fmt.Sprintf("%s\n%d", resource, req)
	for _, agent := range agents {
		msg.AddReceiver(agent)
	}
	sk.sendMessage(msg)

	partners := append([]acl.AgentID(nil), agents...)
	acl.SortAgents(partners)

	st.partners = partners
	st.conversationIDs[sk.self] = msg.ConversationID
	st.state = Interested
	log.Debugf("'%s' mark INTERESTED for resource '%s' (request %d)", sk.self, resource, req)
	return nil
}

func (sk *suzukiKasami) Unlock(resource string) {
	st, ok := sk.states[resource]
	if !ok || st.state != Locked {
		return
	}

	st.state = NotInterested
	log.Debugf("'%s' mark NOT_INTERESTED for resource '%s'", sk.self, resource)

	// Record the own request as executed
	st.token.LastRequestNumber[sk.self] = st.requestNumber[sk.self]

	sk.lockReleased(resource, sk.conversationFor(st, sk.self))
	sk.forwardTokenFn(resource)
}

func (sk *suzukiKasami) OnIncomingMessage(msg acl.Message) bool {
	switch sk.classifyIncoming(msg) {
	case incomingDropped:
		return false
	case incomingConsumed:
		return true
	}

	switch msg.Performative {
	case acl.PerformativeRequest:
		sk.handleIncomingRequest(msg)
		return true
	case acl.PerformativePropagate:
		sk.handleIncomingToken(msg)
		return true
	case acl.PerformativeFailure:
		sk.handleIncomingFailure(msg)
		return true
	default:
		// Not part of this protocol
		return false
	}
}

func (sk *suzukiKasami) AgentFailed(agent acl.AgentID) {
	log.Debugf("'%s' detected failed agent '%s'", sk.self, agent)

	// Deterministic iteration order
	resources := make([]string, 0, len(sk.states))
	for resource := range sk.states {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	for _, resource := range resources {
		sk.handleAgentFailure(resource, agent)
	}
}

// --------------------------------------------------------------------------
// Message Handling
// --------------------------------------------------------------------------

// handleIncomingRequest accounts a token request and transfers or queues
// the token when we hold it
func (sk *suzukiKasami) handleIncomingRequest(msg acl.Message) {
	resource, sequence, err := parseResourceAndSequence(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed request: %v", sk.self, err)
		return
	}

	st := sk.getState(resource)
	sender := msg.Sender

	// Outdated requests are dropped silently
	if known, ok := st.requestNumber[sender]; ok && sequence <= known {
		return
	}
	st.requestNumber[sender] = sequence
	st.conversationIDs[sender] = msg.ConversationID

	if !st.holdingToken {
		// Only the request numbers needed remembering
		return
	}

	if st.state != Locked && st.requestNumber[sender] == st.token.LastRequestNumber[sender]+1 {
		sk.sendTokenFn(sender, resource, st.conversationIDs[sender])
		return
	}

	if st.state == Locked {
		if !st.token.InQueue(sender) {
			st.token.Enqueue(sender)
		}
		st.token.LastRequestNumber[sender] = sequence
	}
}

// handleIncomingToken installs a received token
func (sk *suzukiKasami) handleIncomingToken(msg acl.Message) {
	resource, tok, err := sk.decodeToken(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed token transfer: %v", sk.self, err)
		return
	}

	sk.tokenReceivedFn(msg.Sender, resource)

	st := sk.getState(resource)
	st.token = tok
	st.holdingToken = true
	log.Debugf("'%s' received token for resource '%s'", sk.self, resource)

	if st.state == Interested {
		st.state = Locked
		log.Debugf("'%s' mark LOCKED for resource '%s'", sk.self, resource)
		sk.lockObtained(resource, msg.ConversationID)
		return
	}

	// No longer interested; pass the token on if someone waits
	sk.forwardTokenFn(resource)
}

// forwardToken queues every agent with an outstanding request and
// transfers the token to the first waiter, if any
func (sk *suzukiKasami) forwardToken(resource string) {
	st := sk.getState(resource)
	if !st.holdingToken {
		return
	}

	// Deterministic iteration order
	agents := make([]acl.AgentID, 0, len(st.requestNumber))
	for agent := range st.requestNumber {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })

	for _, agent := range agents {
		if st.requestNumber[agent] == st.token.LastRequestNumber[agent]+1 && !st.token.InQueue(agent) {
			st.token.Enqueue(agent)
		}
	}

	if next, ok := st.token.PopFront(); ok {
		sk.sendTokenFn(next, resource, sk.conversationFor(st, next))
	}
	// Else keep the token
}

// sendToken transfers the token to the receiver. No checks (token held,
// lock not held) are made.
func (sk *suzukiKasami) sendToken(receiver acl.AgentID, resource, conversationID string) {
	st := sk.getState(resource)

	data, err := sk.serializer.Serialize(resource, st.token)
	if err != nil {
		log.Errorf("'%s' cannot serialize token for resource '%s': %v", sk.self, resource, err)
		return
	}

	st.holdingToken = false

	msg := acl.NewMessage(acl.PerformativePropagate, sk.self)
	msg.Protocol = protocolTxt[sk.protocol]
	msg.ConversationID = conversationID
	msg.Content = base64.StdEncoding.EncodeToString(data)
	msg.Language = tokenLanguage
	msg.AddReceiver(receiver)
	sk.sendMessage(msg)
	log.Debugf("'%s' sent token for resource '%s' to '%s'", sk.self, resource, receiver)
}

// decodeToken restores the (resource, token) pair from a Propagate content
func (sk *suzukiKasami) decodeToken(content string) (string, *token.Token, error) {
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", nil, NewError(RetCMalformedMessage,
			fmt.Sprintf("token transfer content is not base64: %v", err))
	}

	resource, tok, err := sk.serializer.Deserialize(data)
	if err != nil {
		return "", nil, NewError(RetCMalformedMessage,
			fmt.Sprintf("token archive does not decode: %v", err))
	}
	return resource, tok, nil
}

// handleIncomingFailure correlates a transport failure with the affected
// resource via the conversation id
func (sk *suzukiKasami) handleIncomingFailure(msg acl.Message) {
	inner, err := acl.Decode(msg.Content)
	if err != nil {
		log.Errorf("'%s' dropping malformed failure envelope: %v", sk.self, err)
		return
	}

	resource := sk.resourceForConversation(msg.ConversationID)
	if resource == "" {
		// The failure maps to no tracked conversation (for example a
		// token transfer sent under a freshly minted conversation id):
		// run the full failure analysis. In this
		// base variant a lost token stays lost; only the extended variant
		// can recover it.
		for _, failed := range inner.Receivers {
			sk.AgentFailed(failed)
		}
		return
	}

	for _, failed := range inner.Receivers {
		sk.handleAgentFailure(resource, failed)
	}
}

// resourceForConversation finds the resource a conversation belongs to
func (sk *suzukiKasami) resourceForConversation(conversationID string) string {
	// Deterministic iteration order
	resources := make([]string, 0, len(sk.states))
	for resource := range sk.states {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	for _, resource := range resources {
		for _, conv := range sk.states[resource].conversationIDs {
			if conv == conversationID {
				return resource
			}
		}
	}
	return ""
}

// handleAgentFailure applies the loss of one agent to one resource
func (sk *suzukiKasami) handleAgentFailure(resource string, agent acl.AgentID) {
	st := sk.getState(resource)
	if st.state == Unreachable {
		return
	}

	switch {
	case sk.owner(resource) == agent:
		// The physical owner is gone, the resource cannot be obtained
		st.state = Unreachable
		st.holdingToken = false
		log.Warningf("'%s' mark resource '%s' UNREACHABLE", sk.self, resource)

	case sk.isOwnResource(resource) && sk.isTokenHolderFn(resource, agent):
		// The holder of our token failed: forget it, then reclaim. The
		// purge keeps the dead holder out of the rebuilt token queue.
		sk.purgeAgent(st, agent)
		st.holdingToken = true
		sk.tokenReclaimedFn(resource)
		log.Warningf("'%s' reclaimed token for resource '%s' from failed agent '%s'",
			sk.self, resource, agent)
		if st.state == Interested {
			st.state = Locked
			sk.lockObtained(resource, sk.conversationFor(st, sk.self))
		} else {
			sk.forwardTokenFn(resource)
		}

	default:
		sk.purgeAgent(st, agent)
	}
}

// purgeAgent forgets everything about a failed agent
func (sk *suzukiKasami) purgeAgent(st *skResourceState, agent acl.AgentID) {
	st.removePartner(agent)
	delete(st.requestNumber, agent)
	delete(st.conversationIDs, agent)
	delete(st.token.LastRequestNumber, agent)
	st.token.RemoveFromQueue(agent)
}

// --------------------------------------------------------------------------
// Content Grammar
// --------------------------------------------------------------------------

// parseResourceAndSequence splits a "<resource>\n<request_number>" content
func parseResourceAndSequence(content string) (string, uint64, error) {
	parts := strings.Split(content, "\n")
	if len(parts) != 2 {
		return "", 0, NewError(RetCMalformedMessage,
			fmt.Sprintf("content %q does not match <resource>\\n<request_number>", content))
	}

	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, NewError(RetCMalformedMessage,
			fmt.Sprintf("content %q carries no valid request number", content))
	}

	return parts[0], seq, nil
}
