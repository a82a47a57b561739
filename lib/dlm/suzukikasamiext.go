package dlm

import (
	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/token"
)

// --------------------------------------------------------------------------
// Extended Engine
// --------------------------------------------------------------------------

// suzukiKasamiExtended routes every token return through the resource
// owner. The owner therefore always knows the current token holder, probes
// it, and can recover the token when the holder fails.
type suzukiKasamiExtended struct {
	*suzukiKasami

	// The (logical) token holders of the owned resources. Equivalent to
	// the lock holders most of the time, but updated on transfer rather
	// than on confirmation.
	tokenHolders map[string]acl.AgentID
}

func newSuzukiKasamiExtended(self acl.AgentID, ownedResources []string, serializer token.ISerializer) *suzukiKasamiExtended {
	skx := &suzukiKasamiExtended{
		suzukiKasami: newSuzukiKasami(ProtocolSuzukiKasamiExtended, self, ownedResources, serializer),
		tokenHolders: make(map[string]acl.AgentID, len(ownedResources)),
	}
	for _, resource := range ownedResources {
		skx.tokenHolders[resource] = self
	}

	skx.forwardTokenFn = skx.forwardToken
	skx.sendTokenFn = skx.sendToken
	skx.tokenReceivedFn = skx.tokenReceived
	skx.tokenReclaimedFn = skx.tokenReclaimed
	skx.isTokenHolderFn = skx.IsTokenHolder
	return skx
}

// IsTokenHolder reports whether the given agent holds (held last) the
// token for the given resource. Only meaningful on the resource owner.
func (skx *suzukiKasamiExtended) IsTokenHolder(resource string, agent acl.AgentID) bool {
	return skx.tokenHolders[resource] == agent
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

// Lock runs the base algorithm and probes the resource owner until the
// token arrives.
func (skx *suzukiKasamiExtended) Lock(resource string, agents []acl.AgentID) error {
	if err := skx.suzukiKasami.Lock(resource, agents); err != nil {
		return err
	}

	if skx.GetLockState(resource) == Interested {
		skx.startRequestingProbes(skx.owner(resource), resource)
	}
	return nil
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

// forwardToken routes the token via the resource owner, who forwards per
// the normal queue rules
func (skx *suzukiKasamiExtended) forwardToken(resource string) {
	if skx.isOwnResource(resource) {
		skx.suzukiKasami.forwardToken(resource)
		return
	}

	st := skx.getState(resource)
	if !st.holdingToken {
		return
	}
	skx.sendTokenFn(skx.owner(resource), resource, skx.nextConversationID())
}

// sendToken transfers the token; the owner additionally records the new
// holder and starts probing it
func (skx *suzukiKasamiExtended) sendToken(receiver acl.AgentID, resource, conversationID string) {
	skx.suzukiKasami.sendToken(receiver, resource, conversationID)

	if skx.isOwnResource(resource) {
		skx.tokenHolders[resource] = receiver
		skx.startRequestingProbes(receiver, resource)
	}
}

// tokenReceived updates holder tracking and stops probing the sender
func (skx *suzukiKasamiExtended) tokenReceived(sender acl.AgentID, resource string) {
	if skx.isOwnResource(resource) {
		skx.tokenHolders[resource] = skx.self
	}
	skx.stopRequestingProbes(sender, resource)
	// The owner answered our lock attempt with the token
	skx.stopRequestingProbes(skx.owner(resource), resource)
}

// tokenReclaimed re-registers this agent as holder after a recovery
func (skx *suzukiKasamiExtended) tokenReclaimed(resource string) {
	if previous := skx.tokenHolders[resource]; previous != "" && previous != skx.self {
		skx.stopRequestingProbes(previous, resource)
	}
	skx.tokenHolders[resource] = skx.self
}
