package dlm

import (
	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// --------------------------------------------------------------------------
// Extended Engine
// --------------------------------------------------------------------------

// ricartAgrawalaExtended adds failure detection to the permission-based
// algorithm: while waiting for agreements, every queried partner is
// probed; a partner that stops answering is treated like a delivery
// failure for the pending attempt.
type ricartAgrawalaExtended struct {
	*ricartAgrawala
}

func newRicartAgrawalaExtended(self acl.AgentID, ownedResources []string) *ricartAgrawalaExtended {
	rx := &ricartAgrawalaExtended{
		ricartAgrawala: newRicartAgrawala(ProtocolRicartAgrawalaExtended, self, ownedResources),
	}
	rx.respondedHook = rx.agentResponded
	return rx
}

// --------------------------------------------------------------------------
// Interface Methods (docu see dlm.IDLM)
// --------------------------------------------------------------------------

// Lock runs the base algorithm and starts probing every partner the
// attempt depends on.
func (rx *ricartAgrawalaExtended) Lock(resource string, agents []acl.AgentID) error {
	if err := rx.ricartAgrawala.Lock(resource, agents); err != nil {
		return err
	}

	if rx.GetLockState(resource) == Interested {
		for _, agent := range agents {
			rx.startRequestingProbes(agent, resource)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

// agentResponded stops probing a partner once its agreement arrived
func (rx *ricartAgrawalaExtended) agentResponded(agent acl.AgentID, resource string) {
	rx.stopRequestingProbes(agent, resource)
}
