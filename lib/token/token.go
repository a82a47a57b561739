package token

import (
	"sort"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// --------------------------------------------------------------------------
// Token Structure
// --------------------------------------------------------------------------

// Token is the mobile data structure of the Suzuki–Kasami algorithm.
// Possession of the token for a resource confers the right to enter the
// critical section. Exactly one token exists per resource.
type Token struct {
	// LastRequestNumber holds, per agent, the request counter of the last
	// request the token has served or queued: the holder records its own
	// on unlock, and a locked holder records a requester's when queuing it
	LastRequestNumber map[acl.AgentID]uint64 `json:"last_request_number"`

	// Queue lists the agents waiting for the token, in grant order
	Queue []acl.AgentID `json:"queue"`
}

// New creates an empty token with no recorded requests and no waiters.
func New() *Token {
	return &Token{
		LastRequestNumber: make(map[acl.AgentID]uint64),
		Queue:             nil,
	}
}

// Enqueue appends an agent to the waiter queue.
func (t *Token) Enqueue(agent acl.AgentID) {
	t.Queue = append(t.Queue, agent)
}

// PopFront removes and returns the first waiting agent. The boolean return
// value indicates whether the queue was non-empty.
func (t *Token) PopFront() (acl.AgentID, bool) {
	if len(t.Queue) == 0 {
		return "", false
	}
	agent := t.Queue[0]
	t.Queue = t.Queue[1:]
	return agent, true
}

// InQueue reports whether the agent is already waiting for the token.
func (t *Token) InQueue(agent acl.AgentID) bool {
	for _, a := range t.Queue {
		if a == agent {
			return true
		}
	}
	return false
}

// RemoveFromQueue purges every occurrence of the agent from the queue.
func (t *Token) RemoveFromQueue(agent acl.AgentID) {
	kept := t.Queue[:0]
	for _, a := range t.Queue {
		if a != agent {
			kept = append(kept, a)
		}
	}
	t.Queue = kept
}

// Agents returns the agents with a recorded last request number, sorted
// lexicographically. Iterating the map through this method keeps every
// token operation deterministic.
func (t *Token) Agents() []acl.AgentID {
	agents := make([]acl.AgentID, 0, len(t.LastRequestNumber))
	for a := range t.LastRequestNumber {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	return agents
}

// Equal reports whether two tokens carry the same request numbers and the
// same waiter queue.
func (t *Token) Equal(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.LastRequestNumber) != len(other.LastRequestNumber) {
		return false
	}
	for a, n := range t.LastRequestNumber {
		if m, ok := other.LastRequestNumber[a]; !ok || m != n {
			return false
		}
	}
	if len(t.Queue) != len(other.Queue) {
		return false
	}
	for i := range t.Queue {
		if t.Queue[i] != other.Queue[i] {
			return false
		}
	}
	return true
}
