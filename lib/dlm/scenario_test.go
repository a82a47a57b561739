package dlm_test

import (
	"testing"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/dlm"
	dlmtest "github.com/si3792/multiagent-distributed-locking/lib/dlm/testing"
	"github.com/si3792/multiagent-distributed-locking/transport/local"
)

// newEngines creates one engine per agent; owned maps agents to the
// resources they physically own.
func newEngines(t *testing.T, protocol dlm.Protocol, agents []acl.AgentID, owned map[acl.AgentID][]string) []dlm.IDLM {
	t.Helper()
	engines := make([]dlm.IDLM, len(agents))
	for i, agent := range agents {
		engine, err := dlm.New(protocol, agent, owned[agent])
		if err != nil {
			t.Fatalf("failed to create engine for %s: %v", agent, err)
		}
		engines[i] = engine
	}
	return engines
}

// requireAtMostOneLocked asserts the safety property for one resource.
func requireAtMostOneLocked(t *testing.T, engines []dlm.IDLM, resource string) {
	t.Helper()
	locked := 0
	for _, engine := range engines {
		if engine.GetLockState(resource) == dlm.Locked {
			locked++
		}
	}
	if locked > 1 {
		t.Fatalf("safety violated: %d agents hold the lock for '%s'", locked, resource)
	}
}

// TestScenarioRABasicHoldAndRelease: the owner locks and releases its own
// resource against two peers.
func TestScenarioRABasicHoldAndRelease(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2", "agent3"}
	engines := newEngines(t, dlm.ProtocolRicartAgrawala, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})

	if err := engines[0].Lock("r", []acl.AgentID{"agent2", "agent3"}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	dlmtest.SettleMessages(t, engines, 10)

	dlmtest.RequireState(t, engines[0], "r", dlm.Locked)
	dlmtest.RequireState(t, engines[1], "r", dlm.NotInterested)
	dlmtest.RequireState(t, engines[2], "r", dlm.NotInterested)

	engines[0].Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)

	for _, engine := range engines {
		dlmtest.RequireState(t, engine, "r", dlm.NotInterested)
	}
}

// TestScenarioRATwoAgentConflict: two simultaneous requests at equal
// Lamport time; the lexicographically smaller agent wins, the loser
// follows after the release.
func TestScenarioRATwoAgentConflict(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2"}
	engines := newEngines(t, dlm.ProtocolRicartAgrawala, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})
	a1, a2 := engines[0], engines[1]

	// agent2 must know the owner before locking
	a2.Discover("r", []acl.AgentID{"agent1"})
	dlmtest.SettleMessages(t, engines, 10)

	if err := a1.Lock("r", []acl.AgentID{"agent2"}); err != nil {
		t.Fatalf("agent1 lock failed: %v", err)
	}
	if err := a2.Lock("r", []acl.AgentID{"agent1"}); err != nil {
		t.Fatalf("agent2 lock failed: %v", err)
	}
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")

	// Equal Lamport times: agent1 wins the lexicographic tie-break
	dlmtest.RequireState(t, a1, "r", dlm.Locked)
	dlmtest.RequireState(t, a2, "r", dlm.Interested)

	a1.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")

	dlmtest.RequireState(t, a1, "r", dlm.NotInterested)
	dlmtest.RequireState(t, a2, "r", dlm.Locked)
	if holder, ok := a1.GetLockHolder("r"); !ok || holder != "agent2" {
		t.Errorf("owner must track agent2 as holder, got %q (ok=%v)", holder, ok)
	}

	a2.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)

	dlmtest.RequireState(t, a1, "r", dlm.NotInterested)
	dlmtest.RequireState(t, a2, "r", dlm.NotInterested)
	if _, ok := a1.GetLockHolder("r"); ok {
		t.Errorf("owner must clear the holder after the release")
	}
}

// TestScenarioRAOwnerFailure: the owner becomes unreachable during a lock
// attempt; the resource is terminally unreachable.
func TestScenarioRAOwnerFailure(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2"}
	engines := newEngines(t, dlm.ProtocolRicartAgrawala, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})
	a1, a2 := engines[0], engines[1]

	bus := local.NewMessageBus()
	bus.Register(a1)
	bus.Register(a2)

	a2.Discover("r", []acl.AgentID{"agent1"})
	bus.DeliverAll()
	if owner, ok := a2.GetOwner("r"); !ok || owner != "agent1" {
		t.Fatalf("discovery failed, owner %q (ok=%v)", owner, ok)
	}

	bus.Disconnect("agent1")

	if err := a2.Lock("r", []acl.AgentID{"agent1"}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	bus.DeliverAll()

	dlmtest.RequireState(t, a2, "r", dlm.Unreachable)

	err := a2.Lock("r", []acl.AgentID{"agent1"})
	if !dlm.IsCode(err, dlm.RetCUnreachable) {
		t.Fatalf("expected Unreachable error, got %v", err)
	}
}

// TestScenarioSKTokenReuse: a released token is kept and reused without
// any message exchange.
func TestScenarioSKTokenReuse(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2", "agent3"}
	engines := newEngines(t, dlm.ProtocolSuzukiKasami, agents,
		map[acl.AgentID][]string{"agent2": {"r"}})
	a1 := engines[0]

	a1.Discover("r", []acl.AgentID{"agent2", "agent3"})
	dlmtest.SettleMessages(t, engines, 10)

	if err := a1.Lock("r", []acl.AgentID{"agent2", "agent3"}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	dlmtest.SettleMessages(t, engines, 10)
	dlmtest.RequireState(t, a1, "r", dlm.Locked)

	a1.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	dlmtest.RequireState(t, a1, "r", dlm.NotInterested)

	// The token stayed with agent1: the second lock is message-free
	if err := a1.Lock("r", []acl.AgentID{"agent2", "agent3"}); err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	dlmtest.RequireState(t, a1, "r", dlm.Locked)
	dlmtest.RequireNoOutgoing(t, a1)
}

// TestScenarioSKRotation: three agents lock in turn; the token follows the
// request queue.
func TestScenarioSKRotation(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2", "agent3"}
	engines := newEngines(t, dlm.ProtocolSuzukiKasami, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})
	a1, a2, a3 := engines[0], engines[1], engines[2]

	a2.Discover("r", []acl.AgentID{"agent1", "agent3"})
	a3.Discover("r", []acl.AgentID{"agent1", "agent2"})
	dlmtest.SettleMessages(t, engines, 10)

	// The owner takes the lock, then both peers queue up
	if err := a1.Lock("r", nil); err != nil {
		t.Fatalf("agent1 lock failed: %v", err)
	}
	dlmtest.RequireState(t, a1, "r", dlm.Locked)

	if err := a2.Lock("r", []acl.AgentID{"agent1", "agent3"}); err != nil {
		t.Fatalf("agent2 lock failed: %v", err)
	}
	if err := a3.Lock("r", []acl.AgentID{"agent1", "agent2"}); err != nil {
		t.Fatalf("agent3 lock failed: %v", err)
	}
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")

	a1.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")
	dlmtest.RequireState(t, a2, "r", dlm.Locked)

	a2.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")
	dlmtest.RequireState(t, a3, "r", dlm.Locked)

	a3.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)

	for _, engine := range engines {
		dlmtest.RequireState(t, engine, "r", dlm.NotInterested)
	}

	// The token rests with the last holder: agent3 relocks silently
	if err := a3.Lock("r", []acl.AgentID{"agent1", "agent2"}); err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	dlmtest.RequireState(t, a3, "r", dlm.Locked)
	dlmtest.RequireNoOutgoing(t, a3)
}

// TestScenarioSKxTokenRecovery: the token holder dies; the owner detects
// it by probe timeout, reclaims the token and grants it to the waiting
// requester.
func TestScenarioSKxTokenRecovery(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2", "agent3"}
	engines := newEngines(t, dlm.ProtocolSuzukiKasamiExtended, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})
	a1, a2, a3 := engines[0], engines[1], engines[2]

	bus := local.NewMessageBus()
	for _, engine := range engines {
		bus.Register(engine)
	}

	a2.Discover("r", []acl.AgentID{"agent1", "agent3"})
	a3.Discover("r", []acl.AgentID{"agent1", "agent2"})
	bus.DeliverAll()

	// agent3 takes the token
	if err := a3.Lock("r", []acl.AgentID{"agent1", "agent2"}); err != nil {
		t.Fatalf("agent3 lock failed: %v", err)
	}
	bus.DeliverAll()
	dlmtest.RequireState(t, a3, "r", dlm.Locked)

	// agent2 queues up behind it
	if err := a2.Lock("r", []acl.AgentID{"agent1", "agent3"}); err != nil {
		t.Fatalf("agent2 lock failed: %v", err)
	}
	bus.DeliverAll()
	dlmtest.RequireState(t, a2, "r", dlm.Interested)

	// agent3 dies holding the token
	bus.Disconnect("agent3")
	a1.SetProbeTimeout(0)

	// First tick sends the probe, second tick times it out
	bus.Tick()
	bus.Tick()
	bus.DeliverAll()

	dlmtest.RequireState(t, a2, "r", dlm.Locked)
	if holder, ok := a1.GetLockHolder("r"); !ok || holder != "agent2" {
		t.Errorf("owner must track agent2 as holder after recovery, got %q (ok=%v)", holder, ok)
	}
}

// TestScenarioRAExtendedConflict: the extended RA variant behaves like the
// base algorithm when nobody fails.
func TestScenarioRAExtendedConflict(t *testing.T) {
	agents := []acl.AgentID{"agent1", "agent2"}
	engines := newEngines(t, dlm.ProtocolRicartAgrawalaExtended, agents,
		map[acl.AgentID][]string{"agent1": {"r"}})
	a1, a2 := engines[0], engines[1]

	a2.Discover("r", []acl.AgentID{"agent1"})
	dlmtest.SettleMessages(t, engines, 10)

	a1.Lock("r", []acl.AgentID{"agent2"})
	a2.Lock("r", []acl.AgentID{"agent1"})
	dlmtest.SettleMessages(t, engines, 10)
	requireAtMostOneLocked(t, engines, "r")
	dlmtest.RequireState(t, a1, "r", dlm.Locked)

	a1.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	dlmtest.RequireState(t, a2, "r", dlm.Locked)

	a2.Unlock("r")
	dlmtest.SettleMessages(t, engines, 10)
	dlmtest.RequireState(t, a1, "r", dlm.NotInterested)
	dlmtest.RequireState(t, a2, "r", dlm.NotInterested)
}
