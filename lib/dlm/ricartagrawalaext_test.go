package dlm

import (
	"testing"
	"time"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// TestRAxLockStartsProbes tests that a lock attempt probes every partner.
func TestRAxLockStartsProbes(t *testing.T) {
	rx := newRicartAgrawalaExtended("agent1", []string{"res"})

	rx.Lock("res", []acl.AgentID{"agent2", "agent3"})

	for _, peer := range []acl.AgentID{"agent2", "agent3"} {
		runner, ok := rx.probeRunners[peer]
		if !ok {
			t.Fatalf("expected a probe runner for %s", peer)
		}
		if _, ok := runner.resources["res"]; !ok {
			t.Errorf("runner for %s not associated with the resource", peer)
		}
	}
}

// TestRAxResponseStopsProbes tests that an agreement stops the responder's
// probes.
func TestRAxResponseStopsProbes(t *testing.T) {
	rx := newRicartAgrawalaExtended("agent1", []string{"res"})

	rx.Lock("res", []acl.AgentID{"agent2", "agent3"})
	request, _ := rx.PopNextOutgoingMessage()

	agree := acl.NewMessage(acl.PerformativeAgree, "agent2")
	agree.Protocol = "ricart_agrawala_extended"
	agree.ConversationID = request.ConversationID
	agree.Content = "2\nres"
	agree.AddReceiver("agent1")
	rx.OnIncomingMessage(agree)

	if _, ok := rx.probeRunners["agent2"]; ok {
		t.Errorf("expected probing of the responder to stop")
	}
	if _, ok := rx.probeRunners["agent3"]; !ok {
		t.Errorf("the silent partner must still be probed")
	}
}

// TestRAxProbeTimeoutCompletesLock tests the full failure-detection loop:
// a silent partner times out and the lock completes without it.
func TestRAxProbeTimeoutCompletesLock(t *testing.T) {
	rx := newRicartAgrawalaExtended("agent1", []string{"res"})
	clock, advance := fakeClock(time.Unix(1000, 0))
	rx.clock = clock

	rx.Lock("res", []acl.AgentID{"agent2", "agent3"})
	request, _ := rx.PopNextOutgoingMessage()

	agree := acl.NewMessage(acl.PerformativeAgree, "agent2")
	agree.Protocol = "ricart_agrawala_extended"
	agree.ConversationID = request.ConversationID
	agree.Content = "2\nres"
	agree.AddReceiver("agent1")
	rx.OnIncomingMessage(agree)

	// First trigger probes agent3; it never answers
	rx.Trigger()
	probe, err := rx.PopNextOutgoingMessage()
	if err != nil || probe.Protocol != "dlm_probe" || !probe.HasReceiver("agent3") {
		t.Fatalf("expected a probe to agent3, got %v (err=%v)", probe, err)
	}

	advance(DefaultProbeTimeout + time.Second)
	rx.Trigger()

	if rx.GetLockState("res") != Locked {
		t.Fatalf("expected Locked after the silent partner failed, got %s", rx.GetLockState("res"))
	}
	if _, ok := rx.probeRunners["agent3"]; ok {
		t.Errorf("expected the failed partner's runner to be gone")
	}
}
