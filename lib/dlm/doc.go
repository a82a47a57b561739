// Package dlm implements distributed mutual exclusion over named
// resources for asynchronous, message-passing multi-agent systems. Every
// participating agent runs one engine instance; the engines coordinate by
// exchanging acl.Message envelopes that the embedding host moves between
// processes.
//
// Two algorithms are provided, each in a plain and an extended variant:
//
//   - Ricart–Agrawala (ricart_agrawala): permission based. A lock attempt
//     broadcasts a Lamport-timestamped request and the lock is held once
//     every queried partner agreed; conflicting requests are ordered by
//     timestamp with a lexicographic tie-break on agent names, and
//     conflicting replies are deferred until unlock.
//
//   - Ricart–Agrawala Extended (ricart_agrawala_extended): additionally
//     probes every queried partner while an attempt is pending, so a
//     silently failed peer does not stall the attempt forever.
//
//   - Suzuki–Kasami (suzuki_kasami): token based. A single token per
//     resource confers the right to enter the critical section; requests
//     carry per-agent sequence numbers and the token queues outstanding
//     requesters.
//
//   - Suzuki–Kasami Extended (suzuki_kasami_extended): routes every token
//     return through the resource's physical owner. The owner tracks and
//     probes the current holder and reclaims the token when the holder
//     fails; in the plain variant such a token is lost.
//
// Shared by all variants is a base layer providing the outgoing message
// queue, the conversation monitor, resource-owner discovery
// (dlm_discover), liveness probing (dlm_probe) and lock-holder tracking
// via Confirm/Disconfirm notifications to the physical owner.
//
// Driving an engine:
//
//	engine, _ := dlm.New(dlm.ProtocolRicartAgrawala, "agent1", []string{"res"})
//
//	// Forward incoming messages
//	engine.OnIncomingMessage(msg)
//
//	// Advance the probe loop, about once a second
//	engine.Trigger()
//
//	// Drain outgoing messages after every call
//	for engine.HasOutgoingMessages() {
//	    msg, _ := engine.PopNextOutgoingMessage()
//	    // hand msg to the transport
//	}
//
//	// Lock against a list of peers, then poll the state
//	if err := engine.Lock("res", []acl.AgentID{"agent2", "agent3"}); err != nil {
//	    // owner unknown or resource unreachable
//	}
//	if engine.GetLockState("res") == dlm.Locked {
//	    // critical section
//	    engine.Unlock("res")
//	}
//
// Thread Safety:
//
//	An engine instance performs no internal locking. The host must
//	serialize all calls on one instance; distinct instances are
//	independent. No entry point blocks and the engine spawns no
//	goroutines.
//
// Failure Model:
//
//	The engine never talks to the network. When the host fails to
//	deliver a message it must feed a Failure envelope back into the
//	engine, carrying the undeliverable message (JSON-encoded) as content
//	and keeping the conversation id. Depending on who became
//	unreachable, the affected resource is marked Unreachable, the failed
//	agent's permission is waived, or (extended Suzuki–Kasami) the token
//	is reclaimed. Unreachable is terminal for a resource.
package dlm
