package acl

import (
	"reflect"
	"testing"
)

// TestPerformativeStringRoundTrip tests that every performative survives the
// JSON string round trip.
func TestPerformativeStringRoundTrip(t *testing.T) {
	for p := PerformativeQueryIf; p <= PerformativeFailure; p++ {
		data, err := p.MarshalJSON()
		if err != nil {
			t.Fatalf("failed to marshal performative %s: %v", p.String(), err)
		}

		var result Performative
		if err := result.UnmarshalJSON(data); err != nil {
			t.Fatalf("failed to unmarshal performative %s: %v", p.String(), err)
		}

		if result != p {
			t.Errorf("performative doesn't match after round trip: expected %s, got %s",
				p.String(), result.String())
		}
	}
}

// TestPerformativeUnknown tests that an unknown string is rejected.
func TestPerformativeUnknown(t *testing.T) {
	var p Performative
	if err := p.UnmarshalJSON([]byte(`"propose"`)); err == nil {
		t.Errorf("expected error for unknown performative but got none")
	}
}

// TestMessageEncodeDecode tests the JSON round trip of a full envelope.
func TestMessageEncodeDecode(t *testing.T) {
	msg := Message{
		Performative:   PerformativeRequest,
		Sender:         "agent1",
		Receivers:      []AgentID{"agent2", "agent3"},
		Protocol:       "ricart_agrawala",
		ConversationID: "agent1_0",
		Content:        "5\nresource",
	}

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("failed to encode message: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	if !reflect.DeepEqual(msg, decoded) {
		t.Errorf("message doesn't match after round trip:\nOriginal: %+v\nResult: %+v", msg, decoded)
	}
}

// TestDecodeInvalid tests that malformed JSON is rejected.
func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode("{not json"); err == nil {
		t.Errorf("expected error for malformed message but got none")
	}
}

// TestReceiverHelpers tests AddReceiver and HasReceiver.
func TestReceiverHelpers(t *testing.T) {
	msg := NewMessage(PerformativeInform, "agent1")
	msg.AddReceiver("agent2")
	msg.AddReceiver("agent3")

	if !msg.HasReceiver("agent2") || !msg.HasReceiver("agent3") {
		t.Errorf("expected receivers agent2 and agent3, got %v", msg.Receivers)
	}
	if msg.HasReceiver("agent1") {
		t.Errorf("sender must not be a receiver unless added explicitly")
	}
}

// TestSortAgents tests lexicographic agent ordering and comparison.
func TestSortAgents(t *testing.T) {
	agents := []AgentID{"c", "a", "b"}
	SortAgents(agents)

	if !reflect.DeepEqual(agents, []AgentID{"a", "b", "c"}) {
		t.Errorf("agents not sorted lexicographically: %v", agents)
	}

	if !EqualAgents(agents, []AgentID{"a", "b", "c"}) {
		t.Errorf("EqualAgents returned false for equal slices")
	}
	if EqualAgents(agents, []AgentID{"a", "b"}) {
		t.Errorf("EqualAgents returned true for slices of different length")
	}
}
