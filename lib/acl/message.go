package acl

import (
	"encoding/json"
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Agent Identifier
// --------------------------------------------------------------------------

// AgentID identifies a participating agent by its unique name.
// Agents are compared and ordered lexicographically by name.
type AgentID string

// SortAgents sorts a slice of agent ids in place, lexicographically.
func SortAgents(agents []AgentID) {
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
}

// EqualAgents reports whether the two (sorted) agent slices contain the
// same ids in the same order.
func EqualAgents(a, b []AgentID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the agent communication envelope exchanged between agents.
// The engine produces and consumes Message values; moving them between
// processes is the host's job.
type Message struct {
	// Performative classifies the communicative act
	Performative Performative `json:"performative"`

	// Sender is the agent that produced the message
	Sender AgentID `json:"sender"`
	// Receivers lists the agents the message is addressed to
	Receivers []AgentID `json:"receivers,omitempty"`

	// Protocol is the protocol tag the message belongs to
	Protocol string `json:"protocol,omitempty"`
	// ConversationID correlates the messages of one exchange
	ConversationID string `json:"conversation_id,omitempty"`

	// Content is the protocol-specific payload (UTF-8 text)
	Content string `json:"content,omitempty"`
	// Language tags the content encoding, if any
	Language string `json:"language,omitempty"`
}

// NewMessage creates a message with the given performative and sender.
// Receivers, protocol and conversation id are filled in by the caller.
func NewMessage(performative Performative, sender AgentID) Message {
	return Message{
		Performative: performative,
		Sender:       sender,
	}
}

// AddReceiver appends an agent to the receiver list.
func (m *Message) AddReceiver(agent AgentID) {
	m.Receivers = append(m.Receivers, agent)
}

// HasReceiver reports whether the given agent is addressed by this message.
func (m *Message) HasReceiver(agent AgentID) bool {
	for _, r := range m.Receivers {
		if r == agent {
			return true
		}
	}
	return false
}

// String returns a compact human-readable form used in log output.
func (m Message) String() string {
	return fmt.Sprintf("%s[%s] %s -> %v conv=%s content=%q",
		m.Performative, m.Protocol, m.Sender, m.Receivers, m.ConversationID, m.Content)
}

// Encode serializes the message to its JSON wire form. It is used to embed
// a message inside the content of a Failure envelope.
func (m Message) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a message from its JSON wire form.
func Decode(s string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// --------------------------------------------------------------------------
// Performative Definition
// --------------------------------------------------------------------------

// Performative is the communicative act of a message. The set is closed;
// the engine only ever produces and consumes the constants below.
type Performative uint8

const (
	PerformativeUnknown Performative = iota

	PerformativeQueryIf    // ask whether the receiver owns a resource
	PerformativeInform     // answer a query
	PerformativeRequest    // request a lock, a token, or a probe reply
	PerformativeAgree      // grant a lock request
	PerformativeConfirm    // confirm a probe or a lock acquisition
	PerformativeDisconfirm // signal a lock release
	PerformativePropagate  // transfer a token
	PerformativeFailure    // transport delivery failure notification
)

// String returns the string representation of a Performative.
func (p Performative) String() string {
	switch p {
	case PerformativeQueryIf:
		return "query-if"
	case PerformativeInform:
		return "inform"
	case PerformativeRequest:
		return "request"
	case PerformativeAgree:
		return "agree"
	case PerformativeConfirm:
		return "confirm"
	case PerformativeDisconfirm:
		return "disconfirm"
	case PerformativePropagate:
		return "propagate"
	case PerformativeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaler interface for Performative.
// This allows a Performative to be serialized as a string in JSON.
func (p Performative) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Performative.
// This allows a Performative to be deserialized from a string in JSON.
func (p *Performative) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "query-if":
		*p = PerformativeQueryIf
	case "inform":
		*p = PerformativeInform
	case "request":
		*p = PerformativeRequest
	case "agree":
		*p = PerformativeAgree
	case "confirm":
		*p = PerformativeConfirm
	case "disconfirm":
		*p = PerformativeDisconfirm
	case "propagate":
		*p = PerformativePropagate
	case "failure":
		*p = PerformativeFailure
	default:
		return fmt.Errorf("unknown performative: %s", s)
	}

	return nil
}
