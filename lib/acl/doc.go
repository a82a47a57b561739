// Package acl defines the agent communication envelope exchanged by the
// locking engines. It is a deliberately small value-type library: a Message
// carries a performative from a closed set, a sender, a receiver list, a
// protocol tag, a conversation id and a text content field.
//
// The package knows nothing about sockets or wire framing. The host moves
// Message values between processes in whatever way it sees fit; the JSON
// form produced by Message.Encode exists so a message can be embedded
// inside another message's content (this is how transport failure
// notifications carry the undeliverable envelope back to its sender).
//
// Conversation ids are opaque strings here. The engines mint them in the
// form "<agent>_<counter>" with a per-agent strictly increasing counter;
// replies reuse the id of the message they answer.
//
// Thread Safety:
//
//	Message is a plain value type. Copies are independent except for the
//	shared backing array of the Receivers slice; the engines never mutate
//	a received message.
package acl
