// Package token provides the Suzuki–Kasami token data model and its
// serialization. The token is the single mobile object whose possession
// confers the right to enter the critical section for a resource; it
// travels between agents inside Propagate messages as a serialized
// (resource, token) pair.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Deterministic output from the binary and JSON serializers, so
//     independent agents agree on the byte-level form of equal tokens
//   - Keeping the archive self-delimiting so it can be framed inside a
//     larger payload
//
// Key Components:
//
//   - Token: request-number table plus waiter queue, with the queue and
//     map helpers the engine needs (Enqueue, PopFront, RemoveFromQueue).
//
//   - ISerializer: core interface all serializer implementations satisfy.
//
//   - binarySerializerImpl: custom length-prefixed big-endian format,
//     entries sorted by agent name. Smallest and fastest; the default.
//
//   - gobSerializerImpl: Go's gob encoding. Compatible with Go's type
//     system but produces larger archives. The request-number map is
//     encoded in Go's map iteration order, so equal tokens can encode to
//     different bytes.
//
//   - jsonSerializerImpl: human-readable form, useful when inspecting
//     message traces.
//
// All agents of a deployment must be configured with the same serializer,
// otherwise token transfers will fail to decode.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent
//	use. Token itself is owned by a single engine instance and is not
//	safe for concurrent mutation.
package token
