package token

// ISerializer is the interface for all token serializers. A serializer
// turns the pair (resource, token) into a self-delimiting byte archive and
// back. All agents of a deployment must use the same serializer.
type ISerializer interface {
	// Serialize serializes a resource name and its token into a byte array.
	// It returns the serialized byte array and an error if any.
	Serialize(resource string, t *Token) ([]byte, error)
	// Deserialize deserializes a byte array into a resource name and token.
	// It returns the resource, the restored token, and an error if any.
	Deserialize(b []byte) (resource string, t *Token, err error)
}
