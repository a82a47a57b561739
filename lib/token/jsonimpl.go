package token

import (
	"encoding/json"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// NewJSONSerializer creates a new serializer using JSON encoding. Useful
// for debugging message traces; larger and slower than the binary format.
func NewJSONSerializer() ISerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the ISerializer interface using JSON
type jsonSerializerImpl struct {
}

// jsonArchive is the on-wire pair encoded by the JSON serializer
type jsonArchive struct {
	Resource string `json:"resource"`
	Token    Token  `json:"token"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see token.ISerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(resource string, t *Token) ([]byte, error) {
	return json.Marshal(jsonArchive{Resource: resource, Token: *t})
}

func (j jsonSerializerImpl) Deserialize(b []byte) (string, *Token, error) {
	var archive jsonArchive
	if err := json.Unmarshal(b, &archive); err != nil {
		return "", nil, err
	}

	t := &archive.Token
	if t.LastRequestNumber == nil {
		t.LastRequestNumber = make(map[acl.AgentID]uint64)
	}
	return archive.Resource, t, nil
}
