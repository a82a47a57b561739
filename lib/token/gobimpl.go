package token

import (
	"bytes"
	"encoding/gob"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
func NewGOBSerializer() ISerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the ISerializer interface using gob encoding
type gobSerializerImpl struct {
}

// gobArchive is the on-wire pair encoded by the gob serializer
type gobArchive struct {
	Resource string
	Token    Token
}

// --------------------------------------------------------------------------
// Interface Methods (docu see token.ISerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(resource string, t *Token) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(gobArchive{Resource: resource, Token: *t}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte) (string, *Token, error) {
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)

	var archive gobArchive
	if err := dec.Decode(&archive); err != nil {
		return "", nil, err
	}

	t := &archive.Token
	if t.LastRequestNumber == nil {
		t.LastRequestNumber = make(map[acl.AgentID]uint64)
	}
	return archive.Resource, t, nil
}
