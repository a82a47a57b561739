package token

import (
	"encoding/binary"
	"fmt"

	"github.com/si3792/multiagent-distributed-locking/lib/acl"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and determinism. This is the default serializer.
func NewBinarySerializer() ISerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISerializer using a custom binary format.
//
// Frame layout (all integers big-endian):
//
//	u32 resourceLen | resource bytes
//	u32 entryCount  | entryCount × (u32 agentLen, agent bytes, u64 lastReqNo)
//	u32 queueLen    | queueLen × (u32 agentLen, agent bytes)
//
// Request-number entries are written in lexicographic agent order, so equal
// tokens always serialize to equal bytes.
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see token.ISerializer)
// --------------------------------------------------------------------------

func (s binarySerializerImpl) Serialize(resource string, t *Token) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot serialize nil token")
	}

	// Calculate total size needed
	size := 4 + len(resource) + 4 + 4
	for agent := range t.LastRequestNumber {
		size += 4 + len(agent) + 8
	}
	for _, agent := range t.Queue {
		size += 4 + len(agent)
	}

	result := make([]byte, size)
	pos := 0

	// Write resource
	pos = putString(result, pos, resource)

	// Write request-number entries in deterministic order
	agents := t.Agents()
	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(agents)))
	pos += 4
	for _, agent := range agents {
		pos = putString(result, pos, string(agent))
		binary.BigEndian.PutUint64(result[pos:pos+8], t.LastRequestNumber[agent])
		pos += 8
	}

	// Write queue
	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(t.Queue)))
	pos += 4
	for _, agent := range t.Queue {
		pos = putString(result, pos, string(agent))
	}

	return result, nil
}

func (s binarySerializerImpl) Deserialize(data []byte) (string, *Token, error) {
	pos := 0

	// Read resource
	resource, pos, err := getString(data, pos)
	if err != nil {
		return "", nil, fmt.Errorf("resource: %v", err)
	}

	t := New()

	// Read request-number entries
	count, pos, err := getUint32(data, pos)
	if err != nil {
		return "", nil, fmt.Errorf("entry count: %v", err)
	}
	for i := uint32(0); i < count; i++ {
		var agent string
		agent, pos, err = getString(data, pos)
		if err != nil {
			return "", nil, fmt.Errorf("entry %d agent: %v", i, err)
		}
		if pos+8 > len(data) {
			return "", nil, fmt.Errorf("entry %d: data too short for request number", i)
		}
		t.LastRequestNumber[acl.AgentID(agent)] = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	// Read queue
	count, pos, err = getUint32(data, pos)
	if err != nil {
		return "", nil, fmt.Errorf("queue length: %v", err)
	}
	for i := uint32(0); i < count; i++ {
		var agent string
		agent, pos, err = getString(data, pos)
		if err != nil {
			return "", nil, fmt.Errorf("queue entry %d: %v", i, err)
		}
		t.Queue = append(t.Queue, acl.AgentID(agent))
	}

	return resource, t, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// putString writes a length-prefixed string at pos and returns the new pos.
func putString(buf []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(buf[pos:pos+len(s)], s)
	return pos + len(s)
}

// getString reads a length-prefixed string at pos and returns it together
// with the new pos.
func getString(data []byte, pos int) (string, int, error) {
	length, pos, err := getUint32(data, pos)
	if err != nil {
		return "", pos, err
	}
	if pos+int(length) > len(data) {
		return "", pos, fmt.Errorf("data too short for string of length %d", length)
	}
	s := string(data[pos : pos+int(length)])
	return s, pos + int(length), nil
}

// getUint32 reads a big-endian uint32 at pos and returns the new pos.
func getUint32(data []byte, pos int) (uint32, int, error) {
	if pos+4 > len(data) {
		return 0, pos, fmt.Errorf("data too short for length field")
	}
	return binary.BigEndian.Uint32(data[pos : pos+4]), pos + 4, nil
}
