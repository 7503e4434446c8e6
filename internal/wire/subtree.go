package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Subtree binary container: a 24-byte header ("subt" magic, version,
// JSON chunk length, binary chunk length as uint64s) followed by the
// JSON chunk and an optional binary chunk, mirroring glB's framing
// style (ParseGLB) but with 8-byte length fields since availability
// bitstreams can exceed 4GiB at deep subdivision levels in principle.
const (
	subtreeMagic      = 0x74627573 // "subt" little-endian
	subtreeHeaderSize = 24
)

type availabilityJSON struct {
	Constant       *int `json:"constant"`
	Bitstream      *int `json:"bitstream"`
	ByteOffset     int  `json:"byteOffset"`
	AvailableCount *int `json:"availableCount"`
}

type bufferViewJSON struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
}

type bufferJSON struct {
	ByteLength int    `json:"byteLength"`
	URI        string `json:"uri"`
}

type subtreeJSON struct {
	TileAvailability        availabilityJSON `json:"tileAvailability"`
	ContentAvailability     availabilityJSON `json:"contentAvailability"`
	ChildSubtreeAvailability availabilityJSON `json:"childSubtreeAvailability"`
	Buffers                 []bufferJSON      `json:"buffers"`
	BufferViews             []bufferViewJSON  `json:"bufferViews"`
}

// SubtreeBitstreams holds the three decoded availability bitstreams,
// ready for availability.ParseSubtree.
type SubtreeBitstreams struct {
	TileAvailable    []byte
	ContentAvailable []byte
	SubtreeAvailable []byte
}

// ParseSubtreeBinary decodes a subtree resource body into its three
// availability bitstreams. nodeCount/childCount size the constant-fill
// fallback when a stream reports "constant" instead of "bitstream".
func ParseSubtreeBinary(data []byte, nodeCount, childCount int) (*SubtreeBitstreams, error) {
	if len(data) < subtreeHeaderSize {
		return nil, fmt.Errorf("wire: subtree shorter than %d-byte header", subtreeHeaderSize)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != subtreeMagic {
		return nil, fmt.Errorf("wire: subtree bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != 1 {
		return nil, fmt.Errorf("wire: unsupported subtree version %d", version)
	}
	jsonLength := binary.LittleEndian.Uint64(data[8:16])
	binaryLength := binary.LittleEndian.Uint64(data[16:24])

	jsonStart := uint64(subtreeHeaderSize)
	if jsonStart+jsonLength > uint64(len(data)) {
		return nil, fmt.Errorf("wire: subtree JSON chunk overruns buffer")
	}
	jsonChunk := data[jsonStart : jsonStart+jsonLength]

	binStart := jsonStart + jsonLength
	var binChunk []byte
	if binaryLength > 0 {
		if binStart+binaryLength > uint64(len(data)) {
			return nil, fmt.Errorf("wire: subtree binary chunk overruns buffer")
		}
		binChunk = data[binStart : binStart+binaryLength]
	}

	var doc subtreeJSON
	if err := json.Unmarshal(jsonChunk, &doc); err != nil {
		return nil, fmt.Errorf("wire: parse subtree JSON: %w", err)
	}

	tileBits, err := resolveBitstream(doc.TileAvailability, binChunk, doc.BufferViews, nodeCount)
	if err != nil {
		return nil, fmt.Errorf("wire: tileAvailability: %w", err)
	}
	contentBits, err := resolveBitstream(doc.ContentAvailability, binChunk, doc.BufferViews, nodeCount)
	if err != nil {
		return nil, fmt.Errorf("wire: contentAvailability: %w", err)
	}
	childBits, err := resolveBitstream(doc.ChildSubtreeAvailability, binChunk, doc.BufferViews, childCount)
	if err != nil {
		return nil, fmt.Errorf("wire: childSubtreeAvailability: %w", err)
	}

	return &SubtreeBitstreams{
		TileAvailable:    tileBits,
		ContentAvailable: contentBits,
		SubtreeAvailable: childBits,
	}, nil
}

func resolveBitstream(a availabilityJSON, binChunk []byte, views []bufferViewJSON, bitCount int) ([]byte, error) {
	if a.Constant != nil {
		return fillBitset(bitCount, *a.Constant != 0), nil
	}
	if a.Bitstream == nil {
		return nil, fmt.Errorf("availability object has neither constant nor bitstream")
	}
	idx := *a.Bitstream
	if idx < 0 || idx >= len(views) {
		return nil, fmt.Errorf("bufferView index %d out of range", idx)
	}
	v := views[idx]
	if v.ByteOffset+v.ByteLength > len(binChunk) {
		return nil, fmt.Errorf("bufferView %d overruns binary chunk", idx)
	}
	return binChunk[v.ByteOffset : v.ByteOffset+v.ByteLength], nil
}

func fillBitset(bitCount int, allAvailable bool) []byte {
	buf := make([]byte, (bitCount+7)/8)
	if allAvailable {
		for i := range buf {
			buf[i] = 0xFF
		}
	}
	return buf
}
