package wire

import (
	"encoding/binary"
	"fmt"
)

// glB container constants, grounded on GltfReader.cpp's header parsing
// (magic "glTF", version 2, header + chunk layout).
const (
	glbMagic      = 0x46546C67 // "glTF" little-endian
	glbHeaderSize = 12
	glbChunkJSON  = 0x4E4F534A // "JSON"
	glbChunkBIN   = 0x004E4942 // "BIN\0"
)

// GLBDocument is a parsed binary glTF container: the JSON chunk (raw, to
// be unmarshaled by a glTF-aware consumer) and the optional binary
// buffer chunk. Full glTF scene-graph decoding is out of spec.md §1's
// scope; this is the container-framing layer only.
type GLBDocument struct {
	JSON   []byte
	Binary []byte
}

// ParseGLB reads a binary glTF container per the 12-byte header + chunk
// sequence layout.
func ParseGLB(data []byte) (*GLBDocument, error) {
	if len(data) < glbHeaderSize {
		return nil, fmt.Errorf("wire: glb shorter than %d-byte header", glbHeaderSize)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != glbMagic {
		return nil, fmt.Errorf("wire: glb bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != 2 {
		return nil, fmt.Errorf("wire: unsupported glb version %d", version)
	}
	length := binary.LittleEndian.Uint32(data[8:12])
	if uint64(length) > uint64(len(data)) {
		return nil, fmt.Errorf("wire: glb length %d exceeds available %d bytes", length, len(data))
	}

	doc := &GLBDocument{}
	pos := uint32(glbHeaderSize)
	for pos+8 <= length {
		chunkLength := binary.LittleEndian.Uint32(data[pos : pos+4])
		chunkType := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		pos += 8
		if pos+chunkLength > length {
			return nil, fmt.Errorf("wire: glb chunk overruns declared length")
		}
		chunkData := data[pos : pos+chunkLength]
		pos += chunkLength

		switch chunkType {
		case glbChunkJSON:
			doc.JSON = chunkData
		case glbChunkBIN:
			doc.Binary = chunkData
		}
	}
	if doc.JSON == nil {
		return nil, fmt.Errorf("wire: glb missing required JSON chunk")
	}
	return doc, nil
}

// WriteGLB assembles a binary glTF container from a JSON chunk and an
// optional binary chunk, padding each to a 4-byte boundary per the glB
// spec (space 0x20 for JSON, zero for BIN).
func WriteGLB(jsonChunk, binChunk []byte) []byte {
	paddedJSON := padChunk(jsonChunk, ' ')
	paddedBin := padChunk(binChunk, 0)

	totalLength := glbHeaderSize + 8 + len(paddedJSON)
	if len(paddedBin) > 0 {
		totalLength += 8 + len(paddedBin)
	}

	out := make([]byte, 0, totalLength)
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], glbMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], 2)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(totalLength))
	out = append(out, hdr[:]...)

	out = appendChunk(out, glbChunkJSON, paddedJSON)
	if len(paddedBin) > 0 {
		out = appendChunk(out, glbChunkBIN, paddedBin)
	}
	return out
}

func appendChunk(out []byte, chunkType uint32, data []byte) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[4:8], chunkType)
	out = append(out, hdr[:]...)
	return append(out, data...)
}

func padChunk(data []byte, pad byte) []byte {
	if len(data) == 0 {
		return data
	}
	rem := len(data) % 4
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(4-rem))
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = pad
	}
	return padded
}
