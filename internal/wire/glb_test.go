package wire

import (
	"bytes"
	"testing"
)

func TestWriteGLBThenParseGLBRoundTrips(t *testing.T) {
	jsonChunk := []byte(`{"asset":{"version":"2.0"}}`)
	binChunk := []byte{1, 2, 3, 4, 5}

	glb := WriteGLB(jsonChunk, binChunk)

	doc, err := ParseGLB(glb)
	if err != nil {
		t.Fatalf("ParseGLB: %v", err)
	}
	if !bytes.Equal(doc.Binary[:len(binChunk)], binChunk) {
		t.Fatalf("Binary = %v, want prefix %v", doc.Binary, binChunk)
	}
	if !bytes.HasPrefix(doc.JSON, jsonChunk) {
		t.Fatalf("JSON = %q, want prefix %q", doc.JSON, jsonChunk)
	}
}

func TestWriteGLBWithoutBinaryChunk(t *testing.T) {
	jsonChunk := []byte(`{"asset":{"version":"2.0"}}`)
	glb := WriteGLB(jsonChunk, nil)

	doc, err := ParseGLB(glb)
	if err != nil {
		t.Fatalf("ParseGLB: %v", err)
	}
	if doc.Binary != nil {
		t.Fatalf("expected no binary chunk, got %v", doc.Binary)
	}
}

func TestParseGLBRejectsShortHeader(t *testing.T) {
	if _, err := ParseGLB([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error for a too-short header")
	}
}

func TestParseGLBRejectsBadMagic(t *testing.T) {
	data := WriteGLB([]byte(`{}`), nil)
	data[0] = 'X'
	if _, err := ParseGLB(data); err == nil {
		t.Fatalf("expected an error for a bad magic")
	}
}

func TestParseGLBRejectsMissingJSONChunk(t *testing.T) {
	var hdr [12]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 'g', 'l', 'T', 'F'
	hdr[4] = 2
	hdr[8] = 12
	if _, err := ParseGLB(hdr[:]); err == nil {
		t.Fatalf("expected an error for a container with no JSON chunk")
	}
}
