package content

import (
	"encoding/binary"
	"testing"

	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

func TestCreateContentDispatchesByMagic(t *testing.T) {
	f := NewFactory()
	data := make([]byte, 32)
	copy(data, "b3dm")

	handle, err := f.CreateContent(Response{Data: data})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentModel {
		t.Fatalf("Kind = %v, want ContentModel", handle.Kind)
	}
	if handle.Model.ByteLength != int64(len(data)) {
		t.Fatalf("ByteLength = %d, want %d", handle.Model.ByteLength, len(data))
	}
}

func TestCreateContentDispatchesByContentType(t *testing.T) {
	f := NewFactory()
	handle, err := f.CreateContent(Response{Data: []byte("not-a-magic"), ContentType: "model/gltf-binary; charset=utf-8"})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentModel {
		t.Fatalf("Kind = %v, want ContentModel", handle.Kind)
	}
}

func TestCreateContentDispatchesByExtension(t *testing.T) {
	f := NewFactory()
	handle, err := f.CreateContent(Response{Data: []byte("not-json-ish"), URL: "terrain/0/0/0.terrain?v=1"})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentModel || handle.Model.UpAxis != "Z" {
		t.Fatalf("expected a quantized-mesh model with Z up-axis, got %+v", handle)
	}
}

func TestCreateContentSniffsJSONObject(t *testing.T) {
	f := NewFactory()
	handle, err := f.CreateContent(Response{Data: []byte(`  {"asset":{"version":"1.0"}}`)})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentExternalTileset {
		t.Fatalf("Kind = %v, want ContentExternalTileset", handle.Kind)
	}
}

func TestCreateContentUnrecognizedReturnsError(t *testing.T) {
	f := NewFactory()
	if _, err := f.CreateContent(Response{Data: []byte("????"), URL: "thing.bin"}); err == nil {
		t.Fatalf("expected an error for unrecognized content")
	}
}

func cmptPayload(t *testing.T, inner ...[]byte) []byte {
	t.Helper()
	var body []byte
	for _, tile := range inner {
		body = append(body, tile...)
	}
	header := make([]byte, cmptHeaderSize)
	copy(header[0:4], "cmpt")
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint32(header[8:12], uint32(cmptHeaderSize+len(body)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(inner)))
	return append(header, body...)
}

func innerB3DM(n int) []byte {
	b := make([]byte, cmptInnerHeaderSize+n)
	copy(b[0:4], "b3dm")
	binary.LittleEndian.PutUint32(b[4:8], 1)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(b)))
	return b
}

func TestCompositeDecoderMergesEmbeddedTilesAndSumsBytes(t *testing.T) {
	f := NewFactory()
	a := innerB3DM(10)
	b := innerB3DM(20)
	payload := cmptPayload(t, a, b)

	handle, err := f.CreateContent(Response{Data: payload})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentModel {
		t.Fatalf("Kind = %v, want ContentModel", handle.Kind)
	}
	want := int64(len(a) + len(b))
	if handle.Model.ByteLength != want {
		t.Fatalf("merged ByteLength = %d, want %d", handle.Model.ByteLength, want)
	}
}

func TestCompositeDecoderRejectsBadMagic(t *testing.T) {
	f := NewFactory()
	payload := cmptPayload(t, innerB3DM(4))
	copy(payload[0:4], "XXXX")

	if _, err := f.CreateContent(Response{Data: payload}); err == nil {
		t.Fatalf("expected an error for a bad composite magic")
	}
}

func TestCompositeDecoderRejectsTooShort(t *testing.T) {
	f := NewFactory()
	if _, err := f.CreateContent(Response{Data: []byte("cmpt")}); err == nil {
		t.Fatalf("expected an error for a too-short composite payload")
	}
}

func TestCompositeDecoderEmptyTilesLengthYieldsEmptyContent(t *testing.T) {
	f := NewFactory()
	header := make([]byte, cmptHeaderSize)
	copy(header[0:4], "cmpt")
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint32(header[8:12], uint32(cmptHeaderSize))
	binary.LittleEndian.PutUint32(header[12:16], 0)

	handle, err := f.CreateContent(Response{Data: header})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentEmpty {
		t.Fatalf("Kind = %v, want ContentEmpty", handle.Kind)
	}
}

func TestRegisterMagicOverridesDispatch(t *testing.T) {
	f := NewFactory()
	custom := &B3DMDecoder{}
	f.RegisterMagic("pnts", custom)
	data := make([]byte, 16)
	copy(data, "pnts")

	handle, err := f.CreateContent(Response{Data: data})
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	if handle.Kind != tileset.ContentModel {
		t.Fatalf("expected the registered decoder to still produce model content")
	}
}
