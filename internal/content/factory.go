// Package content implements the tile content dispatch of spec.md §6.3:
// given a fetched response, decide which decoder owns it and hand back an
// opaque decoded payload. Decoder internals (mesh/image parsing) are out
// of scope per spec.md §1 non-goals; each decoder here only records that
// it was invoked and reports a byte size, grounded on
// TileContentFactory.cpp's magic/content-type/extension dispatch chain.
package content

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cesium3dtiles/tilestream/internal/tileset"
	"github.com/cesium3dtiles/tilestream/internal/tileseterr"
)

// Response is the minimal fetched-payload shape the factory dispatches
// on: raw bytes, the HTTP content type (if any), and the request URL
// (for the extension fallback).
type Response struct {
	Data        []byte
	ContentType string
	URL         string
}

// Decoder turns a fetched Response into a ContentHandle. Returning a nil
// handle and non-nil error marks the tile Failed (spec.md §4.3).
type Decoder interface {
	Decode(resp Response) (*tileset.ContentHandle, error)
}

// Factory mirrors TileContentFactory: loaders registered by magic, by
// content type, and by file extension, with a JSON-sniff fallback for
// external tilesets.
type Factory struct {
	byMagic     map[string]Decoder
	byContentType map[string]Decoder
	byExtension map[string]Decoder
}

func NewFactory() *Factory {
	f := &Factory{
		byMagic:       make(map[string]Decoder),
		byContentType: make(map[string]Decoder),
		byExtension:   make(map[string]Decoder),
	}
	f.RegisterMagic("b3dm", &B3DMDecoder{})
	f.RegisterMagic("i3dm", &I3DMDecoder{})
	f.RegisterMagic("pnts", &PointsDecoder{})
	f.RegisterMagic("cmpt", &CompositeDecoder{Factory: f})
	f.RegisterMagic("glTF", &GLTFDecoder{})
	f.RegisterMagic("json", &ExternalTilesetDecoder{})
	f.RegisterExtension(".json", &ExternalTilesetDecoder{})
	f.RegisterExtension(".terrain", &QuantizedMeshDecoder{})
	f.RegisterContentType("application/json", &ExternalTilesetDecoder{})
	f.RegisterContentType("model/gltf-binary", &GLTFDecoder{})
	f.RegisterContentType("application/vnd.quantized-mesh", &QuantizedMeshDecoder{})
	return f
}

func (f *Factory) RegisterMagic(magic string, d Decoder)     { f.byMagic[magic] = d }
func (f *Factory) RegisterContentType(ct string, d Decoder)  { f.byContentType[strings.ToLower(ct)] = d }
func (f *Factory) RegisterExtension(ext string, d Decoder)   { f.byExtension[strings.ToLower(ext)] = d }

// CreateContent ports TileContentFactory::createContent's dispatch chain:
// magic header first, then content type, then file extension, then a
// JSON-object sniff, in that order.
func (f *Factory) CreateContent(resp Response) (*tileset.ContentHandle, error) {
	if magic, ok := getMagic(resp.Data); ok {
		if d, ok := f.byMagic[magic]; ok {
			return d.Decode(resp)
		}
	}

	baseContentType := resp.ContentType
	if i := strings.IndexByte(baseContentType, ';'); i >= 0 {
		baseContentType = baseContentType[:i]
	}
	baseContentType = strings.ToLower(strings.TrimSpace(baseContentType))
	if d, ok := f.byContentType[baseContentType]; ok {
		return d.Decode(resp)
	}

	if ext, ok := fileExtension(resp.URL); ok {
		if d, ok := f.byExtension[ext]; ok {
			return d.Decode(resp)
		}
	}

	if looksLikeJSONObject(resp.Data) {
		if d, ok := f.byMagic["json"]; ok {
			return d.Decode(resp)
		}
	}

	return nil, fmt.Errorf("%w: content-type=%q url=%q", tileseterr.ErrUnrecognizedContent, baseContentType, resp.URL)
}

func getMagic(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	return string(data[:4]), true
}

func fileExtension(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	i := strings.LastIndexByte(url, '.')
	if i < 0 {
		return "", false
	}
	return strings.ToLower(url[i:]), true
}

func looksLikeJSONObject(data []byte) bool {
	for _, b := range data {
		if unicode.IsSpace(rune(b)) {
			continue
		}
		return b == '{'
	}
	return false
}
