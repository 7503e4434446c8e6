package tileset

// ContentKind tags the four closed ContentHandle shapes spec.md §3 allows.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentModel
	ContentExternalTileset
	ContentRaster
)

// Mesh is the opaque decoded-model payload. Its internals are a content
// decoder's concern (spec.md §1 scope cut); this engine only needs its
// byte size for cache accounting and an opaque renderer-resource slot.
type Mesh struct {
	ByteLength int64
	// UpAxis records the glTF/b3dm up-axis convention the decoder
	// reported; used by composite-tile merging (spec.md §9) which keeps
	// the first embedded model's axis without conversion.
	UpAxis string
}

// Image is the opaque decoded-raster payload (byte size only; pixel data
// is a raster-overlay-provider concern, out of scope per spec.md §1).
type Image struct {
	ByteLength int64
}

// RendererResources is the opaque handle returned by the renderer
// preparation hooks (spec.md §6.3); this engine never inspects it, only
// holds it until Free is invoked on unload.
type RendererResources struct {
	Opaque any
}

// ContentHandle is the closed tagged union for a tile's decoded payload.
type ContentHandle struct {
	Kind ContentKind

	Model            *Mesh
	ExternalTileset   *Tile // root pointer of the decoded sub-tileset
	Raster            *Image

	HTTPStatus        uint16
	RendererResources *RendererResources
}

// ByteSize is used for LRU/cache-budget accounting (spec.md §4.4).
func (c *ContentHandle) ByteSize() int64 {
	if c == nil {
		return 0
	}
	switch c.Kind {
	case ContentModel:
		if c.Model != nil {
			return c.Model.ByteLength
		}
	case ContentRaster:
		if c.Raster != nil {
			return c.Raster.ByteLength
		}
	}
	return 0
}

func EmptyContent() *ContentHandle { return &ContentHandle{Kind: ContentEmpty} }
