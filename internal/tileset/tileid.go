package tileset

// TileIDKind tags the four closed TileID shapes spec.md §3 allows.
type TileIDKind int

const (
	TileIDExplicit TileIDKind = iota
	TileIDQuadtree
	TileIDOctree
	TileIDUpsampledQuadtreeNode
)

// QuadtreeID addresses a tile within an implicit quadtree subdivision.
type QuadtreeID struct {
	Level uint32
	X, Y  uint32
}

// OctreeID addresses a tile within an implicit octree subdivision.
type OctreeID struct {
	Level    uint32
	X, Y, Z  uint32
}

// UpsampledQuadtreeNode addresses a tile synthesized by upsampling one
// quadrant of a parent tile that has no corresponding child in the
// hierarchy (used when raster overlays need finer geometry than the base
// tileset provides).
type UpsampledQuadtreeNode struct {
	ParentID   *TileID
	ChildIndex uint8 // 0..3
}

// TileID is the closed tagged union identifying a tile within its
// context: an explicit content URL, or one of the three implicit-tiling
// addressing schemes. It is never globally unique — only unique within
// the tile's own context/subtree.
type TileID struct {
	Kind TileIDKind

	Explicit   string
	Quadtree   QuadtreeID
	Octree     OctreeID
	Upsampled  UpsampledQuadtreeNode
}

func NewExplicitTileID(url string) TileID { return TileID{Kind: TileIDExplicit, Explicit: url} }
func NewQuadtreeTileID(id QuadtreeID) TileID { return TileID{Kind: TileIDQuadtree, Quadtree: id} }
func NewOctreeTileID(id OctreeID) TileID     { return TileID{Kind: TileIDOctree, Octree: id} }
func NewUpsampledTileID(u UpsampledQuadtreeNode) TileID {
	return TileID{Kind: TileIDUpsampledQuadtreeNode, Upsampled: u}
}

// String renders a TileID for logging/diagnostics only; it is not a
// canonical URL (see internal/wire for URL template resolution).
func (id TileID) String() string {
	switch id.Kind {
	case TileIDExplicit:
		return id.Explicit
	case TileIDQuadtree:
		q := id.Quadtree
		return "quad(" + itoa(int(q.Level)) + "," + itoa(int(q.X)) + "," + itoa(int(q.Y)) + ")"
	case TileIDOctree:
		o := id.Octree
		return "oct(" + itoa(int(o.Level)) + "," + itoa(int(o.X)) + "," + itoa(int(o.Y)) + "," + itoa(int(o.Z)) + ")"
	case TileIDUpsampledQuadtreeNode:
		return "upsampled(" + id.Upsampled.ParentID.String() + "#" + itoa(int(id.Upsampled.ChildIndex)) + ")"
	}
	return "<invalid-tile-id>"
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
