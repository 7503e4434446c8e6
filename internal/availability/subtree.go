package availability

import (
	"fmt"

	"github.com/cesium3dtiles/tilestream/internal/geom"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

// bitset is a bit-packed availability buffer (spec.md §3's "bitsets for
// tile availability, content availability, subtree-child availability").
type bitset []byte

func newBitset(bits int) bitset { return make(bitset, (bits+7)/8) }

func (b bitset) get(i int) bool {
	if i < 0 || i/8 >= len(b) {
		return false
	}
	return b[i/8]&(1<<uint(i%8)) != 0
}

func (b bitset) set(i int, v bool) {
	if i/8 >= len(b) {
		return
	}
	if v {
		b[i/8] |= 1 << uint(i%8)
	} else {
		b[i/8] &^= 1 << uint(i%8)
	}
}

// levelOffsetQuadtree/Octree give the bit index of the first node at a
// given relative level, for the standard implicit-tiling "each level's
// nodes packed consecutively" bitstream layout.
func levelOffsetQuadtree(level uint32) int {
	// (4^level - 1) / 3
	return int((pow(4, level) - 1) / 3)
}

func levelOffsetOctree(level uint32) int {
	// (8^level - 1) / 7
	return int((pow(8, level) - 1) / 7)
}

func pow(base uint64, exp uint32) uint64 {
	r := uint64(1)
	for i := uint32(0); i < exp; i++ {
		r *= base
	}
	return r
}

// AvailabilitySubtree is one decoded subtree blob: per-level tile
// availability, content availability (one slot per content type; this
// module supports a single content slot per tile as 3D Tiles does for
// non-multi-content tilesets), and subtree-child availability, plus a
// lazily-populated graph of child AvailabilitySubtrees (spec.md §3).
type AvailabilitySubtree struct {
	Scheme        tileset.SubdivisionScheme
	SubtreeLevels uint32

	tileAvailable    bitset
	contentAvailable bitset
	subtreeAvailable bitset

	childSubtrees map[uint64]*AvailabilitySubtree
}

// ParseSubtree decodes a bit-packed subtree blob per spec.md §3/§4.2. The
// wire format itself (subtree JSON + binary buffer, per the 3D Tiles
// implicit-tiling extension) is internal/wire's concern; this takes the
// three already-extracted bitstreams.
func ParseSubtree(scheme tileset.SubdivisionScheme, levels uint32, tileBits, contentBits, subtreeBits []byte) *AvailabilitySubtree {
	return &AvailabilitySubtree{
		Scheme:           scheme,
		SubtreeLevels:    levels,
		tileAvailable:    bitset(tileBits),
		contentAvailable: bitset(contentBits),
		subtreeAvailable: bitset(subtreeBits),
		childSubtrees:    make(map[uint64]*AvailabilitySubtree),
	}
}

func (s *AvailabilitySubtree) levelOffset(level uint32) int {
	if s.Scheme == tileset.SubdivisionOctree {
		return levelOffsetOctree(level)
	}
	return levelOffsetQuadtree(level)
}

// IsTileAvailable answers spec.md §4.2's first oracle operation.
func (s *AvailabilitySubtree) IsTileAvailable(relativeLevel uint32, morton uint64) bool {
	return s.tileAvailable.get(s.levelOffset(relativeLevel) + int(morton))
}

// IsContentAvailable answers the second oracle operation. contentSlot is
// accepted for interface fidelity with multi-content tilesets but this
// implementation only models a single content slot (slot 0), matching
// spec.md's explicit non-multi-content scope.
func (s *AvailabilitySubtree) IsContentAvailable(relativeLevel uint32, morton uint64, contentSlot int) bool {
	if contentSlot != 0 {
		return false
	}
	return s.contentAvailable.get(s.levelOffset(relativeLevel) + int(morton))
}

// IsSubtreeAvailable answers the third oracle operation: whether the
// child subtree rooted at the given morton code (evaluated at the
// subtree-boundary level) exists.
func (s *AvailabilitySubtree) IsSubtreeAvailable(mortonAtBoundary uint64) bool {
	return s.subtreeAvailable.get(int(mortonAtBoundary))
}

// AddLoadedSubtree attaches a freshly decoded child subtree, keyed by its
// morton code at this subtree's boundary (spec.md §4.2).
func (s *AvailabilitySubtree) AddLoadedSubtree(mortonAtBoundary uint64, child *AvailabilitySubtree) {
	if s.childSubtrees == nil {
		s.childSubtrees = make(map[uint64]*AvailabilitySubtree)
	}
	s.childSubtrees[mortonAtBoundary] = child
}

func (s *AvailabilitySubtree) ChildSubtree(mortonAtBoundary uint64) (*AvailabilitySubtree, bool) {
	c, ok := s.childSubtrees[mortonAtBoundary]
	return c, ok
}

// Oracle implements tileset.AvailabilityConsulter: it materializes a
// tile's implicit children from its resident subtree's bitsets, the
// lazy-allocation-on-first-traversal-after-subtree-resolves scheme of
// spec.md §4.2/§9.
type Oracle struct {
	RootBoundingVolume geom.BoundingVolume
}

// EnsureChildrenMaterialized implements spec.md §4.2's "once resident,
// materializing children" rule: for each of 4/8 slots, allocate a child
// if the slot's tile is available; at a subtree boundary, allocate a
// child pointing at a not-yet-loaded subtree instead of recursing
// further.
func (o *Oracle) EnsureChildrenMaterialized(tile *tileset.Tile) bool {
	info := tile.Implicit
	if info == nil {
		return false
	}
	subtree, ok := info.SubtreeData.(*AvailabilitySubtree)
	if !ok || subtree == nil {
		return false // subtree not yet resident; selector already queued the fetch
	}

	switch info.SubdivisionScheme {
	case tileset.SubdivisionOctree:
		o.materializeOctreeChildren(tile, subtree)
	default:
		o.materializeQuadtreeChildren(tile, subtree)
	}
	return true
}

func (o *Oracle) materializeQuadtreeChildren(tile *tileset.Tile, subtree *AvailabilitySubtree) {
	info := tile.Implicit
	qid := tile.ID.Quadtree
	var children []tileset.Tile
	for y := uint32(0); y < 2; y++ {
		for x := uint32(0); x < 2; x++ {
			childX, childY := (qid.X<<1)|x, (qid.Y<<1)|y
			childIndex := uint64(EncodeMorton2(x, y))
			relChildMorton := (info.RelativeMortonIndex << 2) | childIndex
			relChildLevel := info.RelativeLevel + 1

			child, ok := o.buildQuadtreeChild(tile, subtree, info, relChildLevel, relChildMorton, childX, childY)
			if ok {
				children = append(children, child)
			}
		}
	}
	tile.SetChildren(children)
}

func (o *Oracle) buildQuadtreeChild(
	tile *tileset.Tile,
	subtree *AvailabilitySubtree,
	info *tileset.ImplicitTileInfo,
	relChildLevel uint32,
	relChildMorton uint64,
	childX, childY uint32,
) (tileset.Tile, bool) {
	childID := tileset.QuadtreeID{Level: tile.ID.Quadtree.Level + 1, X: childX, Y: childY}

	if relChildLevel == info.SubtreeLevels {
		if !subtree.IsSubtreeAvailable(relChildMorton) {
			return tileset.Tile{}, false
		}
		return tileset.Tile{
			ID:             tileset.NewQuadtreeTileID(childID),
			Transform:      tile.Transform,
			BoundingVolume: subdivideQuadtree(tile.BoundingVolume, childX, childY, childID.Level),
			GeometricError: tile.GeometricError * 0.5,
			Refine:         tile.Refine,
			LoadState:      tileset.Unloaded,
			Implicit: &tileset.ImplicitTileInfo{
				SubdivisionScheme:   info.SubdivisionScheme,
				SubtreeLevels:       info.SubtreeLevels,
				MaximumLevel:        info.MaximumLevel,
				RelativeLevel:       0,
				IsSubtreeBoundary:   true,
				ContentURITemplate:  info.ContentURITemplate,
				SubtreesURITemplate: info.SubtreesURITemplate,
				BaseURL:             info.BaseURL,
			},
		}, true
	}

	if !subtree.IsTileAvailable(relChildLevel, relChildMorton) {
		return tileset.Tile{}, false
	}
	content := tileset.EmptyContent()
	if !subtree.IsContentAvailable(relChildLevel, relChildMorton, 0) {
		content = nil
	}
	return tileset.Tile{
		ID:             tileset.NewQuadtreeTileID(childID),
		Transform:      tile.Transform,
		BoundingVolume: subdivideQuadtree(tile.BoundingVolume, childX, childY, childID.Level),
		GeometricError: tile.GeometricError * 0.5,
		Refine:         tile.Refine,
		LoadState:      tileset.Unloaded,
		Content:        content,
		Implicit: &tileset.ImplicitTileInfo{
			SubdivisionScheme:   info.SubdivisionScheme,
			SubtreeLevels:       info.SubtreeLevels,
			MaximumLevel:        info.MaximumLevel,
			RelativeLevel:       relChildLevel,
			RelativeMortonIndex: relChildMorton,
			SubtreeData:         subtree,
			SubtreeLoaded:       true,
			ContentURITemplate:  info.ContentURITemplate,
			SubtreesURITemplate: info.SubtreesURITemplate,
			BaseURL:             info.BaseURL,
		},
	}, true
}

func (o *Oracle) materializeOctreeChildren(tile *tileset.Tile, subtree *AvailabilitySubtree) {
	info := tile.Implicit
	oid := tile.ID.Octree
	var children []tileset.Tile
	for z := uint32(0); z < 2; z++ {
		for y := uint32(0); y < 2; y++ {
			for x := uint32(0); x < 2; x++ {
				childX, childY, childZ := (oid.X<<1)|x, (oid.Y<<1)|y, (oid.Z<<1)|z
				childIndex := EncodeMorton3(x, y, z)
				relChildMorton := (info.RelativeMortonIndex << 3) | childIndex
				relChildLevel := info.RelativeLevel + 1

				child, ok := o.buildOctreeChild(tile, subtree, info, relChildLevel, relChildMorton, childX, childY, childZ)
				if ok {
					children = append(children, child)
				}
			}
		}
	}
	tile.SetChildren(children)
}

func (o *Oracle) buildOctreeChild(
	tile *tileset.Tile,
	subtree *AvailabilitySubtree,
	info *tileset.ImplicitTileInfo,
	relChildLevel uint32,
	relChildMorton uint64,
	childX, childY, childZ uint32,
) (tileset.Tile, bool) {
	childID := tileset.OctreeID{Level: tile.ID.Octree.Level + 1, X: childX, Y: childY, Z: childZ}

	if relChildLevel == info.SubtreeLevels {
		if !subtree.IsSubtreeAvailable(relChildMorton) {
			return tileset.Tile{}, false
		}
		return tileset.Tile{
			ID:             tileset.NewOctreeTileID(childID),
			Transform:      tile.Transform,
			BoundingVolume: subdivideOctree(tile.BoundingVolume, childX, childY, childZ, childID.Level),
			GeometricError: tile.GeometricError * 0.5,
			Refine:         tile.Refine,
			LoadState:      tileset.Unloaded,
			Implicit: &tileset.ImplicitTileInfo{
				SubdivisionScheme:   info.SubdivisionScheme,
				SubtreeLevels:       info.SubtreeLevels,
				MaximumLevel:        info.MaximumLevel,
				RelativeLevel:       0,
				IsSubtreeBoundary:   true,
				ContentURITemplate:  info.ContentURITemplate,
				SubtreesURITemplate: info.SubtreesURITemplate,
				BaseURL:             info.BaseURL,
			},
		}, true
	}

	if !subtree.IsTileAvailable(relChildLevel, relChildMorton) {
		return tileset.Tile{}, false
	}
	content := tileset.EmptyContent()
	if !subtree.IsContentAvailable(relChildLevel, relChildMorton, 0) {
		content = nil
	}
	return tileset.Tile{
		ID:             tileset.NewOctreeTileID(childID),
		Transform:      tile.Transform,
		BoundingVolume: subdivideOctree(tile.BoundingVolume, childX, childY, childZ, childID.Level),
		GeometricError: tile.GeometricError * 0.5,
		Refine:         tile.Refine,
		LoadState:      tileset.Unloaded,
		Content:        content,
		Implicit: &tileset.ImplicitTileInfo{
			SubdivisionScheme:   info.SubdivisionScheme,
			SubtreeLevels:       info.SubtreeLevels,
			MaximumLevel:        info.MaximumLevel,
			RelativeLevel:       relChildLevel,
			RelativeMortonIndex: relChildMorton,
			SubtreeData:         subtree,
			SubtreeLoaded:       true,
			ContentURITemplate:  info.ContentURITemplate,
			SubtreesURITemplate: info.SubtreesURITemplate,
			BaseURL:             info.BaseURL,
		},
	}, true
}

func subdivideQuadtree(parent geom.BoundingVolume, childX, childY, level uint32) geom.BoundingVolume {
	if parent.Kind != geom.KindRegion {
		return parent
	}
	r := parent.Region
	denom := float64(uint64(1) << level)
	latSize := (r.North - r.South) / denom
	lonSize := (r.East - r.West) / denom
	return geom.NewRegion(geom.Region{
		West:      r.West + lonSize*float64(childX),
		East:      r.West + lonSize*float64(childX+1),
		South:     r.South + latSize*float64(childY),
		North:     r.South + latSize*float64(childY+1),
		MinHeight: r.MinHeight,
		MaxHeight: r.MaxHeight,
	})
}

func subdivideOctree(parent geom.BoundingVolume, childX, childY, childZ, level uint32) geom.BoundingVolume {
	if parent.Kind != geom.KindBox {
		return parent
	}
	b := parent.Box
	denom := float64(uint64(1) << level)
	min := b.Center.Sub(b.XHalf).Sub(b.YHalf).Sub(b.ZHalf)
	xDim := b.XHalf.Scale(2.0 / denom)
	yDim := b.YHalf.Scale(2.0 / denom)
	zDim := b.ZHalf.Scale(2.0 / denom)
	childMin := min.Add(xDim.Scale(float64(childX))).Add(yDim.Scale(float64(childY))).Add(zDim.Scale(float64(childZ)))
	childMax := min.Add(xDim.Scale(float64(childX + 1))).Add(yDim.Scale(float64(childY + 1))).Add(zDim.Scale(float64(childZ + 1)))
	return geom.NewBox(geom.Box{
		Center: childMin.Add(childMax).Scale(0.5),
		XHalf:  xDim.Scale(0.5),
		YHalf:  yDim.Scale(0.5),
		ZHalf:  zDim.Scale(0.5),
	})
}

// SubtreeKey identifies a subtree within a tile context, used by the
// associative store mapping (subtree-level-index, morton) -> blob
// (spec.md §9's "Implicit subtree cache").
type SubtreeKey struct {
	Level  uint32
	Morton uint64
}

func (k SubtreeKey) String() string { return fmt.Sprintf("%d/%d", k.Level, k.Morton) }

// Cache is the associative store named in spec.md §9.
type Cache struct {
	subtrees map[SubtreeKey]*AvailabilitySubtree
}

func NewCache() *Cache { return &Cache{subtrees: make(map[SubtreeKey]*AvailabilitySubtree)} }

func (c *Cache) Get(key SubtreeKey) (*AvailabilitySubtree, bool) {
	s, ok := c.subtrees[key]
	return s, ok
}

func (c *Cache) Put(key SubtreeKey, s *AvailabilitySubtree) {
	c.subtrees[key] = s
}
