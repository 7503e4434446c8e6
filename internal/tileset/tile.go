package tileset

import (
	"github.com/cesium3dtiles/tilestream/internal/geom"
	"github.com/cesium3dtiles/tilestream/internal/tileseterr"
)

// Refine selects how a tile's children relate to its own content.
type Refine int

const (
	RefineReplace Refine = iota
	RefineAdd
)

// LoadState is the per-tile load state machine of spec.md §4.3.
type LoadState int

const (
	Unloaded LoadState = iota
	ContentLoading
	ContentLoaded
	Done
	Failed
	FailedTemporarily
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case ContentLoading:
		return "ContentLoading"
	case ContentLoaded:
		return "ContentLoaded"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	case FailedTemporarily:
		return "FailedTemporarily"
	}
	return "<invalid-load-state>"
}

// RasterMapping records a raster overlay tile projected onto this 3D
// tile's geometry. Projection/mapping math is out of scope (spec.md §1);
// this engine only tracks which overlay tiles are mapped for byte
// accounting and unload ordering.
type RasterMapping struct {
	OverlayID string
	Image     *Image

	// Placeholder marks a mapping returned while the overlay provider was
	// still initializing (spec.md §4.3): it never contributes to byte
	// accounting and is never evicted by UnloadCached, only replaced
	// in-place once the provider becomes ready and the real tile loads.
	Placeholder bool
}

// Tile is a vertex in the hierarchy. Children are allocated exactly once,
// in a contiguous slice owned by the parent, so raw pointers into it stay
// valid for the tile's lifetime (spec.md §3 invariant, §9 "owning parent").
type Tile struct {
	ID TileID

	parent   *Tile // weak back-reference; never owning
	Children []Tile

	BoundingVolume        geom.BoundingVolume
	HasContentBoundingVol bool
	ContentBoundingVolume geom.BoundingVolume
	HasViewerRequestVol   bool
	ViewerRequestVolume   geom.BoundingVolume

	GeometricError float64
	Refine         Refine
	Transform      geom.Mat4

	// UnconditionallyRefine is set for dummy roots introduced by implicit
	// tilesets: such a tile is never itself a render candidate.
	UnconditionallyRefine bool

	LoadState LoadState
	Content   *ContentHandle

	lastSelection SelectionState

	MappedRasterTiles []RasterMapping

	BytesUsed int64

	// Implicit-tiling bookkeeping: set when this tile is the placeholder
	// for a subtree boundary whose children are not yet materialized.
	Implicit *ImplicitTileInfo

	// LRU intrusive links (internal/tileset/lru.go owns these).
	lruPrev, lruNext *Tile
	inLRU            bool

	// refCount protects the tile across the worker->main boundary while a
	// load is in flight (spec.md §5): the loader holds +1 from
	// fetch-begin to continuation-resolved, and the selector holds +1
	// during UpdateView.
	refCount int32
}

// ImplicitTileInfo records where this tile sits in an implicit
// quadtree/octree subdivision, used by the availability oracle to
// materialize children lazily (spec.md §4.2).
type ImplicitTileInfo struct {
	SubdivisionScheme   SubdivisionScheme
	SubtreeLevels       uint32
	MaximumLevel        uint32
	RelativeLevel       uint32
	RelativeMortonIndex uint64
	// IsSubtreeBoundary is true when this tile's children belong to a
	// new, not-yet-loaded subtree.
	IsSubtreeBoundary bool
	SubtreeLoaded     bool

	// SubtreeData is the opaque *availability.AvailabilitySubtree blob
	// once loaded, stashed as `any` so this package need not import
	// internal/availability (which itself depends on Tile).
	SubtreeData any

	// ContentURITemplate/SubtreesURITemplate are the {level}/{x}/{y}/{z}
	// URL templates from the 3DTILES_implicit_tiling extension (spec.md
	// §6.5), inherited unchanged by every tile materialized under this
	// subdivision so the loader can resolve a concrete fetch URL without
	// walking back up to the tileset root.
	ContentURITemplate  string
	SubtreesURITemplate string
	BaseURL             string
}

type SubdivisionScheme int

const (
	SubdivisionQuadtree SubdivisionScheme = iota
	SubdivisionOctree
)

func NewRootTile(id TileID) *Tile {
	return &Tile{
		ID:        id,
		Transform: geom.Identity(),
		LoadState: Unloaded,
	}
}

// Parent returns the weak back-reference; nil for the root.
func (t *Tile) Parent() *Tile { return t.parent }

// SetChildren allocates this tile's children slice exactly once. Calling
// it twice is a programmer error (violates the "allocated exactly once"
// invariant) and panics.
func (t *Tile) SetChildren(children []Tile) {
	if t.Children != nil {
		panic(tileseterr.ErrChildrenAlreadySet)
	}
	t.Children = children
	for i := range t.Children {
		t.Children[i].parent = t
	}
}

func (t *Tile) IsLeaf() bool { return len(t.Children) == 0 }

// IsRenderable reports whether the tile itself can be rendered right now:
// Done, or empty content, which is trivially "renderable" (nothing to
// draw, but no blocker either).
func (t *Tile) IsRenderable() bool {
	if t.LoadState == Done {
		return true
	}
	if t.Content != nil && t.Content.Kind == ContentEmpty {
		return true
	}
	return false
}

func (t *Tile) IsExternalTileset() bool {
	return t.Content != nil && t.Content.Kind == ContentExternalTileset
}

// LastSelectionState exposes the most recent traversal outcome for tests
// and diagnostics.
func (t *Tile) LastSelectionState() SelectionState { return t.lastSelection }

func (t *Tile) setLastSelectionState(s SelectionState) { t.lastSelection = s }

// AddRef/Release implement the intrusive atomic-ish reference count of
// spec.md §5. Since all tree mutation happens on the single main thread,
// a plain int32 suffices; the loader's worker side never touches Tile
// fields directly, only hands back a LoadResult value.
func (t *Tile) AddRef()  { t.refCount++ }
func (t *Tile) Release() { t.refCount-- }
func (t *Tile) Referenced() bool { return t.refCount > 0 }
