package tileset

import "github.com/cesium3dtiles/tilestream/internal/geom"

// FrameState is read-only during a traversal (spec.md §3).
type FrameState struct {
	Frustums           []geom.Frustum
	FogDensities       []float64
	PreviousFrameNumber int64
	CurrentFrameNumber  int64
}

// ViewUpdateResult is the per-frame output of Selector.UpdateView
// (spec.md §4.1).
type ViewUpdateResult struct {
	TilesToRender        []*Tile
	TilesNoLongerRendered []*Tile

	TilesVisited       int
	CulledTilesVisited int
	TilesCulled        int
	MaxDepthVisited    uint32

	TilesLoadingLowPriority    int
	TilesLoadingMediumPriority int
	TilesLoadingHighPriority   int
}

// TraversalDetails is threaded back up from child to parent during
// recursion (spec.md §4.1).
type TraversalDetails struct {
	AllAreRenderable        bool
	AnyWereRenderedLastFrame bool
	NotYetRenderableCount   int
}

func newTraversalDetails() TraversalDetails {
	// AllAreRenderable starts true so an AND-fold over zero children is
	// vacuously true, matching the C++ default-constructed bool(true).
	return TraversalDetails{AllAreRenderable: true}
}
