package tileset

import (
	"math"

	"github.com/cesium3dtiles/tilestream/internal/geom"
)

// Selector is the per-frame recursive traversal of spec.md §4.1. It owns
// the LRU list and the four load queues, since visiting a tile pushes
// load requests onto them and refreshes the tile's LRU position.
type Selector struct {
	Options Options

	LRU            *LRUList
	QueueHigh      LoadQueue
	QueueMedium    LoadQueue
	QueueLow       LoadQueue
	SubtreeQueue   SubtreeLoadQueue

	Availability AvailabilityConsulter

	scratch distanceScratch
}

// AvailabilityConsulter is the hook the selector uses to materialize
// implicit children on demand (spec.md §4.2). A tile with non-nil
// Implicit info and no materialized Children asks this interface whether
// the enclosing subtree is resident; if not, the tile is pushed onto the
// subtree queue and its children stay unmaterialized this frame.
type AvailabilityConsulter interface {
	// EnsureChildrenMaterialized materializes tile.Children from the
	// availability bitsets if the enclosing subtree is loaded, returning
	// false (without error) if the subtree still needs to be fetched.
	EnsureChildrenMaterialized(tile *Tile) (ready bool)
}

func NewSelector(opts Options) *Selector {
	return &Selector{
		Options: opts,
		LRU:     NewLRUList(),
	}
}

// UpdateView runs one frame's traversal starting at root, per spec.md
// §4.1. It is deterministic given (tile tree, frame number, frustums,
// options) and never suspends.
func (s *Selector) UpdateView(root *Tile, frame FrameState) *ViewUpdateResult {
	result := &ViewUpdateResult{}

	s.QueueHigh.Reset()
	s.QueueMedium.Reset()
	s.QueueLow.Reset()
	s.SubtreeQueue.Reset()

	root.AddRef()
	defer root.Release()

	s.visitTileIfNeeded(frame, 0, false, root, result)

	s.QueueHigh.SortAscending()
	s.QueueMedium.SortAscending()
	s.QueueLow.SortAscending()
	s.SubtreeQueue.SortAscending()

	result.TilesLoadingHighPriority = s.QueueHigh.Len()
	result.TilesLoadingMediumPriority = s.QueueMedium.Len()
	result.TilesLoadingLowPriority = s.QueueLow.Len()

	return result
}

func (s *Selector) markTileVisited(t *Tile) {
	s.LRU.InsertAtTail(t)
}

// visitTileIfNeeded corresponds to Tileset::_visitTileIfNeeded: the tile's
// visibility is not yet known.
func (s *Selector) visitTileIfNeeded(
	frame FrameState,
	depth uint32,
	ancestorMeetsSse bool,
	tile *Tile,
	result *ViewUpdateResult,
) TraversalDetails {
	if tile.LoadState == ContentLoaded {
		s.processLoadedContent(tile)
	}
	if tile.Implicit != nil && tile.Children == nil {
		if !s.materializeImplicitChildren(tile) {
			// Subtree not yet resident; treat as a leaf this frame.
		}
	}

	s.markTileVisited(tile)

	shouldVisit := true
	culled := false

	for _, ex := range s.Options.Excluders {
		if ex.ShouldExclude(tile) {
			culled = true
			shouldVisit = false
			break
		}
	}

	visibleFromAny := false
	for _, f := range frame.Frustums {
		if s.isVisibleFromCamera(f, tile.BoundingVolume) {
			visibleFromAny = true
			break
		}
	}
	if !visibleFromAny {
		culled = true
		if s.Options.EnableFrustumCulling {
			shouldVisit = false
		}
	}

	distances, release := s.scratch.acquire(len(frame.Frustums))
	defer release()
	for i, f := range frame.Frustums {
		d2 := f.ComputeDistanceSquaredToBoundingVolume(tile.BoundingVolume)
		if d2 < 0 {
			d2 = 0
		}
		distances[i] = math.Sqrt(d2)
	}

	if shouldVisit {
		fogCulled := true
		for i := range frame.Frustums {
			density := 0.0
			if i < len(frame.FogDensities) {
				density = frame.FogDensities[i]
			}
			if geom.IsVisibleInFog(distances[i], density) {
				fogCulled = false
				break
			}
		}
		if fogCulled {
			culled = true
			if s.Options.EnableFogCulling {
				shouldVisit = false
			}
		}
	}

	if !shouldVisit {
		s.markTileAndChildrenNonRendered(frame.PreviousFrameNumber, tile, result)
		tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultCulled))

		if s.Options.PreloadSiblings {
			s.addTileToLoadQueue(&s.QueueLow, tile, frame.Frustums, distances)
		}
		result.TilesCulled++
		return newTraversalDetails()
	}

	return s.visitTile(frame, depth, ancestorMeetsSse, tile, distances, culled, result)
}

func (s *Selector) isVisibleFromCamera(f geom.Frustum, bv geom.BoundingVolume) bool {
	if f.Intersects(bv) {
		return true
	}
	if s.Options.RenderTilesUnderCamera && bv.Kind == geom.KindRegion && f.HasGroundPosition {
		return bv.Region.Contains(f.GroundLon, f.GroundLat)
	}
	return false
}

func (s *Selector) visitTile(
	frame FrameState,
	depth uint32,
	ancestorMeetsSse bool,
	tile *Tile,
	distances []float64,
	culled bool,
	result *ViewUpdateResult,
) TraversalDetails {
	result.TilesVisited++
	if depth > result.MaxDepthVisited {
		result.MaxDepthVisited = depth
	}
	if culled {
		result.CulledTilesVisited++
	}

	if tile.IsLeaf() {
		return s.renderLeaf(frame, tile, distances, result)
	}

	meetsSse := s.meetsSSE(frame.Frustums, tile, distances, culled)
	waitingForChildren := s.queueLoadOfChildrenRequiredForRefinement(frame, tile, distances)

	if !tile.UnconditionallyRefine && (meetsSse || ancestorMeetsSse || waitingForChildren) {
		lastState := tile.LastSelectionState()
		if s.shouldRenderThisTile(tile, lastState, frame.PreviousFrameNumber) {
			if meetsSse && !ancestorMeetsSse {
				s.addTileToLoadQueue(&s.QueueMedium, tile, frame.Frustums, distances)
			}
			return s.renderInnerTile(frame, tile, result)
		}

		ancestorMeetsSse = true
		if meetsSse {
			s.addTileToLoadQueue(&s.QueueHigh, tile, frame.Frustums, distances)
		}
	}

	// Refine.
	queuedForLoad := s.loadAndRenderAdditiveRefinedTile(frame, tile, distances, result)

	firstRenderedDescendantIndex := len(result.TilesToRender)
	loadIndexLow := s.QueueLow.Len()
	loadIndexMedium := s.QueueMedium.Len()
	loadIndexHigh := s.QueueHigh.Len()

	traversalDetails := s.visitVisibleChildrenNearToFar(frame, depth, ancestorMeetsSse, tile, result)

	descendantTilesAdded := firstRenderedDescendantIndex != len(result.TilesToRender)
	if !descendantTilesAdded {
		return s.refineToNothing(frame, tile, result, traversalDetails.AllAreRenderable)
	}

	if !traversalDetails.AllAreRenderable && !traversalDetails.AnyWereRenderedLastFrame {
		queuedForLoad = s.kickDescendantsAndRenderTile(
			frame, tile, result, &traversalDetails,
			firstRenderedDescendantIndex, loadIndexLow, loadIndexMedium, loadIndexHigh,
			queuedForLoad, distances)
	} else {
		if tile.Refine != RefineAdd {
			s.markTileNonRendered(frame.PreviousFrameNumber, tile, result)
		}
		tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultRefined))
	}

	if s.Options.PreloadAncestors && !queuedForLoad {
		s.addTileToLoadQueue(&s.QueueLow, tile, frame.Frustums, distances)
	}

	return traversalDetails
}

func (s *Selector) renderLeaf(frame FrameState, tile *Tile, distances []float64, result *ViewUpdateResult) TraversalDetails {
	lastState := tile.LastSelectionState()

	tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultRendered))
	result.TilesToRender = append(result.TilesToRender, tile)

	s.addTileToLoadQueue(&s.QueueMedium, tile, frame.Frustums, distances)

	if tile.Implicit != nil && tile.Implicit.IsSubtreeBoundary && !tile.Implicit.SubtreeLoaded {
		priority := ComputeLoadPriority(tile, frame.Frustums, distances)
		s.SubtreeQueue.Add(tile, *tile.Implicit, priority)
	}

	var details TraversalDetails
	details.AllAreRenderable = tile.IsRenderable()
	details.AnyWereRenderedLastFrame = lastState.GetResult(frame.PreviousFrameNumber) == ResultRendered
	if !details.AllAreRenderable {
		details.NotYetRenderableCount = 1
	}
	return details
}

// queueLoadOfChildrenRequiredForRefinement mirrors
// Tileset::_queueLoadOfChildrenRequiredForRefinement: when forbidHoles is
// set, a tile cannot refine while any replacive child is still unloaded;
// those children are still nudged forward (visited, LRU-touched, queued)
// so they eventually become renderable.
func (s *Selector) queueLoadOfChildrenRequiredForRefinement(frame FrameState, tile *Tile, distances []float64) bool {
	if !s.Options.ForbidHoles {
		return false
	}
	waiting := false
	for i := range tile.Children {
		child := &tile.Children[i]
		if child.IsRenderable() || child.IsExternalTileset() {
			continue
		}
		waiting = true
		if tile.LoadState == ContentLoaded {
			s.processLoadedContent(tile)
		}
		if child.Implicit != nil && child.Children == nil {
			s.materializeImplicitChildren(&tile.Children[i])
		}
		s.markTileVisited(child)
		s.addTileToLoadQueue(&s.QueueMedium, child, frame.Frustums, distances)
	}
	return waiting
}

func (s *Selector) meetsSSE(frustums []geom.Frustum, tile *Tile, distances []float64, culled bool) bool {
	largest := 0.0
	for i := 0; i < len(frustums) && i < len(distances); i++ {
		sse := frustums[i].ComputeScreenSpaceError(tile.GeometricError, distances[i])
		if sse > largest {
			largest = sse
		}
	}
	if culled {
		return !s.Options.EnforceCulledScreenSpaceError || largest < s.Options.CulledScreenSpaceError
	}
	return largest < s.Options.MaximumScreenSpaceError
}

// shouldRenderThisTile mirrors the free function of the same name in
// Tileset.cpp: render if we rendered/kicked it last frame, if it was
// culled/unvisited last frame, or if it's renderable right now.
func (s *Selector) shouldRenderThisTile(tile *Tile, lastState SelectionState, lastFrameNumber int64) bool {
	original := lastState.GetOriginalResult(lastFrameNumber)
	if original == ResultRendered {
		return true
	}
	if original == ResultCulled || original == ResultNone {
		return true
	}
	return tile.IsRenderable()
}

func (s *Selector) renderInnerTile(frame FrameState, tile *Tile, result *ViewUpdateResult) TraversalDetails {
	lastState := tile.LastSelectionState()

	s.markChildrenNonRendered(frame.PreviousFrameNumber, tile, result)
	tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultRendered))
	result.TilesToRender = append(result.TilesToRender, tile)

	var details TraversalDetails
	details.AllAreRenderable = tile.IsRenderable()
	details.AnyWereRenderedLastFrame = lastState.GetResult(frame.PreviousFrameNumber) == ResultRendered
	if !details.AllAreRenderable {
		details.NotYetRenderableCount = 1
	}
	return details
}

func (s *Selector) refineToNothing(frame FrameState, tile *Tile, result *ViewUpdateResult, childrenRenderable bool) TraversalDetails {
	lastState := tile.LastSelectionState()

	var details TraversalDetails
	if tile.Refine == RefineAdd {
		details.AllAreRenderable = tile.IsRenderable()
		details.AnyWereRenderedLastFrame = lastState.GetResult(frame.PreviousFrameNumber) == ResultRendered
		if !childrenRenderable {
			details.NotYetRenderableCount = 1
		}
	} else {
		s.markTileNonRendered(frame.PreviousFrameNumber, tile, result)
	}

	tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultRefined))
	return details
}

func (s *Selector) loadAndRenderAdditiveRefinedTile(frame FrameState, tile *Tile, distances []float64, result *ViewUpdateResult) bool {
	if tile.Refine != RefineAdd {
		return false
	}
	result.TilesToRender = append(result.TilesToRender, tile)
	s.addTileToLoadQueue(&s.QueueMedium, tile, frame.Frustums, distances)
	return true
}

// kickDescendantsAndRenderTile mirrors Tileset::_kickDescendantsAndRenderTile.
func (s *Selector) kickDescendantsAndRenderTile(
	frame FrameState,
	tile *Tile,
	result *ViewUpdateResult,
	traversalDetails *TraversalDetails,
	firstRenderedDescendantIndex, loadIndexLow, loadIndexMedium, loadIndexHigh int,
	queuedForLoad bool,
	distances []float64,
) bool {
	lastState := tile.LastSelectionState()

	for i := firstRenderedDescendantIndex; i < len(result.TilesToRender); i++ {
		work := result.TilesToRender[i]
		for work != nil && !work.LastSelectionState().WasKicked(frame.CurrentFrameNumber) && work != tile {
			work.lastSelection.Kick()
			work = work.Parent()
		}
	}

	result.TilesToRender = result.TilesToRender[:firstRenderedDescendantIndex]
	if tile.Refine != RefineAdd {
		result.TilesToRender = append(result.TilesToRender, tile)
	}

	tile.setLastSelectionState(NewSelectionState(frame.CurrentFrameNumber, ResultRendered))

	wasRenderedLastFrame := lastState.GetResult(frame.PreviousFrameNumber) == ResultRendered
	wasReallyRenderedLastFrame := wasRenderedLastFrame && tile.IsRenderable()

	if !wasReallyRenderedLastFrame && traversalDetails.NotYetRenderableCount > s.Options.LoadingDescendantLimit {
		s.QueueLow.Truncate(loadIndexLow)
		s.QueueMedium.Truncate(loadIndexMedium)
		s.QueueHigh.Truncate(loadIndexHigh)

		if !queuedForLoad {
			s.addTileToLoadQueue(&s.QueueMedium, tile, frame.Frustums, distances)
		}
		if tile.IsRenderable() {
			traversalDetails.NotYetRenderableCount = 0
		} else {
			traversalDetails.NotYetRenderableCount = 1
		}
		queuedForLoad = true
	}

	traversalDetails.AllAreRenderable = tile.IsRenderable()
	traversalDetails.AnyWereRenderedLastFrame = wasRenderedLastFrame

	return queuedForLoad
}

func (s *Selector) visitVisibleChildrenNearToFar(
	frame FrameState,
	depth uint32,
	ancestorMeetsSse bool,
	tile *Tile,
	result *ViewUpdateResult,
) TraversalDetails {
	details := newTraversalDetails()

	// TODO: visit near-to-far rather than in declaration order (spec.md
	// §4.1, §9 — an explicitly preserved source ambiguity).
	for i := range tile.Children {
		child := &tile.Children[i]
		childDetails := s.visitTileIfNeeded(frame, depth+1, ancestorMeetsSse, child, result)

		details.AllAreRenderable = details.AllAreRenderable && childDetails.AllAreRenderable
		details.AnyWereRenderedLastFrame = details.AnyWereRenderedLastFrame || childDetails.AnyWereRenderedLastFrame
		details.NotYetRenderableCount += childDetails.NotYetRenderableCount
	}

	return details
}

func (s *Selector) addTileToLoadQueue(q *LoadQueue, tile *Tile, frustums []geom.Frustum, distances []float64) float64 {
	priority := ComputeLoadPriority(tile, frustums, distances)
	q.Add(tile, priority)
	return priority
}

// processLoadedContent mirrors Tileset::_processLoadedContent's
// main-thread renderer-resource step. Renderer resource preparation is
// an external collaborator's concern (spec.md §1), so this hook treats
// it as already complete and advances the tile straight to Done; raster
// overlay projection assignment is retained as a seam here for
// RasterOverlayTileProvider integration (internal/loader/raster.go calls
// back through tile.MappedRasterTiles once a provider resolves).
func (s *Selector) processLoadedContent(tile *Tile) {
	tile.LoadState = Done
}

func (s *Selector) materializeImplicitChildren(tile *Tile) bool {
	if s.Availability == nil {
		return false
	}
	return s.Availability.EnsureChildrenMaterialized(tile)
}

func (s *Selector) markTileNonRendered(lastFrameNumber int64, tile *Tile, result *ViewUpdateResult) {
	if tile.LastSelectionState().GetResult(lastFrameNumber) == ResultRendered {
		result.TilesNoLongerRendered = append(result.TilesNoLongerRendered, tile)
	}
}

func (s *Selector) markChildrenNonRendered(lastFrameNumber int64, tile *Tile, result *ViewUpdateResult) {
	for i := range tile.Children {
		child := &tile.Children[i]
		if child.LastSelectionState().GetResult(lastFrameNumber) == ResultRendered {
			result.TilesNoLongerRendered = append(result.TilesNoLongerRendered, child)
		} else {
			s.markTileAndChildrenNonRenderedRec(lastFrameNumber, child, result)
		}
	}
}

func (s *Selector) markTileAndChildrenNonRendered(lastFrameNumber int64, tile *Tile, result *ViewUpdateResult) {
	s.markTileAndChildrenNonRenderedRec(lastFrameNumber, tile, result)
}

func (s *Selector) markTileAndChildrenNonRenderedRec(lastFrameNumber int64, tile *Tile, result *ViewUpdateResult) {
	if tile.LastSelectionState().GetResult(lastFrameNumber) == ResultRendered {
		result.TilesNoLongerRendered = append(result.TilesNoLongerRendered, tile)
	}
	for i := range tile.Children {
		s.markTileAndChildrenNonRenderedRec(lastFrameNumber, &tile.Children[i], result)
	}
}
