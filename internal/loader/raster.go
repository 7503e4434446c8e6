package loader

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

// RasterProvider is a single raster-overlay imagery source (e.g. one
// Bing/WMTS/TMS layer). Ready reports whether the provider has finished
// whatever handshake it needs (tiling-scheme discovery, auth) before it
// can serve tiles; while it hasn't, RasterLoader attaches a placeholder
// mapping instead of dispatching a fetch (spec.md §4.3). Provider
// internals — reprojection, the actual imagery format — are out of
// scope; this seam only needs a URL per overlay tile.
type RasterProvider interface {
	ID() string
	Ready() bool
	TileURL(level, x, y uint32) (url string, ok bool)
}

type rasterResult struct {
	tile      *tileset.Tile
	overlayID string
	image     *tileset.Image
	err       error
}

// RasterLoader is the raster-overlay analogue of Loader: its own
// in_progress counter and its own throttle against
// maximum_simultaneous_tile_loads, kept separate from the 3D tile
// loader's counter because raster and mesh fetches are independent
// categories of work (spec.md §4.3's "parallel, per-tile projection").
type RasterLoader struct {
	Accessor Accessor
	Logger   *log.Logger

	MaximumSimultaneousLoads int

	inProgress int32
	results    chan rasterResult
}

func NewRasterLoader(accessor Accessor, maxSimultaneous int, logger *log.Logger) *RasterLoader {
	return &RasterLoader{
		Accessor:                 accessor,
		Logger:                   logger,
		MaximumSimultaneousLoads: maxSimultaneous,
		results:                  make(chan rasterResult, 256),
	}
}

func (l *RasterLoader) InProgress() int { return int(atomic.LoadInt32(&l.inProgress)) }

// Dispatch maps provider's imagery for (level, x, y) onto tile. If an
// up-to-date mapping for this overlay is already attached, it does
// nothing and returns false. If the provider isn't ready yet, a
// placeholder mapping is attached synchronously — consuming no throttle
// slot, since no fetch is in flight — and Dispatch returns true. If the
// throttle is saturated, Dispatch returns false so the caller retries on
// a later frame, mirroring ProcessQueues's cap check for ordinary tiles.
func (l *RasterLoader) Dispatch(tile *tileset.Tile, provider RasterProvider) bool {
	if idx := findMapping(tile, provider.ID()); idx >= 0 && !tile.MappedRasterTiles[idx].Placeholder {
		return false
	}

	if !provider.Ready() {
		upsertMapping(tile, tileset.RasterMapping{OverlayID: provider.ID(), Placeholder: true})
		return true
	}

	if l.InProgress() >= l.MaximumSimultaneousLoads {
		return false
	}

	level, x, y := tileAddress(tile)
	url, ok := provider.TileURL(level, x, y)
	if !ok {
		return false
	}

	atomic.AddInt32(&l.inProgress, 1)
	tile.AddRef()
	go l.fetch(tile, provider.ID(), url)
	return true
}

func (l *RasterLoader) fetch(tile *tileset.Tile, overlayID, url string) {
	ctx := context.Background()
	data, _, status, err := l.Accessor.Fetch(ctx, url)
	if err != nil {
		l.results <- rasterResult{tile: tile, overlayID: overlayID, err: fmt.Errorf("fetch raster %s: %w", url, err)}
		return
	}
	if status >= 400 {
		l.results <- rasterResult{tile: tile, overlayID: overlayID, err: fmt.Errorf("fetch raster %s: http status %d", url, status)}
		return
	}
	l.results <- rasterResult{tile: tile, overlayID: overlayID, image: &tileset.Image{ByteLength: int64(len(data))}}
}

// ApplyResults drains completed raster fetches onto their tiles, the
// raster analogue of Loader.ApplyResults. Must run on the tree-owning
// goroutine.
func (l *RasterLoader) ApplyResults(onBytesChanged func(delta int64)) {
	for {
		select {
		case r := <-l.results:
			l.applyResult(r, onBytesChanged)
		default:
			return
		}
	}
}

func (l *RasterLoader) applyResult(r rasterResult, onBytesChanged func(delta int64)) {
	defer func() {
		r.tile.Release()
		atomic.AddInt32(&l.inProgress, -1)
	}()

	if r.err != nil {
		if l.Logger != nil {
			l.Logger.Printf("raster loader: %s: %v", r.overlayID, r.err)
		}
		return
	}

	upsertMapping(r.tile, tileset.RasterMapping{OverlayID: r.overlayID, Image: r.image})
	if onBytesChanged != nil {
		onBytesChanged(r.image.ByteLength)
	}
}

// UnloadRaster detaches a non-placeholder mapping for overlayID from
// tile and reports the bytes freed. Placeholder mappings are never
// removed here (spec.md §4.3: "placeholders are never removed from
// memory") — only a successful real fetch replaces one.
func UnloadRaster(tile *tileset.Tile, overlayID string) (freedBytes int64, removed bool) {
	idx := findMapping(tile, overlayID)
	if idx < 0 || tile.MappedRasterTiles[idx].Placeholder {
		return 0, false
	}
	m := tile.MappedRasterTiles[idx]
	if m.Image != nil {
		freedBytes = m.Image.ByteLength
	}
	tile.MappedRasterTiles = append(tile.MappedRasterTiles[:idx], tile.MappedRasterTiles[idx+1:]...)
	return freedBytes, true
}

func findMapping(tile *tileset.Tile, overlayID string) int {
	for i, m := range tile.MappedRasterTiles {
		if m.OverlayID == overlayID {
			return i
		}
	}
	return -1
}

// upsertMapping replaces an existing mapping for the same overlay (e.g.
// a placeholder being resolved to real imagery) or appends a new one.
func upsertMapping(tile *tileset.Tile, m tileset.RasterMapping) {
	if idx := findMapping(tile, m.OverlayID); idx >= 0 {
		tile.MappedRasterTiles[idx] = m
		return
	}
	tile.MappedRasterTiles = append(tile.MappedRasterTiles, m)
}

// tileAddress derives the (level, x, y) a raster provider addresses its
// tiles by from tile's implicit quadtree/octree coordinates, falling
// back to the zero address for explicit tiles (a provider keyed on
// geographic extent rather than quadtree address should compute its own
// URL from tile.BoundingVolume instead of relying on this).
func tileAddress(tile *tileset.Tile) (level, x, y uint32) {
	switch tile.ID.Kind {
	case tileset.TileIDQuadtree:
		return tile.ID.Quadtree.Level, tile.ID.Quadtree.X, tile.ID.Quadtree.Y
	case tileset.TileIDOctree:
		return tile.ID.Octree.Level, tile.ID.Octree.X, tile.ID.Octree.Y
	}
	return 0, 0, 0
}
