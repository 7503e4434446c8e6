// Package tilesetmgr supplements spec.md's single-tileset scope with a
// multi-tileset registry: a server process streaming more than one
// dataset (e.g. separate city/terrain tilesets) needs one Selector,
// CacheManager, and Loader per dataset, addressed by an ID a caller picks.
// Grounded on the teacher's internal/sim/multiworld.Manager — that
// package owns one *world.World per world ID behind an RWMutex map and
// hands callers a Runtime; this package owns one tileset Runtime per
// dataset ID the same way, dropping the agent-residency/org-merge/
// world-switch machinery that has no tile-streaming analogue.
package tilesetmgr

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cesium3dtiles/tilestream/internal/availability"
	"github.com/cesium3dtiles/tilestream/internal/content"
	"github.com/cesium3dtiles/tilestream/internal/loader"
	"github.com/cesium3dtiles/tilestream/internal/obslog"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
	"github.com/cesium3dtiles/tilestream/internal/wire"
)

// Runtime bundles everything one streamed tileset needs to advance a
// frame: the root tile, the selector that owns the LRU and load queues,
// the cache manager that drains them, and the loader that actually
// performs fetches. Exactly one goroutine may call UpdateView for a
// given Runtime at a time — Manager enforces this with a per-runtime
// mutex rather than assuming single-threaded callers.
type Runtime struct {
	ID             string
	Root           *tileset.Tile
	GeometricError float64

	mu       sync.Mutex
	Selector *tileset.Selector
	Cache    *tileset.CacheManager
	Loader   *loader.Loader

	// RasterLoader is nil unless AttachRasterOverlay registers a
	// provider; ApplyResults only drains it when it is non-nil, so
	// tilesets with no overlays pay nothing extra per frame.
	RasterLoader *loader.RasterLoader
}

// AttachRasterOverlay gives this tileset its own raster-overlay loader
// and throttle, independent of the mesh loader's concurrency cap
// (spec.md §4.3). Calling it again replaces the previous RasterLoader;
// in-flight fetches from the old one are simply dropped on apply.
func (rt *Runtime) AttachRasterOverlay(accessor loader.Accessor, maxSimultaneous int, logger *log.Logger) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.RasterLoader = loader.NewRasterLoader(accessor, maxSimultaneous, logger)
}

// Manager is the registry of Runtimes, keyed by tileset ID.
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime

	logger      *log.Logger
	frameLogger *obslog.FrameLogger
}

// NewManager constructs an empty registry. frameLogger may be nil to
// skip per-frame observability logging entirely.
func NewManager(logger *log.Logger, frameLogger *obslog.FrameLogger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		runtimes:    map[string]*Runtime{},
		logger:      logger,
		frameLogger: frameLogger,
	}
}

// AddTileset fetches and parses a tileset.json via acc, builds a fresh
// Runtime around it, and registers it under id. Re-adding an id already
// present replaces the prior Runtime (its loader simply stops being
// referenced; in-flight fetches complete and their results are dropped
// harmlessly by ApplyResults finding no surviving caller). authRefresh
// may be nil, in which case a 401 from acc terminates the tile at
// Failed like any other Transport error (spec.md §7).
func (m *Manager) AddTileset(ctx context.Context, id, tilesetURL string, opts tileset.Options, acc loader.Accessor, factory *content.Factory, authRefresh loader.AuthRefresher) error {
	if id == "" {
		return fmt.Errorf("tilesetmgr: empty id")
	}
	if factory == nil {
		factory = content.NewFactory()
	}

	data, _, status, err := acc.Fetch(ctx, tilesetURL)
	if err != nil {
		return fmt.Errorf("tilesetmgr: fetch %s: %w", tilesetURL, err)
	}
	if status != 0 && status >= 400 {
		return fmt.Errorf("tilesetmgr: fetch %s: http status %d", tilesetURL, status)
	}
	if err := wire.ValidateTilesetJSON(data); err != nil {
		return fmt.Errorf("tilesetmgr: %s: %w", tilesetURL, err)
	}

	root, geometricError, err := wire.ParseTilesetJSON(data)
	if err != nil {
		return fmt.Errorf("tilesetmgr: parse %s: %w", tilesetURL, err)
	}

	selector := tileset.NewSelector(opts)
	availCache := availability.NewCache()
	ld := loader.New(acc, factory, availCache, m.logger)
	ld.AuthRefresh = authRefresh
	selector.Availability = &availability.Oracle{RootBoundingVolume: root.BoundingVolume}
	cache := tileset.NewCacheManager(opts, selector.LRU, ld, ld, m.logger)

	rt := &Runtime{
		ID:             id,
		Root:           root,
		GeometricError: geometricError,
		Selector:       selector,
		Cache:          cache,
		Loader:         ld,
	}

	m.mu.Lock()
	m.runtimes[id] = rt
	m.mu.Unlock()
	return nil
}

// IDs returns the registered tileset IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Runtime returns the registered Runtime for id, or nil if absent.
func (m *Manager) Runtime(id string) *Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runtimes[id]
}

// RemoveTileset drops a tileset from the registry. In-flight loader
// goroutines for it are left to finish; their results are simply never
// applied since nothing calls ApplyResults against this Runtime again.
func (m *Manager) RemoveTileset(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runtimes, id)
}

// UpdateView runs one complete frame step for the named tileset:
// applying any loader results accumulated since the last call,
// traversal, dispatching newly queued loads, and evicting over-budget
// cached content — the same ordering Tileset::updateView's caller performs
// each render frame.
func (m *Manager) UpdateView(id string, frame tileset.FrameState) (*tileset.ViewUpdateResult, error) {
	rt := m.Runtime(id)
	if rt == nil {
		return nil, fmt.Errorf("tilesetmgr: unknown tileset %q", id)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.Loader.ApplyResults(func(delta int64) { rt.Cache.TotalBytes += delta })
	if rt.RasterLoader != nil {
		rt.RasterLoader.ApplyResults(func(delta int64) { rt.Cache.TotalBytes += delta })
	}

	result := rt.Selector.UpdateView(rt.Root, frame)

	rt.Cache.ProcessQueues(&rt.Selector.QueueHigh, &rt.Selector.QueueMedium, &rt.Selector.QueueLow, &rt.Selector.SubtreeQueue)
	rt.Cache.UnloadCached(rt.Root)

	if m.frameLogger != nil {
		_ = m.frameLogger.WriteFrame(obslog.FrameLogEntry{
			FrameNumber:           frame.CurrentFrameNumber,
			TimestampUnixMilli:    time.Now().UnixMilli(),
			TilesRendered:         len(result.TilesToRender),
			TilesCulled:           result.TilesCulled,
			TilesVisited:          result.TilesVisited,
			MaxDepthVisited:       result.MaxDepthVisited,
			LoadingHighPriority:   result.TilesLoadingHighPriority,
			LoadingMediumPriority: result.TilesLoadingMediumPriority,
			LoadingLowPriority:    result.TilesLoadingLowPriority,
			CacheBytesUsed:        rt.Cache.TotalBytes,
		})
	}

	return result, nil
}

// Close releases resources the Manager owns directly (its frame
// logger); it does not touch per-Runtime loaders, which have no close
// step of their own (in-flight goroutines simply finish).
func (m *Manager) Close() error {
	if m.frameLogger != nil {
		return m.frameLogger.Close()
	}
	return nil
}
