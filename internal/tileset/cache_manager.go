package tileset

import (
	"log"

	"github.com/dustin/go-humanize"
)

// Dispatcher begins an async load for a tile; it is the seam
// internal/loader implements. ProcessQueues calls it while the
// concurrency cap allows and relies on the loader to report InProgress.
type Dispatcher interface {
	Dispatch(tile *Tile) (started bool)
	DispatchSubtree(tile *Tile, info ImplicitTileInfo) (started bool)
	InProgress() int
	InProgressSubtrees() int
}

// Unloader releases a tile's content; the cache manager calls it only
// for tiles that are not in ContentLoading and not currently referenced.
type Unloader interface {
	UnloadContent(tile *Tile) (removed bool)
}

// CacheManager drains the selector's queues honoring the concurrency cap
// and evicts from the LRU head when the byte budget is exceeded (spec.md
// §4.4).
type CacheManager struct {
	Options  Options
	LRU      *LRUList
	Loader   Dispatcher
	Unloader Unloader
	Logger   *log.Logger

	TotalBytes int64 // Σ tile.BytesUsed + Σ overlay.BytesUsed
}

func NewCacheManager(opts Options, lru *LRUList, loader Dispatcher, unloader Unloader, logger *log.Logger) *CacheManager {
	return &CacheManager{Options: opts, LRU: lru, Loader: loader, Unloader: unloader, Logger: logger}
}

// ProcessQueues dispatches loads from each band independently, high
// before medium before low, until the concurrency cap is reached —
// matching Tileset::_processLoadQueue exactly (each band is drained
// against the *same* shared cap, not given its own budget).
func (cm *CacheManager) ProcessQueues(high, medium, low *LoadQueue, subtree *SubtreeLoadQueue) {
	cm.processQueue(high)
	cm.processQueue(medium)
	cm.processQueue(low)
	cm.processSubtreeQueue(subtree)
}

func (cm *CacheManager) processQueue(q *LoadQueue) {
	for i := 0; i < q.Len(); i++ {
		if cm.Loader.InProgress() >= cm.Options.MaximumSimultaneousTileLoads {
			return
		}
		cm.Loader.Dispatch(q.At(i).Tile)
	}
}

func (cm *CacheManager) processSubtreeQueue(q *SubtreeLoadQueue) {
	for i := 0; i < q.Len(); i++ {
		if cm.Loader.InProgressSubtrees() >= cm.Options.MaximumSimultaneousSubtreeLoads {
			return
		}
		rec := q.At(i)
		cm.Loader.DispatchSubtree(rec.Tile, rec.Implicit)
	}
}

// UnloadCached walks the LRU from the head while TotalBytes exceeds the
// budget, stopping at the root sentinel (spec.md §4.4, §9: a mid-LRU tile
// that is currently ContentLoading is skipped, not a sweep-stopper, so it
// never wedges the eviction pass).
func (cm *CacheManager) UnloadCached(root *Tile) {
	tile := cm.LRU.Head()
	for cm.TotalBytes > cm.Options.MaximumCachedBytes {
		if tile == nil || tile == root {
			break
		}
		next := cm.LRU.Next(tile)

		if tile.LoadState == ContentLoading || tile.Referenced() {
			tile = next
			continue
		}

		before := tile.BytesUsed
		if cm.Unloader.UnloadContent(tile) {
			cm.TotalBytes -= before
			cm.LRU.Remove(tile)
		}

		tile = next
	}

	if cm.Logger != nil {
		cm.Logger.Printf("cache: %s / %s used", humanize.Bytes(uint64max0(cm.TotalBytes)), humanize.Bytes(uint64max0(cm.Options.MaximumCachedBytes)))
	}
}

func uint64max0(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
