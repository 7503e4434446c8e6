package tileset

import (
	"math"

	"golang.org/x/exp/slices"

	"github.com/cesium3dtiles/tilestream/internal/geom"
)

// LoadRecord pairs a tile with the priority it was enqueued at (spec.md
// §3). Smaller priority is more urgent.
type LoadRecord struct {
	Tile     *Tile
	Priority float64
}

// SubtreeLoadRecord is the subtree-queue analogue of LoadRecord, carrying
// the implicit-tiling context needed to resolve and attach the subtree.
type SubtreeLoadRecord struct {
	Tile     *Tile
	Implicit ImplicitTileInfo
	Priority float64
}

// LoadQueue is one of the three ascending-priority bands (spec.md §3).
type LoadQueue struct {
	records []LoadRecord
}

func (q *LoadQueue) Add(t *Tile, priority float64) {
	q.records = append(q.records, LoadRecord{Tile: t, Priority: priority})
}

// SortAscending orders the queue so the most urgent (smallest priority)
// entries come first, using the pack's pinned slices dependency rather
// than stdlib sort.
func (q *LoadQueue) SortAscending() {
	slices.SortFunc(q.records, func(a, b LoadRecord) bool {
		return a.Priority < b.Priority
	})
}

func (q *LoadQueue) Len() int { return len(q.records) }

func (q *LoadQueue) At(i int) LoadRecord { return q.records[i] }

// Truncate drops all entries from index i onward — used when a kick
// clears descendant loads (spec.md §4.1).
func (q *LoadQueue) Truncate(i int) { q.records = q.records[:i] }

func (q *LoadQueue) Reset() { q.records = q.records[:0] }

type SubtreeLoadQueue struct {
	records []SubtreeLoadRecord
}

func (q *SubtreeLoadQueue) Add(t *Tile, info ImplicitTileInfo, priority float64) {
	q.records = append(q.records, SubtreeLoadRecord{Tile: t, Implicit: info, Priority: priority})
}

func (q *SubtreeLoadQueue) SortAscending() {
	slices.SortFunc(q.records, func(a, b SubtreeLoadRecord) bool {
		return a.Priority < b.Priority
	})
}

func (q *SubtreeLoadQueue) Len() int                      { return len(q.records) }
func (q *SubtreeLoadQueue) At(i int) SubtreeLoadRecord    { return q.records[i] }
func (q *SubtreeLoadQueue) Reset()                        { q.records = q.records[:0] }

// ComputeLoadPriority implements spec.md §4.1's priority formula:
// (1 - dot(normalize(tileCenter - frustumPos), frustumDir)) * distance,
// minimized over frustums. A frustum whose direction vector to the tile
// is zero-length is skipped. Priorities are not normalized across tiles.
func ComputeLoadPriority(tile *Tile, frustums []geom.Frustum, distances []float64) float64 {
	best := math.Inf(1)
	center := tile.BoundingVolume.Center()
	for i, f := range frustums {
		toTile, ok := center.Sub(f.Position).Normalize()
		if !ok {
			continue
		}
		dist := 0.0
		if i < len(distances) {
			dist = distances[i]
		}
		p := (1 - toTile.Dot(f.Direction)) * dist
		if p < best {
			best = p
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}
