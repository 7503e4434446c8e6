// Package loader implements the async fetch/decode pipeline of spec.md
// §4.3/§5: per-tile load state transitions, a worker-pool that never
// touches shared tile state directly, and continuation results handed
// back to the main thread over a channel — grounded on the teacher's
// single-main-thread + channel-driven select loop
// (internal/sim/world/runtime_loop.go's Run method is the architectural
// analogue for "main thread"; loader workers are plain goroutines that
// only ever send a LoadResult, mirroring how runtime_loop's handlers
// never block on worker state).
package loader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/cesium3dtiles/tilestream/internal/availability"
	"github.com/cesium3dtiles/tilestream/internal/content"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
	"github.com/cesium3dtiles/tilestream/internal/wire"
)

// Accessor fetches a resource by URL. It is the seam internal/accessor's
// HTTP implementation satisfies; fixture-backed test doubles implement
// it directly.
type Accessor interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, httpStatus int, err error)
}

// AuthRefresher is the "Transport, auth-refresh-eligible" policy of
// spec.md §7: a fetch that comes back 401 triggers exactly one
// in-flight Refresh call (the implementation, e.g.
// accessor.RefreshingTokenSource.Refresh, is responsible for
// deduplicating concurrent callers). Every tile the loader parked
// pending that refresh reverts to Unloaded on success, or terminates at
// Failed if Refresh itself fails.
type AuthRefresher interface {
	Refresh(ctx context.Context) error
}

// loadResult is a completed tile fetch+decode, handed from a worker
// goroutine back to the main thread via Loader.results. It never carries
// a *Tile mutation directly — only data the main thread applies itself,
// honoring the single-writer invariant of spec.md §5. httpStatus is 0
// for network failures and decode/format errors; it is only meaningful
// when err is non-nil.
type loadResult struct {
	tile       *tileset.Tile
	handle     *tileset.ContentHandle
	err        error
	httpStatus int
	kind       resultKind
}

// authRefreshResult is the outcome of a single in-flight AuthRefresher
// call, applied to every tile parked in Loader.authPending.
type authRefreshResult struct {
	err error
}

type resultKind int

const (
	resultTile resultKind = iota
	resultSubtree
)

type subtreeResult struct {
	tile     *tileset.Tile
	subtree  *availability.AvailabilitySubtree
	err      error
}

// Loader is the concrete tileset.Dispatcher/tileset.Unloader
// implementation: it dispatches fetches as goroutines bounded only by
// the caller-enforced concurrency cap (CacheManager checks InProgress()
// before calling Dispatch again), and applies their results on
// ApplyResults, which must be called from the same goroutine that owns
// the tile tree.
type Loader struct {
	Accessor    Accessor
	Factory     *content.Factory
	Cache       *availability.Cache
	Logger      *log.Logger
	AuthRefresh AuthRefresher // optional; nil means 401s terminate at Failed like any other Transport error

	resolveTemplate func(template string, level, x, y, z uint32) string

	inProgress         int32
	inProgressSubtrees int32

	results        chan loadResult
	subtreeResults chan subtreeResult
	authResults    chan authRefreshResult

	// authPending and authRefreshInFlight are only ever touched from
	// ApplyResults, so they need no lock of their own (spec.md §5's
	// single-writer invariant).
	authPending         []*tileset.Tile
	authRefreshInFlight bool
}

func New(accessor Accessor, factory *content.Factory, cache *availability.Cache, logger *log.Logger) *Loader {
	return &Loader{
		Accessor:        accessor,
		Factory:         factory,
		Cache:           cache,
		Logger:          logger,
		resolveTemplate: wire.ResolveTemplate,
		results:         make(chan loadResult, 256),
		subtreeResults:  make(chan subtreeResult, 64),
		authResults:     make(chan authRefreshResult, 1),
	}
}

func (l *Loader) InProgress() int         { return int(atomic.LoadInt32(&l.inProgress)) }
func (l *Loader) InProgressSubtrees() int { return int(atomic.LoadInt32(&l.inProgressSubtrees)) }

// Dispatch begins an async fetch for tile, transitioning it to
// ContentLoading. It returns false without starting anything if the tile
// is not in a dispatchable state (spec.md §4.3's state diagram: only
// Unloaded accepts a new dispatch). FailedTemporarily tiles are parked
// pending an AuthRefresh and only ever leave that state through
// applyAuthRefreshResult, never through an ad-hoc redispatch; Failed is
// terminal and is never picked back up.
func (l *Loader) Dispatch(tile *tileset.Tile) bool {
	if tile.LoadState != tileset.Unloaded {
		return false
	}
	url, ok := resolveTileURL(tile, l.resolveTemplate)
	if !ok {
		return false
	}

	tile.LoadState = tileset.ContentLoading
	tile.AddRef()
	atomic.AddInt32(&l.inProgress, 1)

	go l.fetchAndDecode(tile, url)
	return true
}

func (l *Loader) fetchAndDecode(tile *tileset.Tile, url string) {
	ctx := context.Background()
	data, contentType, status, err := l.Accessor.Fetch(ctx, url)
	if err != nil {
		l.results <- loadResult{tile: tile, err: fmt.Errorf("fetch %s: %w", url, err)}
		return
	}
	if status >= 400 {
		l.results <- loadResult{tile: tile, err: fmt.Errorf("fetch %s: http status %d", url, status), httpStatus: status}
		return
	}

	handle, err := l.Factory.CreateContent(content.Response{Data: data, ContentType: contentType, URL: url})
	if err != nil {
		l.results <- loadResult{tile: tile, err: fmt.Errorf("decode %s: %w", url, err)}
		return
	}
	if handle != nil {
		handle.HTTPStatus = uint16(status)
	}

	if handle != nil && handle.Kind == tileset.ContentExternalTileset {
		root, _, perr := wire.ParseTilesetJSON(data)
		if perr != nil {
			l.results <- loadResult{tile: tile, err: fmt.Errorf("parse external tileset %s: %w", url, perr)}
			return
		}
		handle.ExternalTileset = root
	}

	l.results <- loadResult{tile: tile, handle: handle}
}

// DispatchSubtree begins an async fetch+parse of a subtree resource for
// an implicit-tiling boundary tile.
func (l *Loader) DispatchSubtree(tile *tileset.Tile, info tileset.ImplicitTileInfo) bool {
	if info.SubtreeLoaded {
		return false
	}
	url, ok := availability.SubtreeURL(tile, l.resolveTemplate)
	if !ok {
		return false
	}

	atomic.AddInt32(&l.inProgressSubtrees, 1)
	go l.fetchAndParseSubtree(tile, info, url)
	return true
}

func (l *Loader) fetchAndParseSubtree(tile *tileset.Tile, info tileset.ImplicitTileInfo, url string) {
	ctx := context.Background()
	data, _, status, err := l.Accessor.Fetch(ctx, url)
	if err != nil {
		l.subtreeResults <- subtreeResult{tile: tile, err: fmt.Errorf("fetch subtree %s: %w", url, err)}
		return
	}
	if status >= 400 {
		l.subtreeResults <- subtreeResult{tile: tile, err: fmt.Errorf("fetch subtree %s: http status %d", url, status)}
		return
	}

	branchFactor := 4
	if info.SubdivisionScheme == tileset.SubdivisionOctree {
		branchFactor = 8
	}
	nodeCount := levelSum(branchFactor, info.SubtreeLevels)
	childCount := pow(branchFactor, info.SubtreeLevels)

	bits, err := wire.ParseSubtreeBinary(data, nodeCount, childCount)
	if err != nil {
		l.subtreeResults <- subtreeResult{tile: tile, err: fmt.Errorf("parse subtree %s: %w", url, err)}
		return
	}

	subtree := availability.ParseSubtree(info.SubdivisionScheme, info.SubtreeLevels, bits.TileAvailable, bits.ContentAvailable, bits.SubtreeAvailable)
	l.subtreeResults <- subtreeResult{tile: tile, subtree: subtree}
}

func levelSum(branchFactor int, levels uint32) int {
	sum, term := 0, 1
	for i := uint32(0); i < levels; i++ {
		sum += term
		term *= branchFactor
	}
	return sum
}

func pow(base int, exp uint32) int {
	r := 1
	for i := uint32(0); i < exp; i++ {
		r *= base
	}
	return r
}

// ApplyResults drains completed fetches/decodes and applies them to the
// tile tree. It must run on the tree-owning goroutine, once per frame,
// before the next Selector.UpdateView call (spec.md §5's "worker
// completions are applied on the main thread" rule).
func (l *Loader) ApplyResults(onBytesChanged func(delta int64)) {
	for {
		select {
		case r := <-l.results:
			l.applyTileResult(r, onBytesChanged)
		default:
			goto drainSubtrees
		}
	}
drainSubtrees:
	for {
		select {
		case r := <-l.subtreeResults:
			l.applySubtreeResult(r)
		default:
			goto drainAuth
		}
	}
drainAuth:
	for {
		select {
		case r := <-l.authResults:
			l.applyAuthRefreshResult(r)
		default:
			return
		}
	}
}

func (l *Loader) applyTileResult(r loadResult, onBytesChanged func(delta int64)) {
	defer func() {
		r.tile.Release()
		atomic.AddInt32(&l.inProgress, -1)
	}()

	if r.err != nil {
		if r.httpStatus == http.StatusUnauthorized && l.AuthRefresh != nil {
			r.tile.LoadState = tileset.FailedTemporarily
			l.authPending = append(l.authPending, r.tile)
			l.triggerAuthRefresh()
		} else {
			r.tile.LoadState = tileset.Failed
		}
		if l.Logger != nil {
			l.Logger.Printf("loader: %s: %v", r.tile.ID, r.err)
		}
		return
	}

	r.tile.Content = r.handle
	r.tile.LoadState = tileset.ContentLoaded
	r.tile.BytesUsed = r.handle.ByteSize()
	if onBytesChanged != nil {
		onBytesChanged(r.tile.BytesUsed)
	}
}

// triggerAuthRefresh starts at most one in-flight AuthRefresh.Refresh
// call; tiles that hit a 401 while a refresh is already running just
// join authPending and wait for it to land.
func (l *Loader) triggerAuthRefresh() {
	if l.authRefreshInFlight {
		return
	}
	l.authRefreshInFlight = true
	go func() {
		err := l.AuthRefresh.Refresh(context.Background())
		l.authResults <- authRefreshResult{err: err}
	}()
}

// applyAuthRefreshResult resolves every tile parked on the in-flight
// refresh: back to Unloaded (re-queued on the next selection pass) on
// success, or to Failed if the refresh itself failed (boundary scenario
// #10). Runs on the tree-owning goroutine, same as applyTileResult.
func (l *Loader) applyAuthRefreshResult(r authRefreshResult) {
	l.authRefreshInFlight = false
	pending := l.authPending
	l.authPending = nil

	for _, tile := range pending {
		if tile.LoadState != tileset.FailedTemporarily {
			continue
		}
		if r.err != nil {
			tile.LoadState = tileset.Failed
		} else {
			tile.LoadState = tileset.Unloaded
		}
	}
	if r.err != nil && l.Logger != nil {
		l.Logger.Printf("loader: auth refresh failed: %v", r.err)
	}
}

func (l *Loader) applySubtreeResult(r subtreeResult) {
	defer atomic.AddInt32(&l.inProgressSubtrees, -1)

	if r.err != nil {
		if l.Logger != nil {
			l.Logger.Printf("loader: subtree %s: %v", r.tile.ID, r.err)
		}
		return
	}
	if r.tile.Implicit == nil {
		return
	}
	r.tile.Implicit.SubtreeData = r.subtree
	r.tile.Implicit.SubtreeLoaded = true
}

func resolveTileURL(tile *tileset.Tile, resolveTemplate func(template string, level, x, y, z uint32) string) (string, bool) {
	if tile.ID.Kind == tileset.TileIDExplicit {
		return tile.ID.Explicit, tile.ID.Explicit != ""
	}
	return availability.ContentURL(tile, resolveTemplate)
}
