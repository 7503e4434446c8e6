package loader

import (
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/cesium3dtiles/tilestream/internal/availability"
	"github.com/cesium3dtiles/tilestream/internal/content"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

type fakeAccessor struct {
	byURL map[string][]byte
	err   map[string]error
	status map[string]int
}

func (f *fakeAccessor) Fetch(ctx context.Context, url string) ([]byte, string, int, error) {
	if err, ok := f.err[url]; ok {
		return nil, "", 0, err
	}
	if status, ok := f.status[url]; ok {
		return nil, "", status, nil
	}
	data, ok := f.byURL[url]
	if !ok {
		return nil, "", 404, nil
	}
	return data, "", 200, nil
}

func b3dmFixture(n int) []byte {
	b := make([]byte, 28+n)
	copy(b, "b3dm")
	return b
}

func newTestLoader(acc *fakeAccessor) *Loader {
	return New(acc, content.NewFactory(), availability.NewCache(), nil)
}

func drainUntil(l *Loader, cond func() bool) {
	for i := 0; i < 10000 && !cond(); i++ {
		l.ApplyResults(nil)
		runtime.Gosched()
		if i%100 == 99 {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDispatchExplicitTileTransitionsToContentLoading(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"root.b3dm": b3dmFixture(64)}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))

	if ok := l.Dispatch(tile); !ok {
		t.Fatalf("expected Dispatch to succeed")
	}
	if tile.LoadState != tileset.ContentLoading {
		t.Fatalf("LoadState = %v, want ContentLoading", tile.LoadState)
	}
	if !tile.Referenced() {
		t.Fatalf("expected the tile to be ref-counted while a load is in flight")
	}
}

func TestDispatchRejectsAlreadyLoadingTile(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	tile.LoadState = tileset.ContentLoading

	if ok := l.Dispatch(tile); ok {
		t.Fatalf("expected Dispatch to reject a tile already in ContentLoading")
	}
}

func TestDispatchRejectsUnresolvableURL(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewQuadtreeTileID(tileset.QuadtreeID{}))
	// No Implicit info at all: availability.ContentURL has nothing to resolve.

	if ok := l.Dispatch(tile); ok {
		t.Fatalf("expected Dispatch to reject a tile with no resolvable URL")
	}
	if tile.LoadState != tileset.Unloaded {
		t.Fatalf("rejected dispatch should leave LoadState untouched, got %v", tile.LoadState)
	}
}

func TestApplyResultsAppliesSuccessfulFetch(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"root.b3dm": b3dmFixture(100)}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	var delta int64
	for i := 0; i < 10000 && tile.LoadState != tileset.ContentLoaded; i++ {
		l.ApplyResults(func(d int64) { delta = d })
		runtime.Gosched()
		if i%100 == 99 {
			time.Sleep(time.Millisecond)
		}
	}

	if tile.LoadState != tileset.ContentLoaded {
		t.Fatalf("LoadState = %v, want ContentLoaded", tile.LoadState)
	}
	if tile.Content == nil || tile.Content.Kind != tileset.ContentModel {
		t.Fatalf("expected decoded model content, got %+v", tile.Content)
	}
	if tile.BytesUsed != 128 {
		t.Fatalf("BytesUsed = %d, want 128", tile.BytesUsed)
	}
	if delta != 128 {
		t.Fatalf("onBytesChanged delta = %d, want 128", delta)
	}
	if l.InProgress() != 0 {
		t.Fatalf("InProgress() = %d, want 0 after the result is applied", l.InProgress())
	}
	if tile.Referenced() {
		t.Fatalf("expected the load's AddRef to be released once applied")
	}
}

func TestApplyResultsMarksFailedOnFetchError(t *testing.T) {
	acc := &fakeAccessor{err: map[string]error{"root.b3dm": errors.New("connection reset")}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	drainUntil(l, func() bool { return tile.LoadState == tileset.Failed })

	if tile.LoadState != tileset.Failed {
		t.Fatalf("LoadState = %v, want Failed: a network failure is not auth-refresh-eligible", tile.LoadState)
	}
	if tile.Content != nil {
		t.Fatalf("a failed fetch should not attach content")
	}
}

func TestApplyResultsMarksFailedOnHTTPErrorStatus(t *testing.T) {
	acc := &fakeAccessor{status: map[string]int{"root.b3dm": 503}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	drainUntil(l, func() bool { return tile.LoadState == tileset.Failed })

	if tile.LoadState != tileset.Failed {
		t.Fatalf("LoadState = %v, want Failed: only 401 with an AuthRefresh is retried", tile.LoadState)
	}
}

func TestFailedTileIsNeverRedispatched(t *testing.T) {
	acc := &fakeAccessor{status: map[string]int{"root.b3dm": 404}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)
	drainUntil(l, func() bool { return tile.LoadState == tileset.Failed })

	if ok := l.Dispatch(tile); ok {
		t.Fatalf("expected Dispatch to refuse a Failed tile: Failed is terminal")
	}
	if tile.LoadState != tileset.Failed {
		t.Fatalf("LoadState = %v, want Failed to remain terminal", tile.LoadState)
	}
}

func TestApplyResultsMarksFailedOn401WithoutAuthRefresh(t *testing.T) {
	acc := &fakeAccessor{status: map[string]int{"root.b3dm": 401}}
	l := newTestLoader(acc)
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	drainUntil(l, func() bool { return tile.LoadState == tileset.Failed })

	if tile.LoadState != tileset.Failed {
		t.Fatalf("LoadState = %v, want Failed: no AuthRefresh configured", tile.LoadState)
	}
}

type fakeAuthRefresher struct {
	err   error
	calls int
}

func (f *fakeAuthRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestApplyResultsRevertsToUnloadedAfter401RefreshSucceeds(t *testing.T) {
	acc := &fakeAccessor{status: map[string]int{"root.b3dm": 401}}
	l := newTestLoader(acc)
	refresher := &fakeAuthRefresher{}
	l.AuthRefresh = refresher
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	drainUntil(l, func() bool { return refresher.calls > 0 && tile.LoadState == tileset.Unloaded })

	if tile.LoadState != tileset.Unloaded {
		t.Fatalf("LoadState = %v, want Unloaded after a successful auth refresh", tile.LoadState)
	}
	if refresher.calls != 1 {
		t.Fatalf("Refresh called %d times, want exactly 1", refresher.calls)
	}
}

func TestApplyResultsMarksFailedWhenAuthRefreshFails(t *testing.T) {
	acc := &fakeAccessor{status: map[string]int{"root.b3dm": 401}}
	l := newTestLoader(acc)
	refresher := &fakeAuthRefresher{err: errors.New("refresh denied")}
	l.AuthRefresh = refresher
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	l.Dispatch(tile)

	drainUntil(l, func() bool { return tile.LoadState == tileset.Failed })

	if tile.LoadState != tileset.Failed {
		t.Fatalf("LoadState = %v, want Failed: the auth refresh itself failed", tile.LoadState)
	}
	if refresher.calls != 1 {
		t.Fatalf("Refresh called %d times, want exactly 1", refresher.calls)
	}
}

func TestDispatchSubtreeRejectsAlreadyLoaded(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewQuadtreeTileID(tileset.QuadtreeID{}))
	tile.Implicit = &tileset.ImplicitTileInfo{SubtreesURITemplate: "subtrees/{level}/{x}/{y}.subtree"}

	if ok := l.DispatchSubtree(tile, tileset.ImplicitTileInfo{SubtreeLoaded: true}); ok {
		t.Fatalf("expected DispatchSubtree to reject an already-loaded subtree")
	}
}

func TestDispatchSubtreeRejectsMissingTemplate(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewQuadtreeTileID(tileset.QuadtreeID{}))
	tile.Implicit = &tileset.ImplicitTileInfo{}

	if ok := l.DispatchSubtree(tile, tileset.ImplicitTileInfo{}); ok {
		t.Fatalf("expected DispatchSubtree to reject a tile with no subtree URL template")
	}
}

// buildSubtreeBinary constructs a minimal valid subtree resource body using
// constant-fill availability (no binary buffer needed), matching the
// smallest legal 3DTILES_implicit_tiling subtree resource.
func buildSubtreeBinary(jsonDoc string) []byte {
	header := make([]byte, subtreeHeaderSizeForTest)
	binary.LittleEndian.PutUint32(header[0:4], 0x74627573)
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(jsonDoc)))
	binary.LittleEndian.PutUint64(header[16:24], 0)
	return append(header, []byte(jsonDoc)...)
}

const subtreeHeaderSizeForTest = 24

func TestDispatchSubtreeAppliesResolvedAvailability(t *testing.T) {
	jsonDoc := `{"tileAvailability":{"constant":1},"contentAvailability":{"constant":1},"childSubtreeAvailability":{"constant":1}}`
	acc := &fakeAccessor{byURL: map[string][]byte{
		"subtrees/0/0/0.subtree": buildSubtreeBinary(jsonDoc),
	}}
	l := newTestLoader(acc)

	tile := tileset.NewRootTile(tileset.NewQuadtreeTileID(tileset.QuadtreeID{}))
	info := tileset.ImplicitTileInfo{
		SubdivisionScheme:   tileset.SubdivisionQuadtree,
		SubtreeLevels:       1,
		SubtreesURITemplate: "subtrees/{level}/{x}/{y}.subtree",
	}
	tile.Implicit = &info

	if ok := l.DispatchSubtree(tile, info); !ok {
		t.Fatalf("expected DispatchSubtree to start a fetch")
	}

	drainUntil(l, func() bool { return tile.Implicit.SubtreeLoaded })

	if !tile.Implicit.SubtreeLoaded {
		t.Fatalf("expected SubtreeLoaded to become true")
	}
	if tile.Implicit.SubtreeData == nil {
		t.Fatalf("expected SubtreeData to be populated")
	}
	if l.InProgressSubtrees() != 0 {
		t.Fatalf("InProgressSubtrees() = %d, want 0", l.InProgressSubtrees())
	}
}

func TestUnloadContentResetsRenderableTile(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	tile.LoadState = tileset.Done
	tile.Content = &tileset.ContentHandle{Kind: tileset.ContentModel, Model: &tileset.Mesh{ByteLength: 64}}
	tile.BytesUsed = 64

	if ok := l.UnloadContent(tile); !ok {
		t.Fatalf("expected UnloadContent to succeed for a Done tile")
	}
	if tile.LoadState != tileset.Unloaded {
		t.Fatalf("LoadState = %v, want Unloaded", tile.LoadState)
	}
	if tile.Content != nil {
		t.Fatalf("expected Content cleared")
	}
	if tile.BytesUsed != 0 {
		t.Fatalf("expected BytesUsed reset to 0")
	}
}

func TestUnloadContentRejectsInFlightTile(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	tile.LoadState = tileset.ContentLoading

	if ok := l.UnloadContent(tile); ok {
		t.Fatalf("expected UnloadContent to refuse a tile with a fetch in flight")
	}
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestUnloadContentClosesRendererResources(t *testing.T) {
	l := newTestLoader(&fakeAccessor{})
	rec := &closeRecorder{}
	tile := tileset.NewRootTile(tileset.NewExplicitTileID("root.b3dm"))
	tile.LoadState = tileset.Done
	tile.Content = &tileset.ContentHandle{
		Kind:              tileset.ContentModel,
		Model:             &tileset.Mesh{ByteLength: 1},
		RendererResources: &tileset.RendererResources{Opaque: rec},
	}

	l.UnloadContent(tile)

	if !rec.closed {
		t.Fatalf("expected renderer resources to be closed on unload")
	}
}
