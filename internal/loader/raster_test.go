package loader

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

type fakeRasterProvider struct {
	id    string
	ready bool
	urls  map[[3]uint32]string
}

func (p *fakeRasterProvider) ID() string { return p.id }
func (p *fakeRasterProvider) Ready() bool { return p.ready }
func (p *fakeRasterProvider) TileURL(level, x, y uint32) (string, bool) {
	url, ok := p.urls[[3]uint32{level, x, y}]
	return url, ok
}

func quadTile(level, x, y uint32) *tileset.Tile {
	return tileset.NewRootTile(tileset.NewQuadtreeTileID(tileset.QuadtreeID{Level: level, X: x, Y: y}))
}

func drainRaster(l *RasterLoader, cond func() bool) {
	for i := 0; i < 10000 && !cond(); i++ {
		l.ApplyResults(nil)
		runtime.Gosched()
		if i%100 == 99 {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRasterDispatchAttachesPlaceholderWhenProviderNotReady(t *testing.T) {
	l := NewRasterLoader(&fakeAccessor{}, 4, nil)
	provider := &fakeRasterProvider{id: "bing", ready: false}
	tile := quadTile(0, 0, 0)

	if ok := l.Dispatch(tile, provider); !ok {
		t.Fatalf("expected Dispatch to attach a placeholder and return true")
	}
	if len(tile.MappedRasterTiles) != 1 {
		t.Fatalf("len(MappedRasterTiles) = %d, want 1", len(tile.MappedRasterTiles))
	}
	if !tile.MappedRasterTiles[0].Placeholder {
		t.Fatalf("expected a placeholder mapping")
	}
	if l.InProgress() != 0 {
		t.Fatalf("InProgress() = %d, want 0: a placeholder consumes no throttle slot", l.InProgress())
	}
}

func TestRasterDispatchStartsFetchWhenProviderReady(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"bing/0/0/0.jpg": make([]byte, 512)}}
	l := NewRasterLoader(acc, 4, nil)
	provider := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{{0, 0, 0}: "bing/0/0/0.jpg"}}
	tile := quadTile(0, 0, 0)

	if ok := l.Dispatch(tile, provider); !ok {
		t.Fatalf("expected Dispatch to start a fetch")
	}
	if l.InProgress() != 1 {
		t.Fatalf("InProgress() = %d, want 1", l.InProgress())
	}
	if !tile.Referenced() {
		t.Fatalf("expected the tile to be ref-counted while the fetch is in flight")
	}
}

func TestRasterApplyResultsAttachesImageAndReportsBytes(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"bing/0/0/0.jpg": make([]byte, 512)}}
	l := NewRasterLoader(acc, 4, nil)
	provider := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{{0, 0, 0}: "bing/0/0/0.jpg"}}
	tile := quadTile(0, 0, 0)
	l.Dispatch(tile, provider)

	var delta int64
	for i := 0; i < 10000 && !(len(tile.MappedRasterTiles) == 1 && !tile.MappedRasterTiles[0].Placeholder); i++ {
		l.ApplyResults(func(d int64) { delta = d })
		runtime.Gosched()
		if i%100 == 99 {
			time.Sleep(time.Millisecond)
		}
	}

	if len(tile.MappedRasterTiles) != 1 {
		t.Fatalf("len(MappedRasterTiles) = %d, want 1", len(tile.MappedRasterTiles))
	}
	m := tile.MappedRasterTiles[0]
	if m.Placeholder {
		t.Fatalf("expected the placeholder to be replaced by real imagery")
	}
	if m.Image == nil || m.Image.ByteLength != 512 {
		t.Fatalf("Image = %+v, want ByteLength 512", m.Image)
	}
	if delta != 512 {
		t.Fatalf("onBytesChanged delta = %d, want 512", delta)
	}
	if l.InProgress() != 0 {
		t.Fatalf("InProgress() = %d, want 0 after apply", l.InProgress())
	}
	if tile.Referenced() {
		t.Fatalf("expected the fetch's AddRef to be released once applied")
	}
}

func TestRasterApplyResultsReplacesPlaceholderWithRealImagery(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"bing/0/0/0.jpg": make([]byte, 64)}}
	l := NewRasterLoader(acc, 4, nil)
	tile := quadTile(0, 0, 0)

	notReady := &fakeRasterProvider{id: "bing", ready: false}
	l.Dispatch(tile, notReady)
	if !tile.MappedRasterTiles[0].Placeholder {
		t.Fatalf("expected a placeholder mapping before the provider is ready")
	}

	ready := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{{0, 0, 0}: "bing/0/0/0.jpg"}}
	if ok := l.Dispatch(tile, ready); !ok {
		t.Fatalf("expected Dispatch to start a fetch once the provider becomes ready")
	}

	drainRaster(l, func() bool { return len(tile.MappedRasterTiles) == 1 && !tile.MappedRasterTiles[0].Placeholder })

	if len(tile.MappedRasterTiles) != 1 {
		t.Fatalf("len(MappedRasterTiles) = %d, want 1 (replaced in place, not appended)", len(tile.MappedRasterTiles))
	}
	if tile.MappedRasterTiles[0].Placeholder {
		t.Fatalf("expected the placeholder to be gone")
	}
}

func TestRasterDispatchRejectsDuplicateMapping(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{"bing/0/0/0.jpg": make([]byte, 64)}}
	l := NewRasterLoader(acc, 4, nil)
	provider := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{{0, 0, 0}: "bing/0/0/0.jpg"}}
	tile := quadTile(0, 0, 0)
	tile.MappedRasterTiles = append(tile.MappedRasterTiles, tileset.RasterMapping{OverlayID: "bing", Image: &tileset.Image{ByteLength: 64}})

	if ok := l.Dispatch(tile, provider); ok {
		t.Fatalf("expected Dispatch to refuse re-fetching an already-mapped overlay")
	}
}

func TestRasterDispatchRespectsThrottle(t *testing.T) {
	acc := &fakeAccessor{byURL: map[string][]byte{
		"bing/0/0/0.jpg": make([]byte, 1),
		"bing/0/1/0.jpg": make([]byte, 1),
	}}
	l := NewRasterLoader(acc, 1, nil)
	provider := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{
		{0, 0, 0}: "bing/0/0/0.jpg",
		{0, 1, 0}: "bing/0/1/0.jpg",
	}}

	first := quadTile(0, 0, 0)
	second := quadTile(0, 1, 0)

	if ok := l.Dispatch(first, provider); !ok {
		t.Fatalf("expected the first Dispatch to start a fetch")
	}
	if ok := l.Dispatch(second, provider); ok {
		t.Fatalf("expected the second Dispatch to be throttled at MaximumSimultaneousLoads=1")
	}
}

func TestUnloadRasterRemovesRealMappingButNotPlaceholder(t *testing.T) {
	tile := quadTile(0, 0, 0)
	tile.MappedRasterTiles = []tileset.RasterMapping{
		{OverlayID: "bing", Image: &tileset.Image{ByteLength: 128}},
		{OverlayID: "wms", Placeholder: true},
	}

	freed, removed := UnloadRaster(tile, "bing")
	if !removed || freed != 128 {
		t.Fatalf("UnloadRaster(bing) = (%d, %v), want (128, true)", freed, removed)
	}

	freed, removed = UnloadRaster(tile, "wms")
	if removed {
		t.Fatalf("expected UnloadRaster to refuse removing a placeholder mapping")
	}
	if freed != 0 {
		t.Fatalf("freed = %d, want 0 for a refused removal", freed)
	}
	if len(tile.MappedRasterTiles) != 1 || tile.MappedRasterTiles[0].OverlayID != "wms" {
		t.Fatalf("unexpected MappedRasterTiles after unload: %+v", tile.MappedRasterTiles)
	}
}

func TestRasterApplyResultsLogsFetchErrorWithoutAttaching(t *testing.T) {
	acc := &fakeAccessor{err: map[string]error{"bing/0/0/0.jpg": errors.New("connection reset")}}
	l := NewRasterLoader(acc, 4, nil)
	provider := &fakeRasterProvider{id: "bing", ready: true, urls: map[[3]uint32]string{{0, 0, 0}: "bing/0/0/0.jpg"}}
	tile := quadTile(0, 0, 0)
	l.Dispatch(tile, provider)

	drainRaster(l, func() bool { return l.InProgress() == 0 })

	if len(tile.MappedRasterTiles) != 0 {
		t.Fatalf("expected no mapping attached after a fetch error, got %+v", tile.MappedRasterTiles)
	}
	if tile.Referenced() {
		t.Fatalf("expected the ref to be released even on error")
	}
}
