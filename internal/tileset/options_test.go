package tileset

import "testing"

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.MaximumScreenSpaceError != 16 {
		t.Fatalf("MaximumScreenSpaceError = %v, want 16", opts.MaximumScreenSpaceError)
	}
	if opts.MaximumCachedBytes != 512*1024*1024 {
		t.Fatalf("MaximumCachedBytes = %v, want 512MiB", opts.MaximumCachedBytes)
	}
	if !opts.PreloadAncestors || !opts.PreloadSiblings {
		t.Fatalf("expected PreloadAncestors and PreloadSiblings to default true")
	}
	if opts.ForbidHoles {
		t.Fatalf("expected ForbidHoles to default false")
	}
	if !opts.EnableFrustumCulling || !opts.EnableFogCulling {
		t.Fatalf("expected both culling toggles to default true")
	}
	if !opts.EnforceCulledScreenSpaceError || opts.CulledScreenSpaceError != 64 {
		t.Fatalf("unexpected culled SSE defaults: %v %v", opts.EnforceCulledScreenSpaceError, opts.CulledScreenSpaceError)
	}
	if !opts.RenderTilesUnderCamera {
		t.Fatalf("expected RenderTilesUnderCamera to default true")
	}
}

type excludeAll struct{}

func (excludeAll) ShouldExclude(t *Tile) bool { return true }

func TestOptionsExcludersField(t *testing.T) {
	opts := DefaultOptions()
	opts.Excluders = []TileExcluder{excludeAll{}}
	if len(opts.Excluders) != 1 || !opts.Excluders[0].ShouldExclude(nil) {
		t.Fatalf("expected a registered excluder to be consulted")
	}
}
