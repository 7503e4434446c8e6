package tileset

import "github.com/cesium3dtiles/tilestream/internal/geom"

// TileExcluder lets callers veto a tile before culling (spec.md §4.1
// step 2). A registered excluder is consulted for every visited tile.
type TileExcluder interface {
	ShouldExclude(t *Tile) bool
}

// Options holds the recognized tileset keys of spec.md §6.4.
type Options struct {
	MaximumScreenSpaceError         float64
	MaximumSimultaneousTileLoads    int
	MaximumSimultaneousSubtreeLoads int
	MaximumCachedBytes              int64
	LoadingDescendantLimit          int

	PreloadAncestors bool
	PreloadSiblings  bool
	ForbidHoles      bool

	EnableFrustumCulling bool
	EnableFogCulling     bool

	EnforceCulledScreenSpaceError bool
	CulledScreenSpaceError        float64

	RenderTilesUnderCamera bool

	FogDensityTable []geom.FogDensitySample

	// KTX2TranscodeTargets is opaque to the core selector/loader; it is
	// only plumbed through to the (external) renderer preparation hooks.
	KTX2TranscodeTargets map[string][]string

	// ContentOptions is a pass-through bag for decoder-specific toggles
	// (e.g. "enable_water_mask"); decoders are opaque per spec.md §1.
	ContentOptions map[string]any

	Excluders []TileExcluder
}

// DefaultOptions mirrors Cesium's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaximumScreenSpaceError:         16,
		MaximumSimultaneousTileLoads:    20,
		MaximumSimultaneousSubtreeLoads: 20,
		MaximumCachedBytes:              512 * 1024 * 1024,
		LoadingDescendantLimit:          20,
		PreloadAncestors:                true,
		PreloadSiblings:                 true,
		ForbidHoles:                     false,
		EnableFrustumCulling:            true,
		EnableFogCulling:                true,
		EnforceCulledScreenSpaceError:   true,
		CulledScreenSpaceError:          64,
		RenderTilesUnderCamera:          true,
	}
}
