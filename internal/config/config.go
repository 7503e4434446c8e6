// Package config loads the tileset runtime options of spec.md §6.4 from
// YAML, grounded on internal/sim/tuning.Tuning's Load (flat struct, yaml
// tags, os.ReadFile + yaml.Unmarshal, %w-wrapped errors).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cesium3dtiles/tilestream/internal/geom"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

// Document is the on-disk YAML shape; it mirrors tileset.Options's
// fields and keeps KTX2TranscodeTargets as map[string][]string and
// ContentOptions as a plain map[string]any, the same types Options uses,
// so the YAML is hand-editable without Go-side schema churn.
type Document struct {
	MaximumScreenSpaceError         float64 `yaml:"maximum_screen_space_error"`
	MaximumSimultaneousTileLoads    int     `yaml:"maximum_simultaneous_tile_loads"`
	MaximumSimultaneousSubtreeLoads int     `yaml:"maximum_simultaneous_subtree_loads"`
	MaximumCachedBytes              int64   `yaml:"maximum_cached_bytes"`
	LoadingDescendantLimit          int     `yaml:"loading_descendant_limit"`

	PreloadAncestors bool `yaml:"preload_ancestors"`
	PreloadSiblings  bool `yaml:"preload_siblings"`
	ForbidHoles      bool `yaml:"forbid_holes"`

	EnableFrustumCulling bool `yaml:"enable_frustum_culling"`
	EnableFogCulling     bool `yaml:"enable_fog_culling"`

	EnforceCulledScreenSpaceError bool    `yaml:"enforce_culled_screen_space_error"`
	CulledScreenSpaceError        float64 `yaml:"culled_screen_space_error"`

	RenderTilesUnderCamera bool `yaml:"render_tiles_under_camera"`

	FogDensityTable []FogDensitySampleDoc `yaml:"fog_density_table"`

	KTX2TranscodeTargets map[string][]string `yaml:"ktx2_transcode_targets"`
	ContentOptions       map[string]any       `yaml:"content_options"`
}

type FogDensitySampleDoc struct {
	CameraHeight float64 `yaml:"camera_height"`
	FogDensity   float64 `yaml:"fog_density"`
}

// Load reads a tileset options YAML file and overlays it onto
// tileset.DefaultOptions() — matching tuning.Load's "start from zero
// value, unmarshal over it" shape, except seeded with the Cesium
// defaults so an omitted YAML key keeps its documented default rather
// than silently becoming zero.
func Load(path string) (tileset.Options, error) {
	opts := tileset.DefaultOptions()

	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}

	var doc Document
	doc.populate(opts)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return opts, fmt.Errorf("config: %s: %w", path, err)
	}

	return doc.toOptions(), nil
}

// populate seeds the document from existing options so keys absent from
// the YAML file survive the unmarshal unchanged.
func (d *Document) populate(opts tileset.Options) {
	d.MaximumScreenSpaceError = opts.MaximumScreenSpaceError
	d.MaximumSimultaneousTileLoads = opts.MaximumSimultaneousTileLoads
	d.MaximumSimultaneousSubtreeLoads = opts.MaximumSimultaneousSubtreeLoads
	d.MaximumCachedBytes = opts.MaximumCachedBytes
	d.LoadingDescendantLimit = opts.LoadingDescendantLimit
	d.PreloadAncestors = opts.PreloadAncestors
	d.PreloadSiblings = opts.PreloadSiblings
	d.ForbidHoles = opts.ForbidHoles
	d.EnableFrustumCulling = opts.EnableFrustumCulling
	d.EnableFogCulling = opts.EnableFogCulling
	d.EnforceCulledScreenSpaceError = opts.EnforceCulledScreenSpaceError
	d.CulledScreenSpaceError = opts.CulledScreenSpaceError
	d.RenderTilesUnderCamera = opts.RenderTilesUnderCamera
	d.KTX2TranscodeTargets = opts.KTX2TranscodeTargets
	d.ContentOptions = opts.ContentOptions
}

func (d *Document) toOptions() tileset.Options {
	fog := make([]geom.FogDensitySample, len(d.FogDensityTable))
	for i, s := range d.FogDensityTable {
		fog[i] = geom.FogDensitySample{CameraHeight: s.CameraHeight, FogDensity: s.FogDensity}
	}

	return tileset.Options{
		MaximumScreenSpaceError:         d.MaximumScreenSpaceError,
		MaximumSimultaneousTileLoads:    d.MaximumSimultaneousTileLoads,
		MaximumSimultaneousSubtreeLoads: d.MaximumSimultaneousSubtreeLoads,
		MaximumCachedBytes:              d.MaximumCachedBytes,
		LoadingDescendantLimit:          d.LoadingDescendantLimit,
		PreloadAncestors:                d.PreloadAncestors,
		PreloadSiblings:                 d.PreloadSiblings,
		ForbidHoles:                     d.ForbidHoles,
		EnableFrustumCulling:            d.EnableFrustumCulling,
		EnableFogCulling:                d.EnableFogCulling,
		EnforceCulledScreenSpaceError:   d.EnforceCulledScreenSpaceError,
		CulledScreenSpaceError:          d.CulledScreenSpaceError,
		RenderTilesUnderCamera:          d.RenderTilesUnderCamera,
		FogDensityTable:                 fog,
		KTX2TranscodeTargets:            d.KTX2TranscodeTargets,
		ContentOptions:                  d.ContentOptions,
	}
}
