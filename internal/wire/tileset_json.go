// Package wire implements the on-the-wire formats spec.md §6.5 names:
// tileset.json parsing, tileset.json/layer.json schema validation, URL
// template resolution, and the glB binary glTF container reader,
// grounded on GltfReader.cpp and the 3D
// Tiles implicit-tiling extension's JSON shapes.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/cesium3dtiles/tilestream/internal/geom"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
)

// tilesetJSON mirrors the root tileset.json object (3D Tiles spec §5.1).
type tilesetJSON struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	GeometricError float64          `json:"geometricError"`
	Root           tileJSON         `json:"root"`
	Extensions     map[string]json.RawMessage `json:"extensions"`
}

type tileJSON struct {
	BoundingVolume    boundingVolumeJSON `json:"boundingVolume"`
	ViewerRequestVolume *boundingVolumeJSON `json:"viewerRequestVolume"`
	GeometricError    float64            `json:"geometricError"`
	Refine            string             `json:"refine"`
	Transform         []float64          `json:"transform"`
	Content           *contentJSON       `json:"content"`
	Children          []tileJSON         `json:"children"`
	Extensions        map[string]json.RawMessage `json:"extensions"`
}

type contentJSON struct {
	URI            string             `json:"uri"`
	BoundingVolume *boundingVolumeJSON `json:"boundingVolume"`
}

type boundingVolumeJSON struct {
	Box    []float64 `json:"box"`
	Region []float64 `json:"region"`
	Sphere []float64 `json:"sphere"`
}

// implicitTilingJSON mirrors the 3DTILES_implicit_tiling extension object.
type implicitTilingJSON struct {
	SubdivisionScheme   string `json:"subdivisionScheme"`
	SubtreeLevels       uint32 `json:"subtreeLevels"`
	AvailableLevels     uint32 `json:"availableLevels"`
	SubtreesURITemplate string `json:"subtrees"`
	ContentURITemplate  string `json:"content"`
}

// ParseTilesetJSON decodes a tileset.json body into a Tile tree rooted at
// the returned *tileset.Tile, per spec.md §6.5. It does not resolve
// relative content URIs against a base URL; callers compose with
// ResolveURL for that.
func ParseTilesetJSON(data []byte) (*tileset.Tile, float64, error) {
	var doc tilesetJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("wire: parse tileset.json: %w", err)
	}
	root := convertTile(doc.Root, geom.Identity())
	return root, doc.GeometricError, nil
}

func convertTile(tj tileJSON, inheritedTransform geom.Mat4) *tileset.Tile {
	transform := inheritedTransform
	if len(tj.Transform) == 16 {
		var m geom.Mat4
		// tileset.json stores column-major 4x4; convert to this module's
		// row-major Mat4 by transposing on read.
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				m[r*4+c] = tj.Transform[c*4+r]
			}
		}
		transform = inheritedTransform.Mul(m)
	}

	t := &tileset.Tile{
		Transform:      transform,
		BoundingVolume: convertBoundingVolume(tj.BoundingVolume).Transform(transform),
		GeometricError: tj.GeometricError,
		Refine:         convertRefine(tj.Refine),
		LoadState:      tileset.Unloaded,
	}

	if tj.Content != nil {
		t.ID = tileset.NewExplicitTileID(tj.Content.URI)
		if tj.Content.BoundingVolume != nil {
			t.HasContentBoundingVol = true
			t.ContentBoundingVolume = convertBoundingVolume(*tj.Content.BoundingVolume).Transform(transform)
		}
	}
	if tj.ViewerRequestVolume != nil {
		t.HasViewerRequestVol = true
		t.ViewerRequestVolume = convertBoundingVolume(*tj.ViewerRequestVolume).Transform(transform)
	}

	if raw, ok := tj.Extensions["3DTILES_implicit_tiling"]; ok {
		var impl implicitTilingJSON
		if err := json.Unmarshal(raw, &impl); err == nil {
			scheme := tileset.SubdivisionQuadtree
			if impl.SubdivisionScheme == "OCTREE" {
				scheme = tileset.SubdivisionOctree
			}
			t.ID = tileset.NewQuadtreeTileID(tileset.QuadtreeID{})
			if scheme == tileset.SubdivisionOctree {
				t.ID = tileset.NewOctreeTileID(tileset.OctreeID{})
			}
			t.Implicit = &tileset.ImplicitTileInfo{
				SubdivisionScheme:   scheme,
				SubtreeLevels:       impl.SubtreeLevels,
				MaximumLevel:        impl.AvailableLevels,
				IsSubtreeBoundary:   true,
				ContentURITemplate:  impl.ContentURITemplate,
				SubtreesURITemplate: impl.SubtreesURITemplate,
			}
			t.UnconditionallyRefine = true
		}
	}

	if len(tj.Children) > 0 {
		children := make([]tileset.Tile, len(tj.Children))
		for i, cj := range tj.Children {
			children[i] = *convertTile(cj, transform)
		}
		t.SetChildren(children)
	}

	return t
}

func convertRefine(s string) tileset.Refine {
	if s == "ADD" {
		return tileset.RefineAdd
	}
	return tileset.RefineReplace
}

func convertBoundingVolume(bv boundingVolumeJSON) geom.BoundingVolume {
	switch {
	case len(bv.Box) == 12:
		return geom.NewBox(geom.Box{
			Center: geom.Vec3{X: bv.Box[0], Y: bv.Box[1], Z: bv.Box[2]},
			XHalf:  geom.Vec3{X: bv.Box[3], Y: bv.Box[4], Z: bv.Box[5]},
			YHalf:  geom.Vec3{X: bv.Box[6], Y: bv.Box[7], Z: bv.Box[8]},
			ZHalf:  geom.Vec3{X: bv.Box[9], Y: bv.Box[10], Z: bv.Box[11]},
		})
	case len(bv.Region) == 6:
		return geom.NewRegion(geom.Region{
			West: bv.Region[0], South: bv.Region[1], East: bv.Region[2], North: bv.Region[3],
			MinHeight: bv.Region[4], MaxHeight: bv.Region[5],
		})
	case len(bv.Sphere) == 4:
		return geom.NewSphere(geom.Sphere{
			Center: geom.Vec3{X: bv.Sphere[0], Y: bv.Sphere[1], Z: bv.Sphere[2]},
			Radius: bv.Sphere[3],
		})
	}
	return geom.BoundingVolume{}
}
