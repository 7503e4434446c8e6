package availability

import "github.com/cesium3dtiles/tilestream/internal/tileset"

// ContentURL resolves an implicit tile's content fetch URL by
// substituting its (level, x, y, z) into the inherited content URI
// template (spec.md §6.5). Returns ok=false if the tile carries no
// implicit-tiling context or no template.
func ContentURL(tile *tileset.Tile, resolve func(template string, level, x, y, z uint32) string) (string, bool) {
	info := tile.Implicit
	if info == nil || info.ContentURITemplate == "" {
		return "", false
	}
	level, x, y, z := tileCoordinates(tile)
	return resolve(info.ContentURITemplate, level, x, y, z), true
}

// SubtreeURL resolves the URL of the subtree blob rooted at this
// subtree-boundary tile.
func SubtreeURL(tile *tileset.Tile, resolve func(template string, level, x, y, z uint32) string) (string, bool) {
	info := tile.Implicit
	if info == nil || info.SubtreesURITemplate == "" {
		return "", false
	}
	level, x, y, z := tileCoordinates(tile)
	return resolve(info.SubtreesURITemplate, level, x, y, z), true
}

func tileCoordinates(tile *tileset.Tile) (level, x, y, z uint32) {
	switch tile.ID.Kind {
	case tileset.TileIDQuadtree:
		q := tile.ID.Quadtree
		return q.Level, q.X, q.Y, 0
	case tileset.TileIDOctree:
		o := tile.ID.Octree
		return o.Level, o.X, o.Y, o.Z
	}
	return 0, 0, 0, 0
}
