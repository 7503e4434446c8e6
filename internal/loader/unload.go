package loader

import "github.com/cesium3dtiles/tilestream/internal/tileset"

// UnloadContent implements tileset.Unloader: it frees a tile's decoded
// content and any attached renderer resources, returning it to Unloaded
// so it can be re-dispatched if it becomes visible again (spec.md §4.4).
// The CacheManager only calls this for tiles that are not ContentLoading
// and not currently referenced, so there is never a fetch in flight for
// the tile being unloaded.
func (l *Loader) UnloadContent(tile *tileset.Tile) bool {
	if tile.LoadState != tileset.Done && tile.LoadState != tileset.Failed && tile.LoadState != tileset.FailedTemporarily {
		return false
	}
	if tile.Content != nil && tile.Content.RendererResources != nil {
		freeRendererResources(tile.Content.RendererResources)
	}
	tile.Content = nil
	tile.BytesUsed = 0
	tile.LoadState = tileset.Unloaded
	return true
}

// freeRendererResources is the release half of the opaque renderer
// preparation hook (spec.md §6.3); this engine never looks inside the
// handle, it only ever forwards it for the external renderer to free.
func freeRendererResources(r *tileset.RendererResources) {
	if closer, ok := r.Opaque.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
