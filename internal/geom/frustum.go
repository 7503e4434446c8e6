package geom

import "math"

// Plane is ax+by+cz+d=0 with (a,b,c) assumed normalized.
type Plane struct {
	Normal Vec3
	D      float64
}

// SignedDistance is positive on the side the normal points to.
func (pl Plane) SignedDistance(p Vec3) float64 {
	return pl.Normal.Dot(p) + pl.D
}

// Frustum is a camera's view volume, modeled as six half-space planes
// plus the parameters needed for the screen-space-error and priority
// formulas. Geometric primitives (plane extraction from a projection
// matrix, etc.) are assumed available per spec.md §1 and are not
// re-derived here; callers construct a Frustum directly.
type Frustum struct {
	Position  Vec3
	Direction Vec3 // unit forward vector

	Planes [6]Plane

	// ViewportHeight and SSEDenominator feed ScreenSpaceError; the
	// denominator is 2*tan(fovY/2) for a perspective camera.
	ViewportHeight float64
	SSEDenominator float64

	// HasGroundPosition/GroundLon/GroundLat feed the "render tiles under
	// camera" override (spec.md §4.1 step 3): the camera's ground
	// projection in radians, used to force-render a Region tile the
	// camera sits directly above even when it would otherwise be culled.
	HasGroundPosition bool
	GroundLon         float64
	GroundLat         float64
}

// Intersects reports whether the bounding volume is at least partially
// inside the frustum (conservative: a volume straddling a plane counts as
// visible). S2 cells use their bounding sphere; a Region is always
// reported as visible.
func (f Frustum) Intersects(bv BoundingVolume) bool {
	switch bv.Kind {
	case KindSphere:
		return f.intersectsSphere(bv.Sphere)
	case KindBox:
		return f.intersectsBox(bv.Box)
	case KindS2Cell:
		return f.intersectsSphere(bv.S2.BoundingSphere)
	case KindRegion:
		// No Cartesian conversion available here; treat as visible and let
		// fog/SSE culling and the caller's own frustum math (outside this
		// module's scope) make the final call.
		return true
	}
	return true
}

func (f Frustum) intersectsSphere(s Sphere) bool {
	for _, pl := range f.Planes {
		if pl.SignedDistance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

func (f Frustum) intersectsBox(b Box) bool {
	for _, pl := range f.Planes {
		// Project the box's half-axes onto the plane normal to get the
		// box's "radius" along the plane normal.
		r := math.Abs(pl.Normal.Dot(b.XHalf)) +
			math.Abs(pl.Normal.Dot(b.YHalf)) +
			math.Abs(pl.Normal.Dot(b.ZHalf))
		if pl.SignedDistance(b.Center) < -r {
			return false
		}
	}
	return true
}

// ComputeDistanceSquaredToBoundingVolume matches spec.md §4.1 step 4.
func (f Frustum) ComputeDistanceSquaredToBoundingVolume(bv BoundingVolume) float64 {
	return bv.DistanceSquaredTo(f.Position)
}

// ComputeScreenSpaceError matches spec.md §4.1's per-frustum SSE formula.
func (f Frustum) ComputeScreenSpaceError(geometricError, distance float64) float64 {
	return ScreenSpaceError(geometricError, distance, f.ViewportHeight, f.SSEDenominator)
}

// FogDensitySample is one row of the fog_density_table option.
type FogDensitySample struct {
	CameraHeight float64
	FogDensity   float64
}

// InterpolateFogDensity linearly interpolates the density at the given
// camera height over an ascending-by-height table. An empty table yields 0
// (no fog). Heights below the first or above the last sample clamp to the
// nearest endpoint.
func InterpolateFogDensity(table []FogDensitySample, height float64) float64 {
	if len(table) == 0 {
		return 0
	}
	if height <= table[0].CameraHeight {
		return table[0].FogDensity
	}
	last := table[len(table)-1]
	if height >= last.CameraHeight {
		return last.FogDensity
	}
	for i := 0; i < len(table)-1; i++ {
		a, b := table[i], table[i+1]
		if height >= a.CameraHeight && height <= b.CameraHeight {
			span := b.CameraHeight - a.CameraHeight
			if span <= 0 {
				return a.FogDensity
			}
			t := (height - a.CameraHeight) / span
			return a.FogDensity + t*(b.FogDensity-a.FogDensity)
		}
	}
	return last.FogDensity
}

// IsVisibleInFog matches spec.md §4.1 step 5: fog-occluded iff
// exp(-(distance*density)^2) == 0 for this frustum.
func IsVisibleInFog(distance, fogDensity float64) bool {
	fogScalar := distance * fogDensity
	return math.Exp(-(fogScalar * fogScalar)) > 0.0
}
