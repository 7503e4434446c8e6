package geom

import "math"

// BoundingVolumeKind tags the four closed shapes spec.md §6.5 allows.
type BoundingVolumeKind int

const (
	KindBox BoundingVolumeKind = iota
	KindRegion
	KindSphere
	KindS2Cell
)

// Box is an oriented bounding box: center plus three half-axis vectors
// (matching the 12-element `box` array: center[3], xHalf[3], yHalf[3], zHalf[3]).
type Box struct {
	Center Vec3
	XHalf  Vec3
	YHalf  Vec3
	ZHalf  Vec3
}

// Region is a geographic bounding region in radians plus min/max height,
// matching the 6-element `region` array: west,south,east,north,minHeight,maxHeight.
type Region struct {
	West, South, East, North float64
	MinHeight, MaxHeight     float64
}

type Sphere struct {
	Center Vec3
	Radius float64
}

// S2Cell models the `3DTILES_bounding_volume_S2` extension object: an S2
// cell token plus a height range. The cell-to-region conversion is left to
// the caller (geometric library territory spec.md treats as external); we
// carry the fields needed for distance/SSE math via an approximating sphere.
type S2Cell struct {
	Token                string
	MinimumHeight        float64
	MaximumHeight        float64
	BoundingSphere        Sphere
}

// BoundingVolume is the closed 4-shape tagged union.
type BoundingVolume struct {
	Kind   BoundingVolumeKind
	Box    Box
	Region Region
	Sphere Sphere
	S2     S2Cell
}

func NewBox(b Box) BoundingVolume       { return BoundingVolume{Kind: KindBox, Box: b} }
func NewRegion(r Region) BoundingVolume { return BoundingVolume{Kind: KindRegion, Region: r} }
func NewSphere(s Sphere) BoundingVolume { return BoundingVolume{Kind: KindSphere, Sphere: s} }
func NewS2Cell(c S2Cell) BoundingVolume { return BoundingVolume{Kind: KindS2Cell, S2: c} }

// Center returns a representative world-space center point, used for the
// priority direction vector.
func (bv BoundingVolume) Center() Vec3 {
	switch bv.Kind {
	case KindBox:
		return bv.Box.Center
	case KindSphere:
		return bv.Sphere.Center
	case KindS2Cell:
		return bv.S2.BoundingSphere.Center
	case KindRegion:
		// Cartesian approximation is out of scope (geodesy is assumed
		// available); callers working with regions should use a real
		// ellipsoid conversion. We return the midpoint in the
		// lon/lat/height space as a placeholder center for distance math
		// in tests that don't need true Cartesian coordinates.
		return Vec3{
			X: (bv.Region.West + bv.Region.East) / 2,
			Y: (bv.Region.South + bv.Region.North) / 2,
			Z: (bv.Region.MinHeight + bv.Region.MaxHeight) / 2,
		}
	}
	return Vec3{}
}

// Transform applies a world transform to a bounding volume. Region and
// S2Cell bounding volumes are defined in a fixed geographic frame and are
// not transformed (matching 3D Tiles semantics: regions always carry their
// own absolute frame).
func (bv BoundingVolume) Transform(m Mat4) BoundingVolume {
	switch bv.Kind {
	case KindBox:
		b := bv.Box
		b.Center = m.TransformPoint(b.Center)
		b.XHalf = m.TransformPoint(b.XHalf).Sub(m.TransformPoint(Vec3{}))
		b.YHalf = m.TransformPoint(b.YHalf).Sub(m.TransformPoint(Vec3{}))
		b.ZHalf = m.TransformPoint(b.ZHalf).Sub(m.TransformPoint(Vec3{}))
		return BoundingVolume{Kind: KindBox, Box: b}
	case KindSphere:
		s := bv.Sphere
		s.Center = m.TransformPoint(s.Center)
		return BoundingVolume{Kind: KindSphere, Sphere: s}
	default:
		return bv
	}
}

// DistanceSquaredTo returns the squared distance from a point to the
// closest point on the bounding volume's surface (0 if the point is
// inside). S2 cells use their bounding sphere; a Region falls back to
// the distance to its center (geodesy is out of this module's scope).
func (bv BoundingVolume) DistanceSquaredTo(p Vec3) float64 {
	switch bv.Kind {
	case KindSphere:
		d := p.Sub(bv.Sphere.Center).Length() - bv.Sphere.Radius
		if d < 0 {
			return 0
		}
		return d * d
	case KindBox:
		return boxDistanceSquared(bv.Box, p)
	case KindS2Cell:
		d := p.Sub(bv.S2.BoundingSphere.Center).Length() - bv.S2.BoundingSphere.Radius
		if d < 0 {
			return 0
		}
		return d * d
	case KindRegion:
		d := p.Sub(bv.Center()).Length()
		return d * d
	}
	return 0
}

func boxDistanceSquared(b Box, p Vec3) float64 {
	// Project (p - center) onto the (possibly non-orthonormal) half-axes
	// and clamp to [-1, 1] in each axis's own unit, then reconstruct the
	// closest point — the standard OBB point-distance approach.
	rel := p.Sub(b.Center)
	axes := [3]Vec3{b.XHalf, b.YHalf, b.ZHalf}
	var closest Vec3 = b.Center
	for _, axis := range axes {
		lenSq := axis.LengthSquared()
		if lenSq < 1e-12 {
			continue
		}
		t := rel.Dot(axis) / lenSq
		if t > 1 {
			t = 1
		} else if t < -1 {
			t = -1
		}
		closest = closest.Add(axis.Scale(t))
	}
	return p.Sub(closest).LengthSquared()
}

// Contains reports whether the 2D (lon, lat) point lies
// within the region's rectangle, used by the "force render tiles under
// camera" ground-projection override.
func (r Region) Contains(lon, lat float64) bool {
	return lon >= r.West && lon <= r.East && lat >= r.South && lat <= r.North
}

// ScreenSpaceError computes the pixel error of a tile's geometric error
// observed at the given distance, using the standard 3D Tiles formula:
// sse = (geometricError * viewportHeight) / (distance * 2*tan(fovY/2)).
// A zero or negative distance is treated as "infinitely close" (max error).
func ScreenSpaceError(geometricError, distance, viewportHeight, sseDenominator float64) float64 {
	if distance <= 0 {
		return math.MaxFloat64
	}
	return (geometricError * viewportHeight) / (distance * sseDenominator)
}
