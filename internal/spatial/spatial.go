// Package spatial holds the minimal geometry carried alongside audio streams:
// positions, orientations and axis-aligned zones.
package spatial

// Vec3 is a point or direction in world space.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is an orientation quaternion stored as (x, y, z, w).
type Quat struct {
	X, Y, Z, W float32
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// Box is an axis-aligned zone described by its minimum corner and its size
// along each axis.
type Box struct {
	Corner     Vec3 `yaml:"corner" json:"corner"`
	Dimensions Vec3 `yaml:"dimensions" json:"dimensions"`
}

// Contains reports whether p lies inside b. Faces are inclusive. A nil box
// contains nothing.
func (b *Box) Contains(p Vec3) bool {
	if b == nil {
		return false
	}
	return within(p.X, b.Corner.X, b.Dimensions.X) &&
		within(p.Y, b.Corner.Y, b.Dimensions.Y) &&
		within(p.Z, b.Corner.Z, b.Dimensions.Z)
}

func within(v, lo, size float32) bool {
	return v >= lo && v <= lo+size
}
