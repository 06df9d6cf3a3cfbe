package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ShapeType represents the type of collision shape
type ShapeType int

const (
	ShapeTypeSphere ShapeType = iota
	ShapeTypeBox
	ShapeTypePlane
)

func (t ShapeType) String() string {
	switch t {
	case ShapeTypeSphere:
		return "sphere"
	case ShapeTypeBox:
		return "box"
	case ShapeTypePlane:
		return "plane"
	}
	return "unknown"
}

// PlaneContact is a point of a shape lying below (or within margin of) a plane.
// Penetration is positive when overlapping, negative when still separated.
type PlaneContact struct {
	Position    mgl64.Vec3
	Penetration float64
}

// Shape is implemented by every collision shape. Shapes are immutable once
// attached to a body, so the same shape value can be shared between bodies.
type Shape interface {
	Type() ShapeType
	// ComputeAABB returns the world bounds of the shape at the given transform
	ComputeAABB(transform Transform) AABB
	ComputeInertia(mass float64) mgl64.Mat3
	// Support returns the furthest local point along a local direction
	Support(direction mgl64.Vec3) mgl64.Vec3
	// ContactFeature returns the local vertices of the face/point most aligned with direction
	ContactFeature(direction mgl64.Vec3) []mgl64.Vec3
	// CollideWithPlane returns the shape points closer than margin to the plane n·p + d = 0
	CollideWithPlane(normal mgl64.Vec3, distance float64, transform Transform, margin float64) []PlaneContact
}

// Box represents an oriented box collision shape
// The box is defined by its half-extents (half-width, half-height, half-depth)
type Box struct {
	HalfExtents mgl64.Vec3
}

func (b *Box) Type() ShapeType { return ShapeTypeBox }

// corners returns the 8 local corners in a fixed order
func (b *Box) corners() [8]mgl64.Vec3 {
	hx, hy, hz := b.HalfExtents.X(), b.HalfExtents.Y(), b.HalfExtents.Z()
	return [8]mgl64.Vec3{
		{-hx, -hy, -hz},
		{+hx, -hy, -hz},
		{-hx, +hy, -hz},
		{+hx, +hy, -hz},
		{-hx, -hy, +hz},
		{+hx, -hy, +hz},
		{-hx, +hy, +hz},
		{+hx, +hy, +hz},
	}
}

func (b *Box) ComputeAABB(transform Transform) AABB {
	corners := b.corners()

	first := transform.ToWorld(corners[0])
	min, max := first, first
	for i := 1; i < len(corners); i++ {
		c := transform.ToWorld(corners[i])
		for axis := 0; axis < 3; axis++ {
			min[axis] = math.Min(min[axis], c[axis])
			max[axis] = math.Max(max[axis], c[axis])
		}
	}

	return AABB{Min: min, Max: max}
}

// Volume of the full box, 8 * hx * hy * hz
func (b *Box) Volume() float64 {
	return 8.0 * b.HalfExtents.X() * b.HalfExtents.Y() * b.HalfExtents.Z()
}

func (b *Box) ComputeInertia(mass float64) mgl64.Mat3 {
	x := b.HalfExtents.X() * 2
	y := b.HalfExtents.Y() * 2
	z := b.HalfExtents.Z() * 2

	// I = (m/12) * (d1² + d2²)
	factor := mass / 12.0
	return mgl64.Mat3{
		factor * (y*y + z*z), 0, 0,
		0, factor * (x*x + z*z), 0,
		0, 0, factor * (x*x + y*y),
	}
}

func (b *Box) Support(direction mgl64.Vec3) mgl64.Vec3 {
	hx, hy, hz := b.HalfExtents.X(), b.HalfExtents.Y(), b.HalfExtents.Z()

	if direction.X() < 0 {
		hx = -hx
	}
	if direction.Y() < 0 {
		hy = -hy
	}
	if direction.Z() < 0 {
		hz = -hz
	}

	return mgl64.Vec3{hx, hy, hz}
}

// ContactFeature returns the 4 vertices of the face whose normal is most aligned
// with direction, counter-clockwise seen from outside. Ties keep the first face
// in +X, -X, +Y, -Y, +Z, -Z order.
func (b *Box) ContactFeature(direction mgl64.Vec3) []mgl64.Vec3 {
	hx, hy, hz := b.HalfExtents.X(), b.HalfExtents.Y(), b.HalfExtents.Z()

	best := 0
	bestDot := math.Inf(-1)
	for axis := 0; axis < 3; axis++ {
		for _, sign := range [2]float64{1, -1} {
			dot := sign * direction[axis]
			face := axis*2 + int((1-sign)/2)
			if dot > bestDot {
				bestDot = dot
				best = face
			}
		}
	}

	switch best {
	case 0: // +X
		return []mgl64.Vec3{{hx, -hy, -hz}, {hx, hy, -hz}, {hx, hy, hz}, {hx, -hy, hz}}
	case 1: // -X
		return []mgl64.Vec3{{-hx, -hy, hz}, {-hx, hy, hz}, {-hx, hy, -hz}, {-hx, -hy, -hz}}
	case 2: // +Y
		return []mgl64.Vec3{{-hx, hy, -hz}, {-hx, hy, hz}, {hx, hy, hz}, {hx, hy, -hz}}
	case 3: // -Y
		return []mgl64.Vec3{{-hx, -hy, hz}, {-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, -hy, hz}}
	case 4: // +Z
		return []mgl64.Vec3{{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz}}
	default: // -Z
		return []mgl64.Vec3{{hx, -hy, -hz}, {-hx, -hy, -hz}, {-hx, hy, -hz}, {hx, hy, -hz}}
	}
}

func (b *Box) CollideWithPlane(normal mgl64.Vec3, distance float64, transform Transform, margin float64) []PlaneContact {
	var contacts []PlaneContact
	for _, corner := range b.corners() {
		world := transform.ToWorld(corner)
		separation := normal.Dot(world) + distance
		if separation < margin {
			contacts = append(contacts, PlaneContact{Position: world, Penetration: -separation})
		}
	}
	return contacts
}

// Sphere represents a spherical collision shape
type Sphere struct {
	Radius float64
}

func (s *Sphere) Type() ShapeType { return ShapeTypeSphere }

// ComputeAABB ignores rotation, a sphere is symmetric
func (s *Sphere) ComputeAABB(transform Transform) AABB {
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	return AABB{
		Min: transform.Position.Sub(r),
		Max: transform.Position.Add(r),
	}
}

// Volume of the sphere, (4/3) * π * r³
func (s *Sphere) Volume() float64 {
	return (4.0 / 3.0) * math.Pi * s.Radius * s.Radius * s.Radius
}

func (s *Sphere) ComputeInertia(mass float64) mgl64.Mat3 {
	i := (2.0 / 5.0) * mass * s.Radius * s.Radius
	return mgl64.Mat3{
		i, 0, 0,
		0, i, 0,
		0, 0, i,
	}
}

func (s *Sphere) Support(direction mgl64.Vec3) mgl64.Vec3 {
	length := direction.Len()
	if length < 1e-12 {
		return mgl64.Vec3{s.Radius, 0, 0}
	}
	return direction.Mul(s.Radius / length)
}

func (s *Sphere) ContactFeature(direction mgl64.Vec3) []mgl64.Vec3 {
	return []mgl64.Vec3{s.Support(direction)}
}

func (s *Sphere) CollideWithPlane(normal mgl64.Vec3, distance float64, transform Transform, margin float64) []PlaneContact {
	separation := normal.Dot(transform.Position) + distance - s.Radius
	if separation >= margin {
		return nil
	}
	return []PlaneContact{{
		Position:    transform.Position.Sub(normal.Mul(s.Radius)),
		Penetration: -separation,
	}}
}

// Plane represents an infinite world-space plane: Normal · p + Distance = 0.
// Planes are always attached to static bodies; the body transform is ignored.
type Plane struct {
	Normal   mgl64.Vec3 // must be normalized
	Distance float64
}

func (p *Plane) Type() ShapeType { return ShapeTypePlane }

func (p *Plane) ComputeAABB(transform Transform) AABB {
	const thickness = 1.0
	const infinity = 1e10

	planePoint := p.Normal.Mul(-p.Distance)
	min := planePoint.Sub(p.Normal.Mul(thickness))
	max := planePoint
	for axis := 0; axis < 3; axis++ {
		if min[axis] > max[axis] {
			min[axis], max[axis] = max[axis], min[axis]
		}
		// Only the axis fully aligned with the normal keeps finite bounds
		if math.Abs(p.Normal[axis]) < 1.0 {
			min[axis] = -infinity
			max[axis] = infinity
		}
	}

	return AABB{Min: min, Max: max}
}

func (p *Plane) ComputeInertia(mass float64) mgl64.Mat3 {
	return mgl64.Mat3{}
}

// Support treats the plane as a large thin slab below its surface
func (p *Plane) Support(direction mgl64.Vec3) mgl64.Vec3 {
	const halfSize = 1000.0
	const depth = 0.5

	t1, t2 := TangentBasis(p.Normal)
	point := p.Normal.Mul(-p.Distance)
	point = point.Add(t1.Mul(math.Copysign(halfSize, direction.Dot(t1))))
	point = point.Add(t2.Mul(math.Copysign(halfSize, direction.Dot(t2))))
	if direction.Dot(p.Normal) <= 0 {
		point = point.Sub(p.Normal.Mul(depth))
	}
	return point
}

// ContactFeature returns a large square on the plane surface
func (p *Plane) ContactFeature(direction mgl64.Vec3) []mgl64.Vec3 {
	const size = 1000.0

	t1, t2 := TangentBasis(p.Normal)
	center := p.Normal.Mul(-p.Distance)
	return []mgl64.Vec3{
		center.Add(t1.Mul(-size)).Add(t2.Mul(-size)),
		center.Add(t1.Mul(-size)).Add(t2.Mul(size)),
		center.Add(t1.Mul(size)).Add(t2.Mul(size)),
		center.Add(t1.Mul(size)).Add(t2.Mul(-size)),
	}
}

func (p *Plane) CollideWithPlane(normal mgl64.Vec3, distance float64, transform Transform, margin float64) []PlaneContact {
	return nil
}

// TangentBasis returns two unit vectors orthogonal to normal and to each other
func TangentBasis(normal mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	tangent1 := mgl64.Vec3{1, 0, 0}
	if math.Abs(normal.X()) > 0.9 {
		tangent1 = mgl64.Vec3{0, 1, 0}
	}

	tangent1 = tangent1.Sub(normal.Mul(tangent1.Dot(normal))).Normalize()
	tangent2 := normal.Cross(tangent1).Normalize()

	return tangent1, tangent2
}
