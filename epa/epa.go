// Package epa computes penetration depth and contact manifolds for bodies that
// GJK found overlapping.
//
// The Expanding Polytope Algorithm grows a polytope inside the Minkowski
// difference, starting from the GJK tetrahedron, until the face closest to the
// origin lies on its boundary. That face gives the contact normal and depth.
// Contact points are then produced by clipping the two contact features
// against each other.
//
// Faces and edges live in slices and are always scanned in insertion order,
// so ties resolve the same way on every run.
package epa

import (
	"fmt"
	"math"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/gjk"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	// EPAMaxIterations limits polytope expansion
	EPAMaxIterations = 32

	// EPAConvergenceTolerance stops the expansion once a new support point
	// improves the closest distance by less than this
	EPAConvergenceTolerance = 0.001

	// EPAMinFaceDistance discards faces touching or behind the origin
	EPAMinFaceDistance = 0.0001

	// NormalSnapThreshold clamps nearly-zero normal components to zero
	NormalSnapThreshold = 1e-8

	// DegeneratePenetrationEstimate is used when GJK ended with a single point
	DegeneratePenetrationEstimate = 0.01

	polytopeInitialCapacity = 4
)

// EPA returns the contact manifold of two overlapping bodies. The normal of
// the manifold points from a toward b.
func EPA(a, b *actor.RigidBody, simplex *gjk.Simplex) (constraint.Manifold, error) {
	if simplex.Count < 4 {
		return degenerateManifold(a, b, simplex), nil
	}

	builder := polytopeBuilderPool.Get().(*PolytopeBuilder)
	defer polytopeBuilderPool.Put(builder)
	builder.Reset()

	if err := builder.BuildInitialFaces(simplex); err != nil {
		return constraint.Manifold{}, err
	}

	for i := 0; i < EPAMaxIterations; i++ {
		if len(builder.faces) == 0 {
			break
		}

		closestIndex := builder.FindClosestFaceIndex()
		closest := builder.faces[closestIndex]

		if closest.Distance < EPAMinFaceDistance {
			builder.removeFace(closestIndex)
			continue
		}

		support := gjk.MinkowskiSupport(a, b, closest.Normal)
		if support.Dot(closest.Normal)-closest.Distance < EPAConvergenceTolerance {
			return newManifold(a, b, closest.Normal, closest.Distance), nil
		}

		builder.AddPointAndRebuildFaces(support, closestIndex)
	}

	// not converged: the closest face is still the best estimate available
	if closestIndex := builder.FindClosestFaceIndex(); closestIndex >= 0 {
		closest := builder.faces[closestIndex]
		return newManifold(a, b, closest.Normal, closest.Distance), nil
	}
	return constraint.Manifold{}, fmt.Errorf("EPA: polytope collapsed after %d iterations", EPAMaxIterations)
}

func newManifold(a, b *actor.RigidBody, normal mgl64.Vec3, depth float64) constraint.Manifold {
	return constraint.Manifold{
		BodyA:  a.ID(),
		BodyB:  b.ID(),
		Normal: normal,
		Points: GenerateManifold(a, b, normal, depth),
	}
}

// degenerateManifold estimates a contact when GJK could not build a tetrahedron,
// which happens when the shapes barely touch.
func degenerateManifold(a, b *actor.RigidBody, simplex *gjk.Simplex) constraint.Manifold {
	if simplex.Count >= 2 {
		p0, p1 := simplex.Points[0], simplex.Points[1]
		d0, d1 := p0.Len(), p1.Len()

		// the origin lies on the segment: the nearer end is the shallowest exit
		if d0 < d1 && d0 > NormalSnapThreshold {
			return newManifold(a, b, p0.Mul(1/d0), d0)
		}
		if d1 > NormalSnapThreshold {
			return newManifold(a, b, p1.Mul(1/d1), d1)
		}
	}

	normal := b.Center().Sub(a.Center())
	length := normal.Len()
	if length < NormalSnapThreshold {
		normal = mgl64.Vec3{0, 1, 0}
	} else {
		normal = normal.Mul(1.0 / length)
	}

	return newManifold(a, b, normal, math.Min(DegeneratePenetrationEstimate, length))
}
