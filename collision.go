package tether

import (
	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/epa"
	"github.com/akmonengine/tether/gjk"
	"github.com/go-gl/mathgl/mgl64"
)

// BroadPhase rebuilds the grid from the current AABBs and returns the sorted
// candidate pairs.
func BroadPhase(spatialGrid *SpatialGrid, bodies []*actor.RigidBody, margin float64, workersCount int) []Pair {
	spatialGrid.Rebuild(bodies, margin)
	return spatialGrid.FindPairs(bodies, workersCount)
}

// NarrowPhase computes the manifold of each candidate pair. Pairs are split in
// contiguous chunks and every result is written at the index of its pair, so
// the output keeps the (A, B) order of the input whatever the worker count.
func NarrowPhase(pairs []Pair, margin float64, workersCount int) []constraint.Manifold {
	results := make([]constraint.Manifold, len(pairs))
	hit := make([]bool, len(pairs))

	task(workersCount, chunkRanges(len(pairs), workersCount), func(c chunk) {
		for i := c.start; i < c.end; i++ {
			results[i], hit[i] = collide(pairs[i].BodyA, pairs[i].BodyB, margin)
		}
	})

	manifolds := make([]constraint.Manifold, 0, len(pairs))
	for i := range results {
		if hit[i] {
			manifolds = append(manifolds, results[i])
		}
	}
	return manifolds
}

// collide dispatches a pair to the analytic plane and sphere paths or to GJK/EPA
func collide(a, b *actor.RigidBody, margin float64) (constraint.Manifold, bool) {
	_, aIsPlane := a.Shape.(*actor.Plane)
	_, bIsPlane := b.Shape.(*actor.Plane)

	switch {
	case aIsPlane && bIsPlane:
		return constraint.Manifold{}, false
	case aIsPlane || bIsPlane:
		return collidePlane(a, b, margin)
	}

	sphereA, aIsSphere := a.Shape.(*actor.Sphere)
	sphereB, bIsSphere := b.Shape.(*actor.Sphere)
	if aIsSphere && bIsSphere {
		return collideSpheres(a, b, sphereA.Radius, sphereB.Radius, margin)
	}

	simplex := gjk.SimplexPool.Get().(*gjk.Simplex)
	defer gjk.SimplexPool.Put(simplex)
	simplex.Reset()

	if !gjk.GJK(a, b, simplex) {
		return constraint.Manifold{}, false
	}

	manifold, err := epa.EPA(a, b, simplex)
	if err != nil || len(manifold.Points) == 0 {
		return constraint.Manifold{}, false
	}
	return manifold, true
}

// collidePlane tests the non-plane body against the plane analytically. The
// normal points from A to B, so it is flipped when the plane is B.
func collidePlane(a, b *actor.RigidBody, margin float64) (constraint.Manifold, bool) {
	planeBody, object := a, b
	if _, ok := b.Shape.(*actor.Plane); ok {
		planeBody, object = b, a
	}
	plane := planeBody.Shape.(*actor.Plane)

	result := object.Shape.CollideWithPlane(plane.Normal, plane.Distance, object.Transform, margin)
	if len(result) == 0 {
		return constraint.Manifold{}, false
	}

	normal := plane.Normal
	if planeBody == b {
		normal = normal.Mul(-1)
	}

	points := make([]constraint.ContactPoint, len(result))
	for i, point := range result {
		points[i] = constraint.ContactPoint{Position: point.Position, Penetration: point.Penetration}
	}
	epa.SortContactPoints(points)

	return constraint.Manifold{BodyA: a.ID(), BodyB: b.ID(), Normal: normal, Points: points}, true
}

// collideSpheres produces a single contact halfway between the two surfaces
func collideSpheres(a, b *actor.RigidBody, radiusA, radiusB, margin float64) (constraint.Manifold, bool) {
	delta := b.Transform.Position.Sub(a.Transform.Position)
	distance := delta.Len()

	separation := distance - radiusA - radiusB
	if separation >= margin {
		return constraint.Manifold{}, false
	}

	normal := mgl64.Vec3{0, 1, 0}
	if distance > 1e-9 {
		normal = delta.Mul(1.0 / distance)
	}

	surfaceA := a.Transform.Position.Add(normal.Mul(radiusA))
	surfaceB := b.Transform.Position.Sub(normal.Mul(radiusB))

	return constraint.Manifold{
		BodyA:  a.ID(),
		BodyB:  b.ID(),
		Normal: normal,
		Points: []constraint.ContactPoint{{
			Position:    surfaceA.Add(surfaceB).Mul(0.5),
			Penetration: -separation,
		}},
	}, true
}
