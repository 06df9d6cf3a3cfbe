package epa

import (
	"math"
	"sort"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// MaxManifoldPoints is the largest manifold kept per body pair
const MaxManifoldPoints = 4

// GenerateManifold builds 1 to 4 contact points for two overlapping bodies
// using Sutherland-Hodgman clipping:
//  1. pick the contact feature of each shape along the normal
//  2. clip the incident feature (fewer points) against the side planes of the reference feature
//  3. keep the clipped points lying behind the reference face
//  4. reduce to the 4 extreme points along the contact tangents
//
// The result is sorted by position, so manifolds compare equal across runs.
func GenerateManifold(bodyA, bodyB *actor.RigidBody, normal mgl64.Vec3, depth float64) []constraint.ContactPoint {
	featureA := worldFeature(bodyA, normal)
	featureB := worldFeature(bodyB, normal.Mul(-1))

	incident, reference := featureB, featureA
	if len(featureB) > len(featureA) {
		incident, reference = featureA, featureB
	}

	if len(incident) == 1 {
		return []constraint.ContactPoint{{Position: incident[0], Penetration: depth}}
	}

	clipped := clipIncidentAgainstReference(incident, reference, normal)

	var points []constraint.ContactPoint
	if len(clipped) > 0 && len(reference) >= 3 {
		refNormal := reference[1].Sub(reference[0]).Cross(reference[2].Sub(reference[0])).Normalize()
		if refNormal.Dot(normal) < 0 {
			refNormal = refNormal.Mul(-1)
		}
		offset := reference[0].Dot(refNormal)

		for _, point := range clipped {
			if point.Dot(refNormal)-offset <= 0 {
				points = append(points, constraint.ContactPoint{Position: point, Penetration: depth})
			}
		}
	}

	if len(points) == 0 {
		points = append(points, constraint.ContactPoint{
			Position:    bodyB.SupportWorld(normal.Mul(-1)),
			Penetration: depth,
		})
	}

	if len(points) > MaxManifoldPoints {
		points = reduceTo4Points(points, normal)
	}

	SortContactPoints(points)
	return points
}

// SortContactPoints orders points lexicographically by position
func SortContactPoints(points []constraint.ContactPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return compareVec3(points[i].Position, points[j].Position) < 0
	})
}

// worldFeature returns the contact feature of a body along a world direction
func worldFeature(body *actor.RigidBody, direction mgl64.Vec3) []mgl64.Vec3 {
	if body.Shape.Type() == actor.ShapeTypePlane {
		return body.Shape.ContactFeature(direction)
	}

	local := body.Shape.ContactFeature(body.Transform.InverseRotation.Rotate(direction))
	world := make([]mgl64.Vec3, len(local))
	for i, point := range local {
		world[i] = body.Transform.ToWorld(point)
	}
	return world
}

// clipIncidentAgainstReference trims the incident polygon to the side planes
// of the reference polygon. Planes and degenerate references do not clip.
func clipIncidentAgainstReference(incident, reference []mgl64.Vec3, normal mgl64.Vec3) []mgl64.Vec3 {
	if len(reference) < 2 || isLargePlane(reference) {
		return incident
	}

	center := computeCenter(reference)
	output := incident
	for i := 0; i < len(reference) && len(output) > 0; i++ {
		v1 := reference[i]
		v2 := reference[(i+1)%len(reference)]

		clipNormal := v2.Sub(v1).Cross(normal).Normalize()
		if center.Sub(v1).Dot(clipNormal) < 0 {
			clipNormal = clipNormal.Mul(-1)
		}

		output = clipPolygonAgainstPlane(output, v1, clipNormal)
	}

	return output
}

// clipPolygonAgainstPlane is one Sutherland-Hodgman pass
func clipPolygonAgainstPlane(polygon []mgl64.Vec3, planePoint, planeNormal mgl64.Vec3) []mgl64.Vec3 {
	const tolerance = 1e-6

	output := make([]mgl64.Vec3, 0, len(polygon)+1)
	for i := range polygon {
		current := polygon[i]
		next := polygon[(i+1)%len(polygon)]

		currentInside := current.Sub(planePoint).Dot(planeNormal) >= -tolerance
		nextInside := next.Sub(planePoint).Dot(planeNormal) >= -tolerance

		if currentInside {
			output = append(output, current)
		}
		if currentInside != nextInside {
			output = append(output, lineIntersectPlane(current, next, planePoint, planeNormal))
		}
	}

	return output
}

func lineIntersectPlane(p1, p2, planePoint, planeNormal mgl64.Vec3) mgl64.Vec3 {
	dir := p2.Sub(p1)
	denom := dir.Dot(planeNormal)
	if math.Abs(denom) < 1e-10 {
		return p1
	}

	t := -p1.Sub(planePoint).Dot(planeNormal) / denom
	t = math.Max(0, math.Min(1, t))
	return p1.Add(dir.Mul(t))
}

func computeCenter(points []mgl64.Vec3) mgl64.Vec3 {
	if len(points) == 0 {
		return mgl64.Vec3{}
	}

	var sum mgl64.Vec3
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1.0 / float64(len(points)))
}

// isLargePlane detects the square returned by Plane.ContactFeature
func isLargePlane(feature []mgl64.Vec3) bool {
	if len(feature) != 4 {
		return false
	}
	for i := 0; i < len(feature); i++ {
		for j := i + 1; j < len(feature); j++ {
			if feature[i].Sub(feature[j]).Len() > 100 {
				return true
			}
		}
	}
	return false
}

// reduceTo4Points keeps the extreme points along both tangents. Indices are
// collected in a fixed order and deduplicated, so the survivors keep their
// original relative order.
func reduceTo4Points(points []constraint.ContactPoint, normal mgl64.Vec3) []constraint.ContactPoint {
	tangent1, tangent2 := actor.TangentBasis(normal)

	var extremes [4]int
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		x := p.Position.Dot(tangent1)
		y := p.Position.Dot(tangent2)
		if x < minX {
			minX, extremes[0] = x, i
		}
		if x > maxX {
			maxX, extremes[1] = x, i
		}
		if y < minY {
			minY, extremes[2] = y, i
		}
		if y > maxY {
			maxY, extremes[3] = y, i
		}
	}

	keep := make([]bool, len(points))
	for _, index := range extremes {
		keep[index] = true
	}

	result := make([]constraint.ContactPoint, 0, MaxManifoldPoints)
	for i, p := range points {
		if keep[i] {
			result = append(result, p)
		}
	}
	return result
}
