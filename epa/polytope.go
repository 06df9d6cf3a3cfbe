package epa

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/akmonengine/tether/gjk"
	"github.com/go-gl/mathgl/mgl64"
)

// PolytopeBuilder holds the faces of the expanding polytope and the scratch
// buffers used while adding a point. Builders are pooled and reused.
type PolytopeBuilder struct {
	faces []Face

	// sorted, deduplicated vertices used for the centroid
	uniquePoints []mgl64.Vec3

	// edges of the visible region, normalized so that A < B
	edges []EdgeEntry

	visible []bool
}

// EdgeEntry counts how many visible faces share an edge. Edges seen exactly
// once form the horizon.
type EdgeEntry struct {
	A, B  mgl64.Vec3
	Count int
}

var polytopeBuilderPool = sync.Pool{
	New: func() interface{} {
		return &PolytopeBuilder{
			faces:        make([]Face, 0, polytopeInitialCapacity),
			uniquePoints: make([]mgl64.Vec3, 0, polytopeInitialCapacity),
			edges:        make([]EdgeEntry, 0, polytopeInitialCapacity),
			visible:      make([]bool, 0, polytopeInitialCapacity),
		}
	},
}

func (b *PolytopeBuilder) Reset() {
	b.faces = b.faces[:0]
	b.uniquePoints = b.uniquePoints[:0]
	b.edges = b.edges[:0]
	b.visible = b.visible[:0]
}

// BuildInitialFaces creates the four faces of the GJK tetrahedron
func (b *PolytopeBuilder) BuildInitialFaces(simplex *gjk.Simplex) error {
	if simplex.Count != 4 {
		return fmt.Errorf("invalid simplex count: %d (expected 4)", simplex.Count)
	}

	p0, p1, p2, p3 := simplex.Points[0], simplex.Points[1], simplex.Points[2], simplex.Points[3]
	candidates := [4]Face{
		createFaceOutward(p0, p1, p2, p3),
		createFaceOutward(p0, p2, p3, p1),
		createFaceOutward(p0, p3, p1, p2),
		createFaceOutward(p1, p3, p2, p0),
	}

	for _, face := range candidates {
		if face.Distance >= EPAMinFaceDistance {
			b.faces = append(b.faces, face)
		}
	}

	// the origin sits on the tetrahedron surface, keep everything
	if len(b.faces) < 3 {
		b.faces = append(b.faces[:0], candidates[:]...)
	}

	return nil
}

// createFaceOutward builds a face whose normal points away from opposite and
// away from the origin.
func createFaceOutward(p0, p1, p2, opposite mgl64.Vec3) Face {
	face := Face{Points: [3]mgl64.Vec3{p0, p1, p2}}

	normal := p1.Sub(p0).Cross(p2.Sub(p0))
	length := math.Sqrt(normal.Dot(normal))
	if length < 1e-8 {
		face.Normal = mgl64.Vec3{0, 1, 0}
		face.Distance = EPAMinFaceDistance
		return face
	}
	normal = normal.Mul(1.0 / length)

	if normal.Dot(opposite.Sub(p0)) > 0 {
		normal = normal.Mul(-1)
	}

	distance := p0.Dot(normal)
	if distance < 0 {
		normal = normal.Mul(-1)
		distance = -distance
	}
	if distance < EPAMinFaceDistance {
		distance = EPAMinFaceDistance
	}

	face.Normal = snapNormalToAxis(normal)
	face.Distance = distance
	return face
}

// FindClosestFaceIndex returns the closest face, the first one on ties.
// It returns -1 on an empty polytope.
func (b *PolytopeBuilder) FindClosestFaceIndex() int {
	if len(b.faces) == 0 {
		return -1
	}

	closest := 0
	for i := 1; i < len(b.faces); i++ {
		if b.faces[i].Distance < b.faces[closest].Distance {
			closest = i
		}
	}
	return closest
}

func (b *PolytopeBuilder) removeFace(index int) {
	b.faces = append(b.faces[:index], b.faces[index+1:]...)
}

// calculateCentroid averages the distinct vertices of the polytope. Points are
// kept sorted so the sum is accumulated in the same order every time.
func (b *PolytopeBuilder) calculateCentroid() mgl64.Vec3 {
	b.uniquePoints = b.uniquePoints[:0]

	for i := range b.faces {
		for _, point := range b.faces[i].Points {
			index := sort.Search(len(b.uniquePoints), func(k int) bool {
				return compareVec3(b.uniquePoints[k], point) >= 0
			})
			if index < len(b.uniquePoints) && vec3Equal(b.uniquePoints[index], point) {
				continue
			}
			b.uniquePoints = append(b.uniquePoints, mgl64.Vec3{})
			copy(b.uniquePoints[index+1:], b.uniquePoints[index:])
			b.uniquePoints[index] = point
		}
	}

	if len(b.uniquePoints) == 0 {
		return mgl64.Vec3{}
	}

	var sum mgl64.Vec3
	for _, point := range b.uniquePoints {
		sum = sum.Add(point)
	}
	return sum.Mul(1.0 / float64(len(b.uniquePoints)))
}

// markVisibleFaces flags the faces the support point lies in front of
func (b *PolytopeBuilder) markVisibleFaces(support mgl64.Vec3) int {
	b.visible = b.visible[:0]
	count := 0
	for i := range b.faces {
		seen := support.Sub(b.faces[i].Points[0]).Dot(b.faces[i].Normal) > 0
		b.visible = append(b.visible, seen)
		if seen {
			count++
		}
	}
	return count
}

func (b *PolytopeBuilder) collectHorizon() {
	b.edges = b.edges[:0]

	for i := range b.faces {
		if !b.visible[i] {
			continue
		}
		p := b.faces[i].Points
		for _, edge := range [3][2]mgl64.Vec3{{p[0], p[1]}, {p[1], p[2]}, {p[2], p[0]}} {
			a, c := edge[0], edge[1]
			if compareVec3(a, c) > 0 {
				a, c = c, a
			}
			if index := b.findEdgeIndex(a, c); index >= 0 {
				b.edges[index].Count++
				continue
			}
			b.edges = append(b.edges, EdgeEntry{A: a, B: c, Count: 1})
		}
	}
}

func (b *PolytopeBuilder) findEdgeIndex(a, c mgl64.Vec3) int {
	for i := range b.edges {
		if vec3Equal(b.edges[i].A, a) && vec3Equal(b.edges[i].B, c) {
			return i
		}
	}
	return -1
}

// AddPointAndRebuildFaces removes every face visible from support and stitches
// the horizon to it. Surviving faces keep their relative order and new faces
// are appended in horizon order.
func (b *PolytopeBuilder) AddPointAndRebuildFaces(support mgl64.Vec3, closestIndex int) {
	centroid := b.calculateCentroid()

	if count := b.markVisibleFaces(support); count == len(b.faces) || count == 0 {
		// never remove the whole polytope
		for i := range b.visible {
			b.visible[i] = i == closestIndex
		}
	}

	b.collectHorizon()

	kept := b.faces[:0]
	for i, face := range b.faces {
		if !b.visible[i] {
			kept = append(kept, face)
		}
	}
	b.faces = kept

	for _, edge := range b.edges {
		if edge.Count == 1 {
			b.faces = append(b.faces, createFaceOutward(edge.A, edge.B, support, centroid))
		}
	}

	if len(b.faces) == 0 {
		b.faces = append(b.faces, Face{
			Points:   [3]mgl64.Vec3{support, support, support},
			Normal:   mgl64.Vec3{0, 1, 0},
			Distance: EPAMinFaceDistance,
		})
	}
}
