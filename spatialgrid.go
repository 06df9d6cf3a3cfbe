package tether

import (
	"math"
	"sort"

	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// maxCellsPerAxis is the widest body, in cells, inserted in the grid. Wider
// bodies (planes, huge boxes) are tested against every body instead.
const maxCellsPerAxis = 16

// CellKey is the integer coordinate of a grid cell
type CellKey struct {
	X, Y, Z int
}

// Cell holds the indices of the bodies overlapping it, in ascending order
type Cell struct {
	bodyIndices []int
}

// Pair is a broad phase candidate. BodyA always has the smaller id.
type Pair struct {
	BodyA *actor.RigidBody
	BodyB *actor.RigidBody

	indexA, indexB int
}

// SpatialGrid is a uniform hashed grid over body AABBs. Several cells may hash
// to the same slot: this only adds false positives, never misses a pair.
type SpatialGrid struct {
	cellSize float64
	cells    []Cell
	cellMask int
	margin   float64

	// indices of bodies too large for the grid
	oversized []int
}

func NewSpatialGrid(cellSize float64, numCells int) *SpatialGrid {
	numCells = nextPowerOfTwo(numCells)

	cells := make([]Cell, numCells)
	for i := range cells {
		cells[i].bodyIndices = make([]int, 0, 8)
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cells:    cells,
		cellMask: numCells - 1,
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

func (sg *SpatialGrid) bounds(body *actor.RigidBody) actor.AABB {
	return body.AABB().Expand(sg.margin)
}

// cellRange returns the cells covered by body, ok is false for oversized bodies
func (sg *SpatialGrid) cellRange(body *actor.RigidBody) (min, max CellKey, ok bool) {
	aabb := sg.bounds(body)
	for i := 0; i < 3; i++ {
		if (aabb.Max[i]-aabb.Min[i])/sg.cellSize > maxCellsPerAxis {
			return CellKey{}, CellKey{}, false
		}
	}
	return sg.worldToCell(aabb.Min), sg.worldToCell(aabb.Max), true
}

// Insert adds a body to every cell it overlaps
func (sg *SpatialGrid) Insert(bodyIndex int, body *actor.RigidBody) {
	minCell, maxCell, ok := sg.cellRange(body)
	if !ok {
		sg.oversized = append(sg.oversized, bodyIndex)
		return
	}

	for x := minCell.X; x <= maxCell.X; x++ {
		for y := minCell.Y; y <= maxCell.Y; y++ {
			for z := minCell.Z; z <= maxCell.Z; z++ {
				cell := &sg.cells[sg.hashCell(CellKey{x, y, z})]
				// a body spanning several cells can hash twice to the same slot
				if n := len(cell.bodyIndices); n > 0 && cell.bodyIndices[n-1] == bodyIndex {
					continue
				}
				cell.bodyIndices = append(cell.bodyIndices, bodyIndex)
			}
		}
	}
}

func (sg *SpatialGrid) Clear() {
	for i := range sg.cells {
		sg.cells[i].bodyIndices = sg.cells[i].bodyIndices[:0]
	}
	sg.oversized = sg.oversized[:0]
}

// SortCells is only needed when bodies were inserted out of index order
func (sg *SpatialGrid) SortCells() {
	for i := range sg.cells {
		if len(sg.cells[i].bodyIndices) > 1 {
			sort.Ints(sg.cells[i].bodyIndices)
		}
	}
}

// Rebuild clears the grid and inserts bodies in order
func (sg *SpatialGrid) Rebuild(bodies []*actor.RigidBody, margin float64) {
	sg.Clear()
	sg.margin = margin
	for i, body := range bodies {
		sg.Insert(i, body)
	}
}

// candidate filters a pair: one side must be able to push the other, either
// an awake dynamic body or a moving kinematic body against a dynamic one,
// sleeping or not.
func (sg *SpatialGrid) candidate(bodyA, bodyB *actor.RigidBody) bool {
	if !disturbs(bodyA, bodyB) && !disturbs(bodyB, bodyA) {
		return false
	}
	return sg.bounds(bodyA).Overlaps(sg.bounds(bodyB))
}

func disturbs(mover, other *actor.RigidBody) bool {
	return mover.IsAwakeDynamic() || (mover.IsMovingKinematic() && other.IsDynamic())
}

// FindPairs returns every candidate pair sorted by (A, B) id. Bodies are split
// into contiguous chunks scanned in parallel; each body only looks for partners
// with a larger index, so a pair is produced exactly once.
func (sg *SpatialGrid) FindPairs(bodies []*actor.RigidBody, workers int) []Pair {
	chunks := chunkRanges(len(bodies), workers)
	results := make([][]Pair, len(chunks))

	task(workers, chunks, func(c chunk) {
		// seen[other] == bodyIdx+1 when other was already tested against bodyIdx
		seen := make([]int, len(bodies))
		var pairs []Pair

		for bodyIdx := c.start; bodyIdx < c.end; bodyIdx++ {
			bodyA := bodies[bodyIdx]

			minCell, maxCell, inGrid := sg.cellRange(bodyA)
			if !inGrid {
				// oversized bodies test every larger index directly
				for otherIdx := bodyIdx + 1; otherIdx < len(bodies); otherIdx++ {
					if sg.candidate(bodyA, bodies[otherIdx]) {
						pairs = append(pairs, Pair{BodyA: bodyA, BodyB: bodies[otherIdx], indexA: bodyIdx, indexB: otherIdx})
					}
				}
				continue
			}

			for x := minCell.X; x <= maxCell.X; x++ {
				for y := minCell.Y; y <= maxCell.Y; y++ {
					for z := minCell.Z; z <= maxCell.Z; z++ {
						for _, otherIdx := range sg.cells[sg.hashCell(CellKey{x, y, z})].bodyIndices {
							if otherIdx <= bodyIdx || seen[otherIdx] == bodyIdx+1 {
								continue
							}
							seen[otherIdx] = bodyIdx + 1

							if sg.candidate(bodyA, bodies[otherIdx]) {
								pairs = append(pairs, Pair{BodyA: bodyA, BodyB: bodies[otherIdx], indexA: bodyIdx, indexB: otherIdx})
							}
						}
					}
				}
			}

			// oversized bodies with a larger index are not in any cell
			for _, otherIdx := range sg.oversized {
				if otherIdx > bodyIdx && sg.candidate(bodyA, bodies[otherIdx]) {
					pairs = append(pairs, Pair{BodyA: bodyA, BodyB: bodies[otherIdx], indexA: bodyIdx, indexB: otherIdx})
				}
			}
		}

		results[c.index] = pairs
	})

	var total int
	for _, pairs := range results {
		total += len(pairs)
	}
	all := make([]Pair, 0, total)
	for _, pairs := range results {
		all = append(all, pairs...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].indexA != all[j].indexA {
			return all[i].indexA < all[j].indexA
		}
		return all[i].indexB < all[j].indexB
	})
	return all
}

func (sg *SpatialGrid) worldToCell(pos mgl64.Vec3) CellKey {
	return CellKey{
		X: int(math.Floor(pos.X() / sg.cellSize)),
		Y: int(math.Floor(pos.Y() / sg.cellSize)),
		Z: int(math.Floor(pos.Z() / sg.cellSize)),
	}
}

func (sg *SpatialGrid) hashCell(key CellKey) int {
	h := (key.X * 73856093) ^ (key.Y * 19349663) ^ (key.Z * 83492791)
	return h & sg.cellMask
}
