// Package island partitions awake dynamic bodies into groups that share no
// constraint, so each group can be solved on its own goroutine.
//
// Static and kinematic bodies are never members: they are read but never
// written by the solver, so a constraint against the ground does not merge
// two islands resting on it.
package island

import (
	"fmt"
	"sort"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
)

// Island is a connected component of the awake constraint graph.
type Island struct {
	// Bodies in ascending id order
	Bodies []*actor.RigidBody
	// Constraints in solve order: joints by id, then contacts by body pair
	Constraints []constraint.Constraint
}

// MinID is the smallest member id, islands are ordered by it
func (i *Island) MinID() actor.BodyID {
	return i.Bodies[0].ID()
}

// CanSleep reports whether every member has been slow for framesToSleep frames
func (i *Island) CanSleep(framesToSleep int) bool {
	for _, body := range i.Bodies {
		if body.LowMotionFrames < framesToSleep {
			return false
		}
	}
	return true
}

// Builder is reused across steps to keep its scratch slices.
type Builder struct {
	// slot index -> position in bodies, -1 for non members
	position []int32
	parent   []int32
	rank     []uint8
	root     []int32
}

func (b *Builder) find(x int32) int32 {
	for b.parent[x] != x {
		b.parent[x] = b.parent[b.parent[x]]
		x = b.parent[x]
	}
	return x
}

func (b *Builder) union(x, y int32) {
	rx, ry := b.find(x), b.find(y)
	if rx == ry {
		return
	}
	switch {
	case b.rank[rx] < b.rank[ry]:
		b.parent[rx] = ry
	case b.rank[rx] > b.rank[ry]:
		b.parent[ry] = rx
	default:
		b.parent[ry] = rx
		b.rank[rx]++
	}
}

func (b *Builder) reset(bodies []*actor.RigidBody) {
	size := 0
	if n := len(bodies); n > 0 {
		size = int(bodies[n-1].ID().Index) + 1
	}
	b.position = resize(b.position, size)
	for i := range b.position {
		b.position[i] = -1
	}

	b.parent = resize(b.parent, len(bodies))
	b.root = resize(b.root, len(bodies))
	if cap(b.rank) < len(bodies) {
		b.rank = make([]uint8, len(bodies))
	}
	b.rank = b.rank[:len(bodies)]

	for i, body := range bodies {
		b.parent[i] = int32(i)
		b.rank[i] = 0
		b.root[i] = -1
		if body.IsAwakeDynamic() {
			b.position[body.ID().Index] = int32(i)
		}
	}
}

func resize(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}

func (b *Builder) member(body *actor.RigidBody) int32 {
	index := int(body.ID().Index)
	if index >= len(b.position) {
		return -1
	}
	return b.position[index]
}

// Build partitions the awake dynamic bodies. bodies must be in ascending id
// order, as returned by actor.Store.Bodies. Constraints touching no awake
// dynamic body are dropped. Callers wake sleeping bodies touched by awake ones
// beforehand (see WakeTouched), otherwise a sleeping body could be written by
// the solver without being a member.
func (b *Builder) Build(bodies []*actor.RigidBody, constraints []constraint.Constraint) []*Island {
	b.reset(bodies)

	for _, c := range constraints {
		bodyA, bodyB := c.Bodies()
		pa, pb := b.member(bodyA), b.member(bodyB)
		if pa >= 0 && pb >= 0 {
			b.union(pa, pb)
		}
	}

	var islands []*Island
	for i, body := range bodies {
		if !body.IsAwakeDynamic() {
			continue
		}
		r := b.find(int32(i))
		if b.root[r] < 0 {
			b.root[r] = int32(len(islands))
			islands = append(islands, &Island{})
		}
		island := islands[b.root[r]]
		island.Bodies = append(island.Bodies, body)
	}

	for _, c := range constraints {
		bodyA, bodyB := c.Bodies()
		p := b.member(bodyA)
		if p < 0 {
			p = b.member(bodyB)
		}
		if p < 0 {
			continue
		}
		island := islands[b.root[b.find(p)]]
		island.Constraints = append(island.Constraints, c)
	}

	for _, island := range islands {
		sort.SliceStable(island.Constraints, func(i, j int) bool {
			return island.Constraints[i].Key().Less(island.Constraints[j].Key())
		})
	}

	return islands
}

// WakeTouched wakes sleeping dynamic bodies linked by a constraint to an awake
// dynamic body or a moving kinematic one, repeating until no body changes. It returns the woken bodies
// in the order they woke.
func WakeTouched(constraints []constraint.Constraint) []*actor.RigidBody {
	var woken []*actor.RigidBody
	for changed := true; changed; {
		changed = false
		for _, c := range constraints {
			bodyA, bodyB := c.Bodies()
			if bodyA.IsTrigger || bodyB.IsTrigger {
				continue
			}
			for _, pair := range [2][2]*actor.RigidBody{{bodyA, bodyB}, {bodyB, bodyA}} {
				awake, other := pair[0], pair[1]
				if (awake.IsAwakeDynamic() || awake.IsMovingKinematic()) && other.IsDynamic() && other.IsSleeping {
					other.Wake()
					woken = append(woken, other)
					changed = true
				}
			}
		}
	}
	return woken
}

// Validate checks the partition: every body belongs to at most one island and
// every constraint only touches members of its own island or non-dynamic bodies.
func Validate(islands []*Island) error {
	owner := make(map[actor.BodyID]int)
	for i, island := range islands {
		for _, body := range island.Bodies {
			if !body.IsAwakeDynamic() {
				return fmt.Errorf("island %d: body %s is not awake and dynamic", i, body.ID())
			}
			if j, ok := owner[body.ID()]; ok {
				return fmt.Errorf("body %s is in islands %d and %d", body.ID(), j, i)
			}
			owner[body.ID()] = i
		}
	}

	for i, island := range islands {
		for _, c := range island.Constraints {
			bodyA, bodyB := c.Bodies()
			for _, body := range [2]*actor.RigidBody{bodyA, bodyB} {
				if !body.IsDynamic() {
					continue
				}
				if j, ok := owner[body.ID()]; !ok || j != i {
					return fmt.Errorf("island %d: constraint %s crosses into body %s", i, c.Key(), body.ID())
				}
			}
		}
	}
	return nil
}
