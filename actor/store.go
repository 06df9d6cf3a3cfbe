package actor

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrStaleHandle = errors.New("stale body handle")
)

// BodyID is a stable handle to a body: the arena slot plus the generation of
// the body living in it. Removing a body bumps the generation so older handles
// to the same slot are rejected. The zero BodyID is never issued.
type BodyID struct {
	Index      uint32
	Generation uint32
}

// Less orders handles by slot then generation, the canonical body order
func (id BodyID) Less(other BodyID) bool {
	if id.Index != other.Index {
		return id.Index < other.Index
	}
	return id.Generation < other.Generation
}

func (id BodyID) IsZero() bool {
	return id.Generation == 0
}

func (id BodyID) String() string {
	return fmt.Sprintf("%d:%d", id.Index, id.Generation)
}

type slot struct {
	body       *RigidBody
	generation uint32
}

// Store owns every rigid body of a world in an index-stable arena.
type Store struct {
	slots []slot
	free  []uint32
	count int

	// dense caches the live bodies in ascending id order
	dense      []*RigidBody
	denseDirty bool
}

func NewStore() *Store {
	return &Store{}
}

// Add inserts a body and returns its handle. Freed slots are reused lowest first.
func (s *Store) Add(body *RigidBody) BodyID {
	var index uint32
	if n := len(s.free); n > 0 {
		lowest := 0
		for i := 1; i < n; i++ {
			if s.free[i] < s.free[lowest] {
				lowest = i
			}
		}
		index = s.free[lowest]
		s.free = append(s.free[:lowest], s.free[lowest+1:]...)
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}

	sl := &s.slots[index]
	sl.generation++
	sl.body = body
	body.id = BodyID{Index: index, Generation: sl.generation}

	s.count++
	s.denseDirty = true
	return body.id
}

// Remove deletes the body behind id
func (s *Store) Remove(id BodyID) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	sl.body.id = BodyID{}
	sl.body = nil
	s.free = append(s.free, id.Index)
	s.count--
	s.denseDirty = true
	return nil
}

func (s *Store) Get(id BodyID) (*RigidBody, bool) {
	sl, err := s.lookup(id)
	if err != nil {
		return nil, false
	}
	return sl.body, true
}

// ApplyImpulse changes the velocity of a dynamic body. Static and kinematic
// bodies silently ignore it.
func (s *Store) ApplyImpulse(id BodyID, impulse mgl64.Vec3) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	sl.body.ApplyImpulse(impulse)
	return nil
}

func (s *Store) Len() int {
	return s.count
}

// Bodies returns the live bodies in ascending id order. The slice is shared
// and only valid until the next Add or Remove.
func (s *Store) Bodies() []*RigidBody {
	if s.denseDirty || s.dense == nil {
		s.dense = s.dense[:0]
		for i := range s.slots {
			if s.slots[i].body != nil {
				s.dense = append(s.dense, s.slots[i].body)
			}
		}
		s.denseDirty = false
	}
	return s.dense
}

// Each calls fn for every live body in ascending id order until fn returns false
func (s *Store) Each(fn func(body *RigidBody) bool) {
	for i := range s.slots {
		if body := s.slots[i].body; body != nil {
			if !fn(body) {
				return
			}
		}
	}
}

func (s *Store) lookup(id BodyID) (*slot, error) {
	if id.IsZero() || int(id.Index) >= len(s.slots) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBody, id)
	}
	sl := &s.slots[id.Index]
	if sl.body == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBody, id)
	}
	if sl.generation != id.Generation {
		return nil, fmt.Errorf("%w: %s (live generation %d)", ErrStaleHandle, id, sl.generation)
	}
	return sl, nil
}
