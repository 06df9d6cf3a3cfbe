package actor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BodyState is the simulated part of a body: everything a rollback must restore.
// Shape, mass and material are static configuration and are not part of it.
type BodyState struct {
	ID              BodyID
	Sleeping        bool
	LowMotionFrames uint32
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

func (rb *RigidBody) State() BodyState {
	return BodyState{
		ID:              rb.id,
		Sleeping:        rb.IsSleeping,
		LowMotionFrames: uint32(rb.LowMotionFrames),
		Position:        rb.Transform.Position,
		Rotation:        rb.Transform.Rotation,
		Velocity:        rb.Velocity,
		AngularVelocity: rb.AngularVelocity,
	}
}

// Restore overwrites the simulated state. The id in s is not applied.
func (rb *RigidBody) Restore(s BodyState) {
	rb.IsSleeping = s.Sleeping
	rb.LowMotionFrames = int(s.LowMotionFrames)
	rb.Transform.Position = s.Position
	rb.Transform.Rotation = s.Rotation
	rb.Transform.InverseRotation = s.Rotation.Conjugate()
	rb.Velocity = s.Velocity
	rb.AngularVelocity = s.AngularVelocity
	rb.UpdateAABB()
}

// BodyStateSize is the encoded size of one BodyState
const BodyStateSize = 4 + 4 + 1 + 4 + 13*8

const flagSleeping = 1 << 0

// AppendBinary appends the little-endian encoding of s to dst. Floats are
// written as their IEEE-754 bits so the encoding is exact.
func (s BodyState) AppendBinary(dst []byte) []byte {
	var flags uint8
	if s.Sleeping {
		flags |= flagSleeping
	}

	dst = binary.LittleEndian.AppendUint32(dst, s.ID.Index)
	dst = binary.LittleEndian.AppendUint32(dst, s.ID.Generation)
	dst = append(dst, flags)
	dst = binary.LittleEndian.AppendUint32(dst, s.LowMotionFrames)

	floats := [13]float64{
		s.Position[0], s.Position[1], s.Position[2],
		s.Rotation.W, s.Rotation.V[0], s.Rotation.V[1], s.Rotation.V[2],
		s.Velocity[0], s.Velocity[1], s.Velocity[2],
		s.AngularVelocity[0], s.AngularVelocity[1], s.AngularVelocity[2],
	}
	for _, f := range floats {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
	}
	return dst
}

// DecodeBodyState reads one BodyState from the front of src
func DecodeBodyState(src []byte) (BodyState, error) {
	if len(src) < BodyStateSize {
		return BodyState{}, fmt.Errorf("body state: need %d bytes, have %d", BodyStateSize, len(src))
	}

	var s BodyState
	s.ID.Index = binary.LittleEndian.Uint32(src[0:])
	s.ID.Generation = binary.LittleEndian.Uint32(src[4:])
	flags := src[8]
	if flags&^flagSleeping != 0 {
		return BodyState{}, fmt.Errorf("body state %s: unknown flags %#x", s.ID, flags)
	}
	s.Sleeping = flags&flagSleeping != 0
	s.LowMotionFrames = binary.LittleEndian.Uint32(src[9:])

	var floats [13]float64
	for i := range floats {
		floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[13+i*8:]))
	}
	s.Position = mgl64.Vec3{floats[0], floats[1], floats[2]}
	s.Rotation = mgl64.Quat{W: floats[3], V: mgl64.Vec3{floats[4], floats[5], floats[6]}}
	s.Velocity = mgl64.Vec3{floats[7], floats[8], floats[9]}
	s.AngularVelocity = mgl64.Vec3{floats[10], floats[11], floats[12]}
	return s, nil
}
