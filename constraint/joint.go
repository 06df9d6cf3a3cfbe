package constraint

import (
	"fmt"
	"math"

	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// jointBase holds what every persistent joint shares
type jointBase struct {
	id           ID
	bodyA, bodyB *actor.RigidBody
	LocalAnchorA mgl64.Vec3
	LocalAnchorB mgl64.Vec3
	// Stiffness is the fraction of positional error removed per position
	// iteration, in (0, 1]
	Stiffness    float64

	rA, rB mgl64.Vec3
}

func (j *jointBase) Key() Key {
	return Key{Kind: KindJoint, ID: j.id, BodyA: j.bodyA.ID(), BodyB: j.bodyB.ID()}
}

func (j *jointBase) Bodies() (*actor.RigidBody, *actor.RigidBody) {
	return j.bodyA, j.bodyB
}

// SetID is called by the world when the joint is registered
func (j *jointBase) SetID(id ID) {
	j.id = id
}

func (j *jointBase) anchors() (mgl64.Vec3, mgl64.Vec3) {
	j.rA = j.bodyA.Transform.Rotation.Rotate(j.LocalAnchorA)
	j.rB = j.bodyB.Transform.Rotation.Rotate(j.LocalAnchorB)
	return j.bodyA.Transform.Position.Add(j.rA), j.bodyB.Transform.Position.Add(j.rB)
}

func (j *jointBase) stiffness() float64 {
	if j.Stiffness <= 0 || j.Stiffness > 1 {
		return Baumgarte
	}
	return j.Stiffness
}

// DistanceJoint keeps the anchor distance within [MinDistance, MaxDistance].
// MinDistance == MaxDistance makes a rigid rod, MinDistance == 0 a rope.
type DistanceJoint struct {
	jointBase
	MinDistance float64
	MaxDistance float64

	axis     mgl64.Vec3
	mass     float64
	impulse  float64
	state    limitState
	distance float64
}

type limitState uint8

const (
	limitInactive limitState = iota
	limitLower
	limitUpper
	limitEqual
)

func NewDistanceJoint(a, b *actor.RigidBody, anchorA, anchorB mgl64.Vec3, minDistance, maxDistance float64) *DistanceJoint {
	return &DistanceJoint{
		jointBase: jointBase{
			bodyA:        a,
			bodyB:        b,
			LocalAnchorA: anchorA,
			LocalAnchorB: anchorB,
		},
		MinDistance: minDistance,
		MaxDistance: maxDistance,
	}
}

func (j *DistanceJoint) Prepare(dt float64) {
	pA, pB := j.anchors()
	d := pB.Sub(pA)
	j.distance = d.Len()
	j.impulse = 0

	if j.distance < 1e-9 {
		j.state = limitInactive
		return
	}
	j.axis = d.Mul(1.0 / j.distance)
	j.mass = effectiveMass(j.bodyA, j.bodyB, j.bodyA.InverseInertiaWorld(), j.bodyB.InverseInertiaWorld(), j.rA, j.rB, j.axis)

	switch {
	case j.MaxDistance-j.MinDistance < 1e-9:
		j.state = limitEqual
	case j.distance <= j.MinDistance:
		j.state = limitLower
	case j.distance >= j.MaxDistance:
		j.state = limitUpper
	default:
		j.state = limitInactive
	}
}

func (j *DistanceJoint) SolveVelocity(relaxation float64) error {
	if j.state == limitInactive || j.mass == 0 {
		return nil
	}
	a, b := j.bodyA, j.bodyB
	ia := a.InverseInertiaWorld()
	ib := b.InverseInertiaWorld()

	vA := a.Velocity.Add(a.AngularVelocity.Cross(j.rA))
	vB := b.Velocity.Add(b.AngularVelocity.Cross(j.rB))
	cdot := vB.Sub(vA).Dot(j.axis)

	delta := -relaxation * j.mass * cdot
	if !finite(delta) {
		return fmt.Errorf("%w: %s", ErrNonFinite, j.Key())
	}

	total := j.impulse + delta
	switch j.state {
	case limitLower:
		// only push apart
		total = math.Max(total, 0)
	case limitUpper:
		// only pull together
		total = math.Min(total, 0)
	}
	delta = total - j.impulse
	j.impulse = total

	applyImpulse(a, b, ia, ib, j.rA, j.rB, j.axis.Mul(delta))
	return nil
}

func (j *DistanceJoint) SolvePosition() error {
	pA, pB := j.anchors()
	d := pB.Sub(pA)
	length := d.Len()
	if length < 1e-9 {
		return nil
	}

	var violation float64
	switch {
	case length < j.MinDistance:
		violation = length - j.MinDistance
	case length > j.MaxDistance:
		violation = length - j.MaxDistance
	default:
		return nil
	}

	axis := d.Mul(1.0 / length)
	ia := j.bodyA.InverseInertiaWorld()
	ib := j.bodyB.InverseInertiaWorld()
	mass := effectiveMass(j.bodyA, j.bodyB, ia, ib, j.rA, j.rB, axis)

	lambda := -mass * j.stiffness() * violation
	if !finite(lambda) {
		return fmt.Errorf("%w: %s position", ErrNonFinite, j.Key())
	}
	applyCorrection(j.bodyA, j.bodyB, ia, ib, j.rA, j.rB, axis.Mul(lambda))
	return nil
}

// BallJoint pins an anchor of A onto an anchor of B, leaving rotation free
type BallJoint struct {
	jointBase
}

func NewBallJoint(a, b *actor.RigidBody, anchorA, anchorB mgl64.Vec3) *BallJoint {
	return &BallJoint{jointBase: jointBase{
		bodyA:        a,
		bodyB:        b,
		LocalAnchorA: anchorA,
		LocalAnchorB: anchorB,
	}}
}

var worldAxes = [3]mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

func (j *BallJoint) Prepare(dt float64) {
	j.anchors()
}

// SolveVelocity treats each world axis as a scalar row, solved in x, y, z order
func (j *BallJoint) SolveVelocity(relaxation float64) error {
	a, b := j.bodyA, j.bodyB
	ia := a.InverseInertiaWorld()
	ib := b.InverseInertiaWorld()

	for i, axis := range worldAxes {
		mass := effectiveMass(a, b, ia, ib, j.rA, j.rB, axis)
		if mass == 0 {
			continue
		}
		vA := a.Velocity.Add(a.AngularVelocity.Cross(j.rA))
		vB := b.Velocity.Add(b.AngularVelocity.Cross(j.rB))
		delta := -relaxation * mass * vB.Sub(vA).Dot(axis)
		if !finite(delta) {
			return fmt.Errorf("%w: %s axis %d", ErrNonFinite, j.Key(), i)
		}
		applyImpulse(a, b, ia, ib, j.rA, j.rB, axis.Mul(delta))
	}
	return nil
}

func (j *BallJoint) SolvePosition() error {
	pA, pB := j.anchors()
	separation := pB.Sub(pA)
	if separation.Len() < Slop {
		return nil
	}
	ia := j.bodyA.InverseInertiaWorld()
	ib := j.bodyB.InverseInertiaWorld()

	for i, axis := range worldAxes {
		mass := effectiveMass(j.bodyA, j.bodyB, ia, ib, j.rA, j.rB, axis)
		lambda := -mass * j.stiffness() * separation.Dot(axis)
		if !finite(lambda) {
			return fmt.Errorf("%w: %s position axis %d", ErrNonFinite, j.Key(), i)
		}
		applyCorrection(j.bodyA, j.bodyB, ia, ib, j.rA, j.rB, axis.Mul(lambda))
	}
	return nil
}

// Joint is a persistent constraint registered with the world
type Joint interface {
	Constraint
	SetID(id ID)
}

var (
	_ Joint      = (*DistanceJoint)(nil)
	_ Joint      = (*BallJoint)(nil)
	_ Constraint = (*Contact)(nil)
)
