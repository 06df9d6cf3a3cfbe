package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BodyType represents the type of rigid body
type BodyType int

const (
	// BodyTypeDynamic bodies are affected by gravity, impulses and contacts
	BodyTypeDynamic BodyType = iota

	// BodyTypeStatic bodies never move (ground, walls)
	BodyTypeStatic

	// BodyTypeKinematic bodies move with their own velocity but ignore impulses
	BodyTypeKinematic
)

type Material struct {
	Restitution float64 `yaml:"restitution"` // 0 = no rebound, 1 = perfect restitution

	StaticFriction  float64 `yaml:"static_friction"`
	DynamicFriction float64 `yaml:"dynamic_friction"`
	LinearDamping   float64 `yaml:"linear_damping"`  // per second, typical 0.01
	AngularDamping  float64 `yaml:"angular_damping"` // per second, typical 0.05
}

// RigidBody represents a rigid body in the physics simulation.
// Bodies are created through NewRigidBody and owned by a Store once added.
type RigidBody struct {
	id BodyID

	Transform Transform

	Velocity        mgl64.Vec3 // m/s
	AngularVelocity mgl64.Vec3 // rad/s

	mass                float64
	invMass             float64
	InertiaLocal        mgl64.Mat3
	InverseInertiaLocal mgl64.Mat3

	Material Material
	BodyType BodyType
	Shape    Shape

	// IsTrigger bodies report overlaps but never receive a contact response
	IsTrigger bool

	IsSleeping bool
	// LowMotionFrames counts consecutive frames spent below the sleep thresholds
	LowMotionFrames int

	aabb AABB
}

// NewRigidBody creates a body of the given mass. A mass of zero (or a plane
// shape) makes the body static, with an inverse mass of zero.
func NewRigidBody(transform Transform, shape Shape, mass float64) *RigidBody {
	bodyType := BodyTypeDynamic
	if mass <= 0 || shape.Type() == ShapeTypePlane {
		bodyType = BodyTypeStatic
	}
	return newBody(transform, shape, bodyType, mass)
}

// NewKinematicBody creates a body driven only by its own velocity
func NewKinematicBody(transform Transform, shape Shape) *RigidBody {
	return newBody(transform, shape, BodyTypeKinematic, 0)
}

func newBody(transform Transform, shape Shape, bodyType BodyType, mass float64) *RigidBody {
	if transform.Rotation == (mgl64.Quat{}) {
		transform.Rotation = mgl64.QuatIdent()
	}
	transform.SetRotation(transform.Rotation)

	rb := &RigidBody{
		Transform: transform,
		Shape:     shape,
		BodyType:  bodyType,
	}

	if bodyType == BodyTypeDynamic {
		rb.mass = mass
		rb.invMass = 1.0 / mass
		rb.InertiaLocal = shape.ComputeInertia(mass)
		rb.InverseInertiaLocal = rb.InertiaLocal.Inv()
	}
	rb.UpdateAABB()

	return rb
}

// ID returns the handle assigned by the Store, zero before insertion
func (rb *RigidBody) ID() BodyID {
	return rb.id
}

func (rb *RigidBody) Mass() float64 {
	return rb.mass
}

// InverseMass is zero for every non-dynamic body
func (rb *RigidBody) InverseMass() float64 {
	return rb.invMass
}

func (rb *RigidBody) IsDynamic() bool {
	return rb.BodyType == BodyTypeDynamic
}

// IsAwakeDynamic reports whether the body takes part in island solving
func (rb *RigidBody) IsAwakeDynamic() bool {
	return rb.BodyType == BodyTypeDynamic && !rb.IsSleeping
}

// IsMovingKinematic reports whether the body is kinematic with a non-zero
// linear or angular velocity
func (rb *RigidBody) IsMovingKinematic() bool {
	return rb.BodyType == BodyTypeKinematic && (rb.Velocity != (mgl64.Vec3{}) || rb.AngularVelocity != (mgl64.Vec3{}))
}

func (rb *RigidBody) AABB() AABB {
	return rb.aabb
}

func (rb *RigidBody) UpdateAABB() {
	rb.aabb = rb.Shape.ComputeAABB(rb.Transform)
}

// ApplyImpulse changes the linear velocity by impulse / mass and wakes the body.
// It is a silent no-op on static and kinematic bodies.
func (rb *RigidBody) ApplyImpulse(impulse mgl64.Vec3) {
	if !rb.IsDynamic() {
		return
	}
	rb.Wake()
	rb.Velocity = rb.Velocity.Add(impulse.Mul(rb.invMass))
}

// ApplyImpulseAt applies an impulse at a world point, producing spin as well
func (rb *RigidBody) ApplyImpulseAt(impulse, point mgl64.Vec3) {
	if !rb.IsDynamic() {
		return
	}
	rb.ApplyImpulse(impulse)
	r := point.Sub(rb.Transform.Position)
	rb.AngularVelocity = rb.AngularVelocity.Add(rb.InverseInertiaWorld().Mul3x1(r.Cross(impulse)))
}

// IntegrateVelocity applies gravity and damping over dt
func (rb *RigidBody) IntegrateVelocity(dt float64, gravity mgl64.Vec3) {
	if !rb.IsAwakeDynamic() {
		return
	}

	rb.Velocity = rb.Velocity.Add(gravity.Mul(dt))

	// Padé approximation of exp(-c*dt), kept to plain arithmetic so every
	// platform rounds it the same way
	rb.Velocity = rb.Velocity.Mul(1.0 / (1.0 + dt*rb.Material.LinearDamping))
	rb.AngularVelocity = rb.AngularVelocity.Mul(1.0 / (1.0 + dt*rb.Material.AngularDamping))
}

// IntegratePosition advances the pose from the current velocities. It returns
// false and leaves the pose untouched if the result would not be finite.
func (rb *RigidBody) IntegratePosition(dt float64) bool {
	if rb.BodyType == BodyTypeStatic || rb.IsSleeping {
		return true
	}

	position := rb.Transform.Position.Add(rb.Velocity.Mul(dt))

	omega := mgl64.Quat{V: rb.AngularVelocity, W: 0}
	qDot := omega.Mul(rb.Transform.Rotation).Scale(0.5)
	rotation := rb.Transform.Rotation.Add(qDot.Scale(dt))

	if !finiteVec(position) || !finiteVec(rotation.V) || !finite(rotation.W) {
		rb.Velocity = mgl64.Vec3{}
		rb.AngularVelocity = mgl64.Vec3{}
		return false
	}

	rb.Transform.Position = position
	rb.Transform.SetRotation(rotation)
	rb.UpdateAABB()
	return true
}

// Translate moves a dynamic body, used by positional correction
func (rb *RigidBody) Translate(delta mgl64.Vec3) {
	if !rb.IsDynamic() {
		return
	}
	rb.Transform.Position = rb.Transform.Position.Add(delta)
}

// Turn applies a small rotation vector to a dynamic body
func (rb *RigidBody) Turn(delta mgl64.Vec3) {
	if !rb.IsDynamic() || delta.Len() < 1e-12 {
		return
	}
	q := mgl64.Quat{W: 1.0, V: delta.Mul(0.5)}
	rb.Transform.SetRotation(q.Mul(rb.Transform.Rotation))
}

// TrackMotion updates the low motion counter and reports whether the body has
// been slow for at least framesToSleep consecutive frames.
func (rb *RigidBody) TrackMotion(linearThreshold, angularThreshold float64, framesToSleep int) bool {
	if !rb.IsAwakeDynamic() {
		return rb.IsSleeping
	}
	if rb.Velocity.Len() < linearThreshold && rb.AngularVelocity.Len() < angularThreshold {
		rb.LowMotionFrames++
	} else {
		rb.LowMotionFrames = 0
	}
	return rb.LowMotionFrames >= framesToSleep
}

func (rb *RigidBody) Sleep() {
	if !rb.IsDynamic() {
		return
	}
	rb.IsSleeping = true
	rb.Velocity = mgl64.Vec3{}
	rb.AngularVelocity = mgl64.Vec3{}
	rb.UpdateAABB()
}

// Wake clears the sleep state immediately, there is no hysteresis
func (rb *RigidBody) Wake() {
	rb.IsSleeping = false
	rb.LowMotionFrames = 0
}

func (rb *RigidBody) SupportWorld(direction mgl64.Vec3) mgl64.Vec3 {
	if rb.Shape.Type() == ShapeTypePlane {
		return rb.Shape.Support(direction)
	}
	localDirection := rb.Transform.InverseRotation.Rotate(direction)
	return rb.Transform.ToWorld(rb.Shape.Support(localDirection))
}

// Center returns the world position used to seed GJK directions
func (rb *RigidBody) Center() mgl64.Vec3 {
	return rb.Transform.Position
}

// InverseInertiaWorld returns R * I_local^-1 * R^T, zero for non-dynamic bodies
func (rb *RigidBody) InverseInertiaWorld() mgl64.Mat3 {
	if !rb.IsDynamic() {
		return mgl64.Mat3{}
	}
	r := rb.Transform.Rotation.Mat4().Mat3()
	return r.Mul3(rb.InverseInertiaLocal).Mul3(r.Transpose())
}

// VelocityAt returns the velocity of the material point at world position p
func (rb *RigidBody) VelocityAt(p mgl64.Vec3) mgl64.Vec3 {
	return rb.Velocity.Add(rb.AngularVelocity.Cross(p.Sub(rb.Transform.Position)))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v mgl64.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}

// IsFinite reports whether every component of v is a finite number
func IsFinite(v mgl64.Vec3) bool {
	return finiteVec(v)
}
