package constraint

import (
	"errors"
	"fmt"
	"math"

	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrNonFinite is returned when a computed impulse or correction is NaN or Inf.
// The impulse is not applied.
var ErrNonFinite = errors.New("non-finite impulse")

// ID identifies a persistent joint. Contacts carry no ID, they are ordered by
// their body pair instead.
type ID uint64

type Kind uint8

const (
	KindJoint Kind = iota
	KindContact
)

// Key is the canonical solve order of a constraint inside an island: joints by
// ascending id first, then contacts by ascending body pair.
type Key struct {
	Kind  Kind
	ID    ID
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (k Key) Less(other Key) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	if k.ID != other.ID {
		return k.ID < other.ID
	}
	if k.BodyA != other.BodyA {
		return k.BodyA.Less(other.BodyA)
	}
	return k.BodyB.Less(other.BodyB)
}

func (k Key) String() string {
	if k.Kind == KindJoint {
		return fmt.Sprintf("joint#%d(%s,%s)", k.ID, k.BodyA, k.BodyB)
	}
	return fmt.Sprintf("contact(%s,%s)", k.BodyA, k.BodyB)
}

// Constraint is a relation between two bodies solved by sequential impulses.
type Constraint interface {
	Key() Key
	Bodies() (*actor.RigidBody, *actor.RigidBody)
	// Prepare caches per-step data before the velocity iterations
	Prepare(dt float64)
	// SolveVelocity computes and immediately applies one corrective impulse,
	// scaled by relaxation (1 for plain Gauss-Seidel)
	SolveVelocity(relaxation float64) error
	// SolvePosition removes part of the remaining positional error after integration
	SolvePosition() error
}

const (
	// Slop is the penetration tolerated without positional correction
	Slop = 0.005
	// Baumgarte is the fraction of positional error removed per position iteration
	Baumgarte = 0.2
	// MaxCorrection caps a single positional correction step
	MaxCorrection = 0.2
	// RestitutionThreshold is the closing speed under which contacts do not bounce
	RestitutionThreshold = 1.0
)

func ComputeRestitution(matA, matB actor.Material) float64 {
	return (matA.Restitution + matB.Restitution) / 2.0
}

func ComputeStaticFriction(matA, matB actor.Material) float64 {
	return math.Sqrt(matA.StaticFriction * matB.StaticFriction)
}

func ComputeDynamicFriction(matA, matB actor.Material) float64 {
	return math.Sqrt(matA.DynamicFriction * matB.DynamicFriction)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// effectiveMass returns 1 / (J M^-1 J^T) for a row along dir applied at rA/rB
func effectiveMass(a, b *actor.RigidBody, ia, ib mgl64.Mat3, rA, rB, dir mgl64.Vec3) float64 {
	rnA := rA.Cross(dir)
	rnB := rB.Cross(dir)
	k := a.InverseMass() + b.InverseMass() + ia.Mul3x1(rnA).Dot(rnA) + ib.Mul3x1(rnB).Dot(rnB)
	if k < 1e-12 {
		return 0
	}
	return 1.0 / k
}

// applyImpulse pushes A along -impulse and B along +impulse. Non-dynamic
// bodies are never written: they are shared between islands solved in parallel.
func applyImpulse(a, b *actor.RigidBody, ia, ib mgl64.Mat3, rA, rB, impulse mgl64.Vec3) {
	if a.IsDynamic() {
		a.Velocity = a.Velocity.Sub(impulse.Mul(a.InverseMass()))
		a.AngularVelocity = a.AngularVelocity.Sub(ia.Mul3x1(rA.Cross(impulse)))
	}
	if b.IsDynamic() {
		b.Velocity = b.Velocity.Add(impulse.Mul(b.InverseMass()))
		b.AngularVelocity = b.AngularVelocity.Add(ib.Mul3x1(rB.Cross(impulse)))
	}
}

// applyCorrection is the positional counterpart of applyImpulse
func applyCorrection(a, b *actor.RigidBody, ia, ib mgl64.Mat3, rA, rB, correction mgl64.Vec3) {
	if a.IsDynamic() {
		a.Translate(correction.Mul(-a.InverseMass()))
		a.Turn(ia.Mul3x1(rA.Cross(correction)).Mul(-1))
	}
	if b.IsDynamic() {
		b.Translate(correction.Mul(b.InverseMass()))
		b.Turn(ib.Mul3x1(rB.Cross(correction)))
	}
}

func clampSmallVelocities(rb *actor.RigidBody) {
	const velocityThreshold = 1e-5

	if !rb.IsDynamic() {
		return
	}
	if rb.Velocity.Len() < velocityThreshold {
		rb.Velocity = mgl64.Vec3{0, 0, 0}
	}
	if rb.AngularVelocity.Len() < velocityThreshold {
		rb.AngularVelocity = mgl64.Vec3{0, 0, 0}
	}
}
