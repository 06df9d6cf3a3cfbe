package constraint

import (
	"fmt"
	"math"

	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

type ContactPoint struct {
	Position mgl64.Vec3
	// Penetration is positive when overlapping, negative for a speculative
	// contact that is still separated
	Penetration float64
}

// Manifold is the narrow phase output for one body pair. The normal points
// from BodyA toward BodyB and BodyA always has the smaller id.
type Manifold struct {
	BodyA  actor.BodyID
	BodyB  actor.BodyID
	Normal mgl64.Vec3
	Points []ContactPoint
}

type pointState struct {
	rA, rB         mgl64.Vec3
	normalMass     float64
	tangentMass    [2]float64
	bias           float64
	normalImpulse  float64
	tangentImpulse [2]float64
}

// Contact is the transient constraint built from a Manifold for one step
type Contact struct {
	Manifold
	bodyA, bodyB *actor.RigidBody

	friction    float64
	restitution float64
	tangents    [2]mgl64.Vec3
	points      []pointState

	// positions at Prepare, used to estimate penetration after integration
	originA, originB mgl64.Vec3
}

// NewContact binds a manifold to the bodies it refers to
func NewContact(m Manifold, a, b *actor.RigidBody) *Contact {
	return &Contact{Manifold: m, bodyA: a, bodyB: b}
}

func (c *Contact) Key() Key {
	return Key{Kind: KindContact, BodyA: c.BodyA, BodyB: c.BodyB}
}

func (c *Contact) Bodies() (*actor.RigidBody, *actor.RigidBody) {
	return c.bodyA, c.bodyB
}

func (c *Contact) Prepare(dt float64) {
	a, b := c.bodyA, c.bodyB
	ia := a.InverseInertiaWorld()
	ib := b.InverseInertiaWorld()

	c.originA = a.Transform.Position
	c.originB = b.Transform.Position
	c.restitution = ComputeRestitution(a.Material, b.Material)
	c.tangents[0], c.tangents[1] = actor.TangentBasis(c.Normal)

	c.points = c.points[:0]
	var sliding float64
	for _, p := range c.Points {
		s := pointState{
			rA: p.Position.Sub(a.Transform.Position),
			rB: p.Position.Sub(b.Transform.Position),
		}
		s.normalMass = effectiveMass(a, b, ia, ib, s.rA, s.rB, c.Normal)
		s.tangentMass[0] = effectiveMass(a, b, ia, ib, s.rA, s.rB, c.tangents[0])
		s.tangentMass[1] = effectiveMass(a, b, ia, ib, s.rA, s.rB, c.tangents[1])

		relative := b.VelocityAt(p.Position).Sub(a.VelocityAt(p.Position))
		normalVelocity := relative.Dot(c.Normal)
		sliding = math.Max(sliding, relative.Sub(c.Normal.Mul(normalVelocity)).Len())

		switch {
		case p.Penetration < 0:
			// still separated: allow closing the gap within this step, no more
			s.bias = p.Penetration / dt
		case normalVelocity < -RestitutionThreshold:
			s.bias = -c.restitution * normalVelocity
		}
		c.points = append(c.points, s)
	}

	// Static friction holds resting contacts, dynamic friction applies when sliding
	if sliding < 0.1 {
		c.friction = ComputeStaticFriction(a.Material, b.Material)
	} else {
		c.friction = ComputeDynamicFriction(a.Material, b.Material)
	}
}

// SolveVelocity runs one projected Gauss-Seidel pass over the manifold points:
// normal rows clamp the accumulated impulse to be non-negative, friction rows
// clamp it to the Coulomb cone of the current normal impulse.
func (c *Contact) SolveVelocity(relaxation float64) error {
	if c.bodyA.IsTrigger || c.bodyB.IsTrigger {
		return nil
	}
	a, b := c.bodyA, c.bodyB
	ia := a.InverseInertiaWorld()
	ib := b.InverseInertiaWorld()

	for i := range c.points {
		s := &c.points[i]
		point := c.Points[i].Position

		if s.normalMass > 0 {
			vn := b.VelocityAt(point).Sub(a.VelocityAt(point)).Dot(c.Normal)
			delta := relaxation * s.normalMass * (s.bias - vn)
			if !finite(delta) {
				return fmt.Errorf("%w: %s normal row %d", ErrNonFinite, c.Key(), i)
			}
			total := math.Max(s.normalImpulse+delta, 0)
			delta = total - s.normalImpulse
			s.normalImpulse = total
			applyImpulse(a, b, ia, ib, s.rA, s.rB, c.Normal.Mul(delta))
		}

		limit := c.friction * s.normalImpulse
		for t := 0; t < 2; t++ {
			if s.tangentMass[t] == 0 {
				continue
			}
			vt := b.VelocityAt(point).Sub(a.VelocityAt(point)).Dot(c.tangents[t])
			delta := -relaxation * s.tangentMass[t] * vt
			if !finite(delta) {
				return fmt.Errorf("%w: %s tangent row %d", ErrNonFinite, c.Key(), i)
			}
			total := math.Max(-limit, math.Min(limit, s.tangentImpulse[t]+delta))
			delta = total - s.tangentImpulse[t]
			s.tangentImpulse[t] = total
			applyImpulse(a, b, ia, ib, s.rA, s.rB, c.tangents[t].Mul(delta))
		}
	}

	clampSmallVelocities(a)
	clampSmallVelocities(b)
	return nil
}

// SolvePosition pushes overlapping bodies apart, estimating the current
// penetration from how far both bodies moved since Prepare.
func (c *Contact) SolvePosition() error {
	if c.bodyA.IsTrigger || c.bodyB.IsTrigger {
		return nil
	}
	a, b := c.bodyA, c.bodyB
	ia := a.InverseInertiaWorld()
	ib := b.InverseInertiaWorld()

	for i := range c.points {
		s := &c.points[i]
		if s.normalMass == 0 {
			continue
		}

		moved := b.Transform.Position.Sub(c.originB).Sub(a.Transform.Position.Sub(c.originA))
		penetration := c.Points[i].Penetration - moved.Dot(c.Normal)
		if penetration <= Slop {
			continue
		}

		lambda := s.normalMass * math.Min(Baumgarte*(penetration-Slop), MaxCorrection)
		if !finite(lambda) {
			return fmt.Errorf("%w: %s position row %d", ErrNonFinite, c.Key(), i)
		}
		applyCorrection(a, b, ia, ib, s.rA, s.rB, c.Normal.Mul(lambda))
	}
	return nil
}

// NormalImpulse returns the total normal impulse accumulated this step
func (c *Contact) NormalImpulse() float64 {
	var total float64
	for _, s := range c.points {
		total += s.normalImpulse
	}
	return total
}
