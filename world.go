package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/island"
	"github.com/akmonengine/tether/rollback"
	"github.com/go-gl/mathgl/mgl64"
)

// World is the whole simulation context: bodies, joints, history and events.
// A World is not safe for concurrent use, except for the read accessors of
// its rollback history (LatestFrameState, FrameState).
type World struct {
	cfg Config

	store       *actor.Store
	spatialGrid *SpatialGrid
	islands     island.Builder

	// joints sorted by ascending id
	joints      []constraint.Joint
	nextJointID constraint.ID

	frame   uint64
	history *rollback.Buffer
	inputs  rollback.InputLog
	// replaying is set while re-simulating after a rollback
	replaying bool
	// spawns of the bodies added inside the rollback window, and the ones a
	// rollback holds out of the simulation until their spawn frame
	spawns []spawn
	held   []spawn

	// islandHook, when set, sees the islands of every step before solving
	islandHook func(frame uint64, islands []*island.Island)

	Events Events

	logger  Logger
	metrics Metrics
}

// NewWorld validates cfg and creates an empty world at frame 0
func NewWorld(cfg Config, opts ...Option) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &World{
		cfg:         cfg,
		store:       actor.NewStore(),
		spatialGrid: NewSpatialGrid(cfg.Grid.CellSize, cfg.Grid.NumCells),
		history:     rollback.NewBuffer(cfg.RollbackCapacity),
		Events:      NewEvents(),
		logger:      nopLogger{},
		metrics:     nopMetrics{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *World) Config() Config {
	return w.cfg
}

// Frame is the last simulated frame, 0 before the first step
func (w *World) Frame() uint64 {
	return w.frame
}

// AddBody registers a body and returns its handle. The body takes part in
// the simulation from the next step on.
func (w *World) AddBody(body *actor.RigidBody) actor.BodyID {
	id := w.store.Add(body)
	w.spawns = append(w.spawns, spawn{frame: w.frame + 1, state: body.State()})
	return id
}

// RemoveBody removes a body together with every joint attached to it
func (w *World) RemoveBody(id actor.BodyID) error {
	body, ok := w.store.Get(id)
	if !ok {
		return w.store.Remove(id)
	}

	n := 0
	for _, joint := range w.joints {
		a, b := joint.Bodies()
		if a == body || b == body {
			continue
		}
		w.joints[n] = joint
		n++
	}
	clear(w.joints[n:])
	w.joints = w.joints[:n]

	w.Events.forget(id)
	w.forgetSpawn(id)
	return w.store.Remove(id)
}

func (w *World) GetBody(id actor.BodyID) (*actor.RigidBody, bool) {
	return w.store.Get(id)
}

// Bodies returns the live bodies in ascending id order. The slice is only
// valid until the next AddBody or RemoveBody.
func (w *World) Bodies() []*actor.RigidBody {
	return w.store.Bodies()
}

// ApplyImpulse changes the velocity of a dynamic body before the next step
// and records it as an input of that step, so a rollback replays it. Static
// and kinematic bodies ignore it.
func (w *World) ApplyImpulse(id actor.BodyID, impulse mgl64.Vec3) error {
	if err := w.store.ApplyImpulse(id, impulse); err != nil {
		return err
	}
	if !w.replaying {
		w.inputs.Record(w.frame+1, rollback.Impulse{Body: id, Impulse: impulse})
	}
	return nil
}

// AddJoint registers a joint between two bodies of this world and wakes them
func (w *World) AddJoint(joint constraint.Joint) (constraint.ID, error) {
	a, b := joint.Bodies()
	for _, body := range [2]*actor.RigidBody{a, b} {
		if body == nil {
			return 0, fmt.Errorf("add joint: %w: nil body", actor.ErrUnknownBody)
		}
		if registered, ok := w.store.Get(body.ID()); !ok || registered != body {
			return 0, fmt.Errorf("add joint: %w: %s", actor.ErrUnknownBody, body.ID())
		}
	}

	w.nextJointID++
	joint.SetID(w.nextJointID)
	w.joints = append(w.joints, joint)

	a.Wake()
	b.Wake()
	return w.nextJointID, nil
}

func (w *World) RemoveJoint(id constraint.ID) error {
	for i, joint := range w.joints {
		if joint.Key().ID == id {
			a, b := joint.Bodies()
			a.Wake()
			b.Wake()
			w.joints = append(w.joints[:i], w.joints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove joint %d: not found", id)
}

// Joints returns the registered joints in id order
func (w *World) Joints() []constraint.Joint {
	return w.joints
}

// Step advances the simulation by exactly one fixed tick
func (w *World) Step(dt time.Duration) error {
	return w.StepContext(context.Background(), dt)
}

// StepContext is Step with cancellation. A cancelled step is discarded as a
// whole: bodies go back to their state before the call and the frame counter
// does not move.
func (w *World) StepContext(ctx context.Context, dt time.Duration) error {
	if dt != w.cfg.FixedTimestep {
		return fmt.Errorf("%w: got %s, want %s", ErrTimestepMismatch, dt, w.cfg.FixedTimestep)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	checkpoint := make([]actor.BodyState, 0, w.store.Len())
	for _, body := range w.store.Bodies() {
		checkpoint = append(checkpoint, body.State())
	}
	held := w.held
	if err := w.step(ctx); err != nil {
		w.restoreStates(checkpoint)
		w.held = held
		w.Events.currentActivePairs = w.Events.currentActivePairs[:0]
		return err
	}

	w.Events.flush()
	return nil
}

func (w *World) step(ctx context.Context) error {
	frame := w.frame + 1
	dt := w.cfg.dt()
	w.release(frame)
	bodies := w.liveBodies()

	task(w.cfg.Workers, bodies, func(body *actor.RigidBody) {
		body.IntegrateVelocity(dt, w.cfg.Gravity)
		if body.BodyType != actor.BodyTypeStatic {
			body.UpdateAABB()
		}
	})

	pairs := BroadPhase(w.spatialGrid, bodies, w.cfg.ContactMargin, w.cfg.Workers)
	manifolds := NarrowPhase(pairs, w.cfg.ContactMargin, w.cfg.Workers)

	contacts := make([]*constraint.Contact, 0, len(manifolds))
	for _, m := range manifolds {
		a, _ := w.store.Get(m.BodyA)
		b, _ := w.store.Get(m.BodyB)
		contacts = append(contacts, constraint.NewContact(m, a, b))
	}
	contacts = w.Events.recordCollisions(contacts)

	constraints := make([]constraint.Constraint, 0, len(w.joints)+len(contacts))
	for _, joint := range w.joints {
		if a, b := joint.Bodies(); w.isHeld(a.ID()) || w.isHeld(b.ID()) {
			continue
		}
		constraints = append(constraints, joint)
	}
	for _, contact := range contacts {
		constraints = append(constraints, contact)
	}

	island.WakeTouched(constraints)
	islands := w.islands.Build(bodies, constraints)
	if w.islandHook != nil {
		w.islandHook(frame, islands)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	faults, err := w.solveVelocities(ctx, islands, dt)
	if err != nil {
		return err
	}

	for _, body := range bodies {
		if !body.IntegratePosition(dt) {
			faults = append(faults, FaultEvent{Body: body.ID(), Err: fmt.Errorf("%w: pose of body %s", constraint.ErrNonFinite, body.ID())})
		}
	}

	positionFaults, err := w.solvePositions(ctx, islands)
	if err != nil {
		return err
	}
	faults = append(faults, positionFaults...)

	w.updateSleep(islands)

	w.frame = frame
	state := rollback.NewFrameState(frame, len(faults) > 0, w.captureStates())
	w.record(state)

	w.Events.processCollisionEvents(w.resting)
	w.Events.processSleepEvents(bodies)
	for _, fault := range faults {
		fault.Frame = frame
		w.Events.emit(fault)
		w.logger.Printf("tether: frame %d: integrity fault: %v", frame, fault.Err)
	}

	w.metrics.Add(MetricFrames, 1)
	w.metrics.Add(MetricFaults, uint64(len(faults)))
	w.metrics.Store(MetricIslands, uint64(len(islands)))
	w.metrics.Store(MetricContacts, uint64(len(contacts)))
	return nil
}

// resting reports whether a body can no longer move on its own
func (w *World) resting(id actor.BodyID) bool {
	body, ok := w.store.Get(id)
	return !ok || !body.IsAwakeDynamic()
}

// captureStates snapshots the bodies taking part in the simulation, in
// ascending id order
func (w *World) captureStates() []actor.BodyState {
	states := make([]actor.BodyState, 0, w.store.Len())
	w.store.Each(func(body *actor.RigidBody) bool {
		if !w.isHeld(body.ID()) {
			states = append(states, body.State())
		}
		return true
	})
	return states
}

func (w *World) restoreStates(states []actor.BodyState) {
	for _, state := range states {
		if body, ok := w.store.Get(state.ID); ok {
			body.Restore(state)
		}
	}
}
