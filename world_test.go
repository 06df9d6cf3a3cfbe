package tether

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/island"
	"github.com/akmonengine/tether/rollback"
	"github.com/go-gl/mathgl/mgl64"
)

func newTestWorld(t *testing.T, configure func(cfg *Config)) *World {
	t.Helper()
	cfg := DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	w, err := NewWorld(cfg)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return w
}

func stepN(t *testing.T, w *World, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := w.Step(w.Config().FixedTimestep); err != nil {
			t.Fatalf("step to frame %d: %v", w.Frame()+1, err)
		}
	}
}

// buildScene fills w with a ground plane, a box stack, a row of spheres and a
// pendulum, enough to produce several islands
func buildScene(w *World) {
	w.AddBody(createTestPlane())

	for i := 0; i < 4; i++ {
		w.AddBody(createTestBox(mgl64.Vec3{0, 0.5 + float64(i)*1.02, 0}, mgl64.Vec3{0.5, 0.5, 0.5}))
	}
	for i := 0; i < 6; i++ {
		sphere := createTestSphere(mgl64.Vec3{3 + float64(i)*0.3, 1 + float64(i), 0.1 * float64(i)}, 0.4, 1+float64(i%3))
		sphere.Material = actor.Material{Restitution: 0.3, StaticFriction: 0.6, DynamicFriction: 0.4, LinearDamping: 0.01, AngularDamping: 0.05}
		w.AddBody(sphere)
	}

	anchor := actor.NewRigidBody(actor.NewTransformAt(mgl64.Vec3{-4, 6, 0}), &actor.Box{HalfExtents: mgl64.Vec3{0.1, 0.1, 0.1}}, 0)
	bob := createTestSphere(mgl64.Vec3{-2, 6, 0}, 0.25, 1)
	w.AddBody(anchor)
	w.AddBody(bob)
	if _, err := w.AddJoint(constraint.NewDistanceJoint(anchor, bob, mgl64.Vec3{}, mgl64.Vec3{}, 2, 2)); err != nil {
		panic(err)
	}
}

func checksums(t *testing.T, w *World, from, to uint64) []uint64 {
	t.Helper()
	var sums []uint64
	for f := from; f <= to; f++ {
		state, err := w.FrameState(f)
		if err != nil {
			t.Fatalf("FrameState(%d): %v", f, err)
		}
		sums = append(sums, state.Checksum)
	}
	return sums
}

func TestNewWorld_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	if _, err := NewWorld(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewWorld error = %v, want ErrInvalidConfig", err)
	}
}

func TestWorld_FreeFall(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestSphere(mgl64.Vec3{0, 100, 0}, 0.5, 1))

	stepN(t, w, 60)

	body, _ := w.GetBody(id)
	want := w.Config().Gravity.Y() * w.Config().FixedTimestep.Seconds() * 60
	if math.Abs(body.Velocity.Y()-want) > 1e-9 {
		t.Errorf("velocity after 60 frames = %v, want %v", body.Velocity.Y(), want)
	}
	if body.Transform.Position.Y() >= 100 || body.Transform.Position.Y() < 94 {
		t.Errorf("position after 1s of free fall = %v", body.Transform.Position.Y())
	}
	if w.Frame() != 60 {
		t.Errorf("frame = %d, want 60", w.Frame())
	}
}

func TestWorld_Determinism(t *testing.T) {
	const frames = 150

	run := func(workers int) []uint64 {
		w := newTestWorld(t, func(cfg *Config) {
			cfg.Workers = workers
			cfg.RollbackCapacity = frames
		})
		buildScene(w)
		stepN(t, w, frames)
		return checksums(t, w, 1, frames)
	}

	reference := run(1)
	for _, workers := range []int{1, 2, 4, 8} {
		got := run(workers)
		for i := range reference {
			if got[i] != reference[i] {
				t.Fatalf("workers=%d: frame %d checksum %#x, want %#x", workers, i+1, got[i], reference[i])
			}
		}
	}
}

func TestWorld_RestingBodiesSleepAndWakeAlone(t *testing.T) {
	w := newTestWorld(t, nil)
	w.AddBody(createTestPlane())
	lightID := w.AddBody(createTestSphere(mgl64.Vec3{-2, 0.5, 0}, 0.5, 1))
	heavyID := w.AddBody(createTestSphere(mgl64.Vec3{2, 0.5, 0}, 0.5, 2))
	light, _ := w.GetBody(lightID)
	heavy, _ := w.GetBody(heavyID)

	var slept, woke []actor.BodyID
	w.Events.Subscribe(ON_SLEEP, func(e Event) { slept = append(slept, e.(SleepEvent).Body) })
	w.Events.Subscribe(ON_WAKE, func(e Event) { woke = append(woke, e.(WakeEvent).Body) })

	stepN(t, w, 200)

	if !light.IsSleeping || !heavy.IsSleeping {
		t.Fatalf("after 200 frames: light sleeping %v, heavy sleeping %v", light.IsSleeping, heavy.IsSleeping)
	}
	if len(slept) != 2 || slept[0] != lightID || slept[1] != heavyID {
		t.Errorf("sleep events = %v, want [%s %s]", slept, lightID, heavyID)
	}
	if math.Abs(light.Transform.Position.Y()-0.5) > 0.01 {
		t.Errorf("light sphere rests at y=%v", light.Transform.Position.Y())
	}

	if err := w.ApplyImpulse(lightID, mgl64.Vec3{0, 10, 0}); err != nil {
		t.Fatalf("ApplyImpulse: %v", err)
	}
	stepN(t, w, 1)

	if light.IsSleeping {
		t.Error("light sphere still asleep after impulse")
	}
	if !heavy.IsSleeping {
		t.Error("heavy sphere woke up without being touched")
	}
	if light.Transform.Position.Y() <= 0.5 {
		t.Errorf("light sphere did not rise: y=%v", light.Transform.Position.Y())
	}
	if len(woke) != 1 || woke[0] != lightID {
		t.Errorf("wake events = %v, want [%s]", woke, lightID)
	}
}

func TestWorld_MovingKinematicWakesSleepingBody(t *testing.T) {
	w := newTestWorld(t, nil)
	w.AddBody(createTestPlane())
	sphereID := w.AddBody(createTestSphere(mgl64.Vec3{0, 0.5, 0}, 0.5, 1))
	pusherID := w.AddBody(actor.NewKinematicBody(actor.NewTransformAt(mgl64.Vec3{-3, 0.5, 0}), &actor.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}))
	sphere, _ := w.GetBody(sphereID)
	pusher, _ := w.GetBody(pusherID)

	var woke []actor.BodyID
	w.Events.Subscribe(ON_WAKE, func(e Event) { woke = append(woke, e.(WakeEvent).Body) })

	stepN(t, w, 200)
	if !sphere.IsSleeping {
		t.Fatalf("sphere still awake after 200 frames at rest")
	}
	if pusher.IsSleeping || pusher.Transform.Position.X() != -3 {
		t.Fatalf("resting kinematic body moved or slept: x=%v sleeping=%v", pusher.Transform.Position.X(), pusher.IsSleeping)
	}

	pusher.Velocity = mgl64.Vec3{3, 0, 0}
	stepN(t, w, 120)

	if want := -3 + 120*3*w.Config().FixedTimestep.Seconds(); math.Abs(pusher.Transform.Position.X()-want) > 1e-9 {
		t.Errorf("kinematic body at x=%v, want %v", pusher.Transform.Position.X(), want)
	}
	if len(woke) == 0 || woke[0] != sphereID {
		t.Errorf("wake events = %v, want the sphere woken by the sweep", woke)
	}
	if x := sphere.Transform.Position.X(); x < 2 || x < pusher.Transform.Position.X() {
		t.Errorf("sphere at x=%v was not pushed ahead of the box at x=%v", x, pusher.Transform.Position.X())
	}
}

func TestWorld_IslandsStayDisjoint(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.Workers = 4 })
	buildScene(w)
	kick := w.Bodies()[7].ID()

	var validated int
	w.islandHook = func(frame uint64, islands []*island.Island) {
		validated++
		if err := island.Validate(islands); err != nil {
			t.Errorf("frame %d: %v", frame, err)
		}
	}

	for w.Frame() < 180 {
		if w.Frame() == 60 {
			if err := w.ApplyImpulse(kick, mgl64.Vec3{-3, 2, 0}); err != nil {
				t.Fatalf("ApplyImpulse: %v", err)
			}
		}
		stepN(t, w, 1)
	}
	if validated != 180 {
		t.Errorf("validated %d steps, want 180", validated)
	}
}

func TestWorld_ImpulseOnStaticBodyIsIgnored(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestPlane())
	before, _ := w.GetBody(id)
	state := before.State()

	if err := w.ApplyImpulse(id, mgl64.Vec3{0, 100, 0}); err != nil {
		t.Fatalf("ApplyImpulse on static body: %v", err)
	}
	stepN(t, w, 1)

	after, _ := w.GetBody(id)
	if after.State() != state {
		t.Errorf("static body changed: %+v, want %+v", after.State(), state)
	}
}

func TestWorld_ApplyImpulseUnknownBody(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))
	if err := w.RemoveBody(id); err != nil {
		t.Fatalf("RemoveBody: %v", err)
	}

	err := w.ApplyImpulse(id, mgl64.Vec3{1, 0, 0})
	if !errors.Is(err, actor.ErrUnknownBody) && !errors.Is(err, actor.ErrStaleHandle) {
		t.Fatalf("ApplyImpulse on removed body = %v", err)
	}
	if w.inputs.Len() != 0 {
		t.Error("rejected impulse was recorded")
	}
}

func TestWorld_TimestepMismatch(t *testing.T) {
	w := newTestWorld(t, nil)
	w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))

	if err := w.Step(time.Millisecond); !errors.Is(err, ErrTimestepMismatch) {
		t.Fatalf("Step error = %v, want ErrTimestepMismatch", err)
	}
	if w.Frame() != 0 {
		t.Errorf("frame = %d after rejected step", w.Frame())
	}
}

func TestWorld_CancelledStepChangesNothing(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))
	stepN(t, w, 3)

	body, _ := w.GetBody(id)
	state := body.State()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.StepContext(ctx, w.Config().FixedTimestep); !errors.Is(err, context.Canceled) {
		t.Fatalf("StepContext error = %v, want context.Canceled", err)
	}

	if w.Frame() != 3 {
		t.Errorf("frame = %d, want 3", w.Frame())
	}
	if body.State() != state {
		t.Error("cancelled step moved the body")
	}
	if latest, _ := w.LatestFrameState(); latest.Frame != 3 {
		t.Errorf("latest recorded frame = %d, want 3", latest.Frame)
	}
}

func TestWorld_RemoveBodyCascadesJoints(t *testing.T) {
	w := newTestWorld(t, nil)
	a := createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1)
	b := createTestSphere(mgl64.Vec3{2, 5, 0}, 0.5, 1)
	c := createTestSphere(mgl64.Vec3{4, 5, 0}, 0.5, 1)
	w.AddBody(a)
	idB := w.AddBody(b)
	w.AddBody(c)

	first, err := w.AddJoint(constraint.NewBallJoint(a, b, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{-1, 0, 0}))
	if err != nil {
		t.Fatalf("AddJoint: %v", err)
	}
	second, err := w.AddJoint(constraint.NewDistanceJoint(a, c, mgl64.Vec3{}, mgl64.Vec3{}, 0, 4))
	if err != nil {
		t.Fatalf("AddJoint: %v", err)
	}
	if first >= second {
		t.Errorf("joint ids %d, %d not increasing", first, second)
	}

	if err := w.RemoveBody(idB); err != nil {
		t.Fatalf("RemoveBody: %v", err)
	}
	joints := w.Joints()
	if len(joints) != 1 || joints[0].Key().ID != second {
		t.Fatalf("joints after removal = %d, want only joint %d", len(joints), second)
	}
	stepN(t, w, 5)
}

func TestWorld_AddJointRejectsForeignBodies(t *testing.T) {
	w := newTestWorld(t, nil)
	a := createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1)
	w.AddBody(a)
	stranger := createTestSphere(mgl64.Vec3{2, 5, 0}, 0.5, 1)

	if _, err := w.AddJoint(constraint.NewBallJoint(a, stranger, mgl64.Vec3{}, mgl64.Vec3{})); !errors.Is(err, actor.ErrUnknownBody) {
		t.Fatalf("AddJoint error = %v, want ErrUnknownBody", err)
	}
	if len(w.Joints()) != 0 {
		t.Error("rejected joint was registered")
	}
}

func TestWorld_DistanceJointHoldsLength(t *testing.T) {
	w := newTestWorld(t, nil)
	anchor := actor.NewRigidBody(actor.NewTransformAt(mgl64.Vec3{0, 10, 0}), &actor.Box{HalfExtents: mgl64.Vec3{0.1, 0.1, 0.1}}, 0)
	bob := createTestSphere(mgl64.Vec3{2, 10, 0}, 0.25, 1)
	w.AddBody(anchor)
	w.AddBody(bob)
	if _, err := w.AddJoint(constraint.NewDistanceJoint(anchor, bob, mgl64.Vec3{}, mgl64.Vec3{}, 2, 2)); err != nil {
		t.Fatalf("AddJoint: %v", err)
	}

	for i := 0; i < 90; i++ {
		stepN(t, w, 1)
		length := bob.Transform.Position.Sub(anchor.Transform.Position).Len()
		if math.Abs(length-2) > 0.05 {
			t.Fatalf("frame %d: rod length %v, want 2", w.Frame(), length)
		}
	}
	if bob.Transform.Position.Y() >= 10 {
		t.Error("pendulum did not swing down")
	}
}

func TestWorld_NonFinitePoseIsAFault(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))
	body, _ := w.GetBody(id)

	var faults []FaultEvent
	w.Events.Subscribe(ON_FAULT, func(e Event) { faults = append(faults, e.(FaultEvent)) })

	body.Velocity = mgl64.Vec3{math.NaN(), 0, 0}
	stepN(t, w, 1)

	if len(faults) != 1 {
		t.Fatalf("got %d faults, want 1", len(faults))
	}
	if faults[0].Frame != 1 || faults[0].Body != id || !errors.Is(faults[0].Err, constraint.ErrNonFinite) {
		t.Errorf("fault = %+v", faults[0])
	}
	if !actor.IsFinite(body.Transform.Position) || !actor.IsFinite(body.Velocity) {
		t.Error("non-finite state leaked into the body")
	}
	if state, _ := w.FrameState(1); !state.Degraded {
		t.Error("frame 1 not flagged degraded")
	}

	stepN(t, w, 1)
	if state, _ := w.FrameState(2); state.Degraded {
		t.Error("frame 2 flagged degraded")
	}
}

func TestWorld_ConfirmAndStatus(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.RollbackCapacity = 4 })
	w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))

	var desyncs []DesyncEvent
	w.Events.Subscribe(ON_DESYNC, func(e Event) { desyncs = append(desyncs, e.(DesyncEvent)) })

	stepN(t, w, 10)

	tests := []struct {
		frame uint64
		want  rollback.FrameStatus
	}{
		{2, rollback.StatusConfirmed},
		{6, rollback.StatusConfirmed},
		{7, rollback.StatusChecksummed},
		{10, rollback.StatusChecksummed},
		{11, rollback.StatusPending},
	}
	for _, tt := range tests {
		if got := w.Status(tt.frame); got != tt.want {
			t.Errorf("Status(%d) = %s, want %s", tt.frame, got, tt.want)
		}
	}

	state, err := w.FrameState(8)
	if err != nil {
		t.Fatalf("FrameState(8): %v", err)
	}

	err = w.Confirm(8, state.Checksum+1)
	var desync *DesyncError
	if !errors.As(err, &desync) || !errors.Is(err, ErrDesync) {
		t.Fatalf("Confirm with wrong checksum = %v, want *DesyncError", err)
	}
	if desync.Frame != 8 || desync.Local != state.Checksum || desync.Remote != state.Checksum+1 {
		t.Errorf("desync = %+v", desync)
	}
	if len(desyncs) != 1 || desyncs[0].Frame != 8 {
		t.Errorf("desync events = %+v", desyncs)
	}
	if got := w.Status(8); got != rollback.StatusChecksummed {
		t.Errorf("Status(8) after desync = %s", got)
	}

	if err := w.Confirm(8, state.Checksum); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got := w.Status(8); got != rollback.StatusConfirmed {
		t.Errorf("Status(8) = %s, want confirmed", got)
	}

	if err := w.Confirm(3, 0); !errors.Is(err, rollback.ErrFrameUnavailable) {
		t.Errorf("Confirm of an evicted frame = %v, want ErrFrameUnavailable", err)
	}
}

func TestWorld_RollbackReplaysHistory(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.Workers = 4 })
	buildScene(w)
	kick := w.Bodies()[7].ID()

	var collisions, rollbacks int
	var superseded []rollback.FrameState
	w.Events.Subscribe(COLLISION_ENTER, func(Event) { collisions++ })
	w.Events.Subscribe(ON_ROLLBACK, func(e Event) {
		rollbacks++
		r := e.(RollbackEvent)
		if r.From != 5 || r.To != 40 {
			t.Errorf("rollback event = %d -> %d, want 5 -> 40", r.From, r.To)
		}
		superseded = r.Superseded
	})

	for w.Frame() < 40 {
		if w.Frame() == 10 || w.Frame() == 25 {
			if err := w.ApplyImpulse(kick, mgl64.Vec3{1.5, 4, -0.5}); err != nil {
				t.Fatalf("ApplyImpulse: %v", err)
			}
		}
		stepN(t, w, 1)
	}
	// pending input for frame 41
	if err := w.ApplyImpulse(kick, mgl64.Vec3{0, 2, 0}); err != nil {
		t.Fatalf("ApplyImpulse: %v", err)
	}

	want := checksums(t, w, 5, 40)
	kicked, _ := w.GetBody(kick)
	pending := kicked.Velocity

	// frames not re-simulated yet are rolled back while the replay runs
	var replaying []rollback.FrameStatus
	w.islandHook = func(frame uint64, _ []*island.Island) {
		replaying = append(replaying, w.Status(frame), w.Status(40))
	}

	frame5, _ := w.FrameState(5)
	collisions = 0
	if err := w.RequestRollback(5, frame5.Blob); err != nil {
		t.Fatalf("RequestRollback: %v", err)
	}
	w.islandHook = nil

	if len(replaying) != 2*35 {
		t.Fatalf("observed %d replayed steps, want 35", len(replaying)/2)
	}
	if replaying[0] != rollback.StatusRolledBack || replaying[1] != rollback.StatusRolledBack {
		t.Errorf("during the first replayed step: frame 6 %s, frame 40 %s, want rolled back", replaying[0], replaying[1])
	}

	if len(superseded) != len(want) {
		t.Fatalf("rollback event carries %d superseded frames, want %d", len(superseded), len(want))
	}
	for i, state := range superseded {
		if state.Frame != uint64(i+5) || state.Checksum != want[i] {
			t.Errorf("superseded[%d] = frame %d %#x, want frame %d %#x", i, state.Frame, state.Checksum, i+5, want[i])
		}
		if old, ok := w.Superseded(state.Frame); !ok || old.Checksum != state.Checksum {
			t.Errorf("Superseded(%d) = %#x, %v", state.Frame, old.Checksum, ok)
		}
	}
	if _, ok := w.Superseded(4); ok {
		t.Errorf("frame 4 was not touched by the rollback")
	}

	if w.Frame() != 40 {
		t.Fatalf("frame after rollback = %d, want 40", w.Frame())
	}
	got := checksums(t, w, 5, 40)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d checksum %#x after rollback, want %#x", i+5, got[i], want[i])
		}
	}
	if kicked.Velocity != pending {
		t.Errorf("pending impulse lost: velocity %v, want %v", kicked.Velocity, pending)
	}
	if w.Status(5) != rollback.StatusConfirmed || w.Status(6) != rollback.StatusChecksummed {
		t.Errorf("statuses after rollback: 5=%s 6=%s", w.Status(5), w.Status(6))
	}
	if collisions != 0 {
		t.Errorf("re-simulation emitted %d collision events", collisions)
	}
	if rollbacks != 1 {
		t.Errorf("got %d rollback events, want 1", rollbacks)
	}

	// the world keeps stepping from the restored timeline
	stepN(t, w, 5)
}

func TestWorld_RollbackRejected(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.RollbackCapacity = 8 })
	w.AddBody(createTestPlane())
	w.AddBody(createTestSphere(mgl64.Vec3{0, 3, 0}, 0.5, 1))
	stepN(t, w, 12)

	frame6, _ := w.FrameState(6)
	latest, _ := w.LatestFrameState()

	corrupt := append([]byte(nil), frame6.Blob...)
	corrupt = corrupt[:len(corrupt)-3]

	tests := []struct {
		name  string
		frame uint64
		blob  []byte
		want  error
	}{
		{"header frame differs", 7, frame6.Blob, rollback.ErrCorruptBlob},
		{"truncated blob", 6, corrupt, rollback.ErrCorruptBlob},
		{"evicted frame", 2, rollback.Encode(2, false, w.captureStates()), rollback.ErrFrameUnavailable},
		{"future frame", 20, rollback.Encode(20, false, w.captureStates()), rollback.ErrFrameUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.RequestRollback(tt.frame, tt.blob); !errors.Is(err, tt.want) {
				t.Fatalf("RequestRollback = %v, want %v", err, tt.want)
			}
			if w.Frame() != 12 {
				t.Errorf("frame = %d, want 12", w.Frame())
			}
			if now, _ := w.LatestFrameState(); now.Checksum != latest.Checksum {
				t.Error("rejected rollback changed the history")
			}
		})
	}

	t.Run("live body missing from the blob", func(t *testing.T) {
		_, states, err := rollback.Decode(frame6.Blob)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		// the sphere exists since frame 1
		planeOnly := rollback.Encode(6, false, states[:1])
		if err := w.RequestRollback(6, planeOnly); !errors.Is(err, actor.ErrUnknownBody) {
			t.Fatalf("RequestRollback = %v, want ErrUnknownBody", err)
		}
		if w.Frame() != 12 {
			t.Errorf("frame = %d, want 12", w.Frame())
		}
	})
}

func TestWorld_RollbackAcrossSpawnedBody(t *testing.T) {
	w := newTestWorld(t, nil)
	w.AddBody(createTestPlane())
	w.AddBody(createTestSphere(mgl64.Vec3{0, 3, 0}, 0.5, 1))
	stepN(t, w, 10)

	// lands on the first sphere, so replaying it too early or too late shows
	spawnedID := w.AddBody(createTestSphere(mgl64.Vec3{0.2, 6, 0}, 0.5, 1))
	if err := w.ApplyImpulse(spawnedID, mgl64.Vec3{0, -1, 0}); err != nil {
		t.Fatalf("ApplyImpulse: %v", err)
	}
	stepN(t, w, 20)

	want := checksums(t, w, 5, 30)
	frame5, _ := w.FrameState(5)
	if _, states, _ := rollback.Decode(frame5.Blob); len(states) != 2 {
		t.Fatalf("frame 5 holds %d bodies, want 2", len(states))
	}

	if err := w.RequestRollback(5, frame5.Blob); err != nil {
		t.Fatalf("RequestRollback: %v", err)
	}
	got := checksums(t, w, 5, 30)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d checksum %#x after rollback, want %#x", i+5, got[i], want[i])
		}
	}
	if len(w.held) != 0 {
		t.Errorf("%d bodies still held out after the replay", len(w.held))
	}

	// the removed sphere of frame 5 is ignored
	frame12, _ := w.FrameState(12)
	stepN(t, w, 1)
	if err := w.RemoveBody(spawnedID); err != nil {
		t.Fatalf("RemoveBody: %v", err)
	}
	if err := w.RequestRollback(12, frame12.Blob); err != nil {
		t.Fatalf("RequestRollback after removal: %v", err)
	}
	if w.Frame() != 31 {
		t.Errorf("frame = %d, want 31", w.Frame())
	}
}

func TestWorld_ReplayedInputsAreNotRecordedTwice(t *testing.T) {
	w := newTestWorld(t, nil)
	id := w.AddBody(createTestSphere(mgl64.Vec3{0, 5, 0}, 0.5, 1))

	stepN(t, w, 2)
	if err := w.ApplyImpulse(id, mgl64.Vec3{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	stepN(t, w, 3)

	frame1, _ := w.FrameState(1)
	if err := w.RequestRollback(1, frame1.Blob); err != nil {
		t.Fatalf("RequestRollback: %v", err)
	}
	if got := len(w.inputs.At(3)); got != 1 {
		t.Errorf("frame 3 holds %d inputs after replay, want 1", got)
	}
}
