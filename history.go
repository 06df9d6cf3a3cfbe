package tether

import (
	"context"
	"fmt"
	"slices"

	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/rollback"
)

// record pushes the frame into the rollback window. Inputs of frames that left
// the window can never be replayed and are forgotten.
func (w *World) record(state rollback.FrameState) {
	if _, evicted, err := w.history.Push(state); err != nil {
		// the window no longer follows the frame counter (bodies restored by
		// hand), start a new window from this frame
		w.logger.Printf("tether: frame %d: %v, resetting rollback window", state.Frame, err)
		w.history.Reset(state)
	} else if evicted {
		_, oldest, _ := w.history.Window()
		w.inputs.Prune(oldest + 1)
		w.pruneSpawns(oldest + 1)
	}
}

// spawn is the state a body was added with and the first frame it takes
// part in
type spawn struct {
	frame uint64
	state actor.BodyState
}

// pruneSpawns forgets the spawns before frame: no rollback can reach a frame
// where those bodies did not exist yet
func (w *World) pruneSpawns(frame uint64) {
	n := 0
	for _, s := range w.spawns {
		if s.frame >= frame {
			w.spawns[n] = s
			n++
		}
	}
	clear(w.spawns[n:])
	w.spawns = w.spawns[:n]
}

func (w *World) spawnOf(id actor.BodyID) (spawn, bool) {
	for _, s := range w.spawns {
		if s.state.ID == id {
			return s, true
		}
	}
	return spawn{}, false
}

func (w *World) forgetSpawn(id actor.BodyID) {
	w.spawns = slices.DeleteFunc(w.spawns, func(s spawn) bool { return s.state.ID == id })
	w.held = slices.DeleteFunc(w.held, func(s spawn) bool { return s.state.ID == id })
}

func (w *World) isHeld(id actor.BodyID) bool {
	for _, s := range w.held {
		if s.state.ID == id {
			return true
		}
	}
	return false
}

// release lets the held bodies spawned at or before frame rejoin the simulation
func (w *World) release(frame uint64) {
	if len(w.held) == 0 {
		return
	}
	var held []spawn
	for _, s := range w.held {
		if s.frame > frame {
			held = append(held, s)
		}
	}
	w.held = held
}

// liveBodies returns the bodies taking part in the simulation, in ascending
// id order
func (w *World) liveBodies() []*actor.RigidBody {
	bodies := w.store.Bodies()
	if len(w.held) == 0 {
		return bodies
	}
	live := make([]*actor.RigidBody, 0, len(bodies))
	for _, body := range bodies {
		if !w.isHeld(body.ID()) {
			live = append(live, body)
		}
	}
	return live
}

// LatestFrameState returns the snapshot of the last simulated frame
func (w *World) LatestFrameState() (rollback.FrameState, bool) {
	return w.history.Latest()
}

// FrameState returns a frame still inside the rollback window
func (w *World) FrameState(frame uint64) (rollback.FrameState, error) {
	return w.history.Get(frame)
}

// Status reports where the current prediction of a frame is in its
// lifecycle. Frames not simulated yet are pending, frames that left the
// window are confirmed: no correction can reach them anymore. A frame dropped
// by a rollback stays rolled back until it is simulated again.
func (w *World) Status(frame uint64) rollback.FrameStatus {
	status, err := w.history.Status(frame)
	switch {
	case err == nil:
		return status
	case frame > w.frame:
		return rollback.StatusPending
	}
	return rollback.StatusConfirmed
}

// Superseded returns the prediction of frame that a rollback replaced, as long
// as the frame is in the rollback window
func (w *World) Superseded(frame uint64) (rollback.FrameState, bool) {
	return w.history.Superseded(frame)
}

// Confirm compares an authoritative checksum with the local frame. A match
// marks the frame confirmed; a mismatch emits a DesyncEvent and returns a
// *DesyncError. Remediation, usually RequestRollback, is up to the caller.
func (w *World) Confirm(frame, checksum uint64) error {
	state, err := w.history.Get(frame)
	if err != nil {
		return err
	}

	if state.Checksum != checksum {
		w.Events.emit(DesyncEvent{Frame: frame, Local: state.Checksum, Remote: checksum})
		w.Events.flush()
		w.logger.Printf("tether: frame %d: desync, local %#016x remote %#016x", frame, state.Checksum, checksum)
		w.metrics.Add(MetricDesyncs, 1)
		return &DesyncError{Frame: frame, Local: state.Checksum, Remote: checksum}
	}
	return w.history.Confirm(frame)
}

// RequestRollback restores the authoritative state of frame from blob, drops
// every newer frame and re-simulates up to the current frame, replaying the
// recorded inputs.
//
// Blob bodies removed since are ignored. Bodies added after frame go back to
// the state they were added with and rejoin the simulation on the frame they
// were added for. Any other live body missing from the blob is an error, and
// nothing is changed.
func (w *World) RequestRollback(frame uint64, blob []byte) error {
	header, states, err := rollback.Decode(blob)
	if err != nil {
		return err
	}
	if header.Frame != frame {
		return fmt.Errorf("%w: blob holds frame %d, rollback requested to %d", rollback.ErrCorruptBlob, header.Frame, frame)
	}
	if frame > w.frame {
		return fmt.Errorf("%w: frame %d is ahead of the simulation (frame %d)", rollback.ErrFrameUnavailable, frame, w.frame)
	}
	local, err := w.history.Get(frame)
	if err != nil {
		return err
	}

	inBlob := make(map[actor.BodyID]struct{}, len(states))
	for _, state := range states {
		inBlob[state.ID] = struct{}{}
	}
	var held []spawn
	for _, body := range w.store.Bodies() {
		id := body.ID()
		if _, ok := inBlob[id]; ok {
			continue
		}
		s, ok := w.spawnOf(id)
		if !ok || s.frame <= frame {
			return fmt.Errorf("rollback to frame %d: %w: %s is missing from the blob", frame, actor.ErrUnknownBody, id)
		}
		held = append(held, s)
	}

	target := w.frame
	dropped, err := w.history.Truncate(frame)
	if err != nil {
		return err
	}
	authoritative := append([]byte(nil), blob...)
	if err := w.history.Replace(rollback.FrameState{
		Frame:    frame,
		Checksum: rollback.Checksum(frame, authoritative),
		Degraded: header.Degraded,
		Blob:     authoritative,
	}); err != nil {
		return err
	}

	w.restoreStates(states)
	for _, s := range held {
		if body, ok := w.store.Get(s.state.ID); ok {
			body.Restore(s.state)
		}
	}
	w.held = held
	w.frame = frame

	w.replaying = true
	w.Events.muted = true
	defer func() {
		w.replaying = false
		w.Events.muted = false
	}()

	for w.frame < target {
		w.replayInputs(w.frame + 1)
		if err := w.step(context.Background()); err != nil {
			return fmt.Errorf("re-simulate frame %d: %w", w.frame+1, err)
		}
		w.Events.flush()
	}
	// inputs already applied for the next step were overwritten by the restore
	w.replayInputs(target + 1)

	w.Events.emit(RollbackEvent{From: frame, To: target, Superseded: append([]rollback.FrameState{local}, dropped...)})
	w.Events.flush()
	w.logger.Printf("tether: rolled back to frame %d, re-simulated %d frames", frame, target-frame)
	w.metrics.Add(MetricRollbacks, 1)
	return nil
}

func (w *World) replayInputs(frame uint64) {
	for _, input := range w.inputs.At(frame) {
		// the body may have been removed since, its input is void
		_ = w.store.ApplyImpulse(input.Body, input.Impulse)
	}
}
