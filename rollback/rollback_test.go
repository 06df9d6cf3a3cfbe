package rollback

import (
	"errors"
	"testing"

	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

func states() []actor.BodyState {
	return []actor.BodyState{
		{
			ID:       actor.BodyID{Index: 0, Generation: 1},
			Position: mgl64.Vec3{0, -1, 0},
			Rotation: mgl64.QuatIdent(),
		},
		{
			ID:              actor.BodyID{Index: 3, Generation: 2},
			Sleeping:        true,
			LowMotionFrames: 121,
			Position:        mgl64.Vec3{1.5, 0.5, -2},
			Rotation:        mgl64.Quat{W: 0.5, V: mgl64.Vec3{0.5, 0.5, 0.5}},
			Velocity:        mgl64.Vec3{0.1, -9.81, 1e-300},
			AngularVelocity: mgl64.Vec3{0, 3.25, 0},
		},
	}
}

func TestDecode_Exact(t *testing.T) {
	blob := Encode(42, true, states())

	header, decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if header.Frame != 42 || !header.Degraded || header.Count != 2 {
		t.Errorf("unexpected header %+v", header)
	}
	for i, want := range states() {
		if decoded[i] != want {
			t.Errorf("body %d: got %+v, want %+v", i, decoded[i], want)
		}
	}
}

func TestDecode_Corrupt(t *testing.T) {
	valid := Encode(1, false, states())

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "empty", blob: nil},
		{name: "truncated", blob: valid[:len(valid)-1]},
		{name: "bad magic", blob: append([]byte{0, 0, 0, 0}, valid[4:]...)},
		{name: "out of order", blob: Encode(1, false, []actor.BodyState{states()[1], states()[0]})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.blob); !errors.Is(err, ErrCorruptBlob) {
				t.Errorf("expected ErrCorruptBlob, got %v", err)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	blob := Encode(10, false, states())

	if Checksum(10, blob) != Checksum(10, Encode(10, false, states())) {
		t.Errorf("checksum must only depend on frame and blob")
	}
	if Checksum(10, blob) == Checksum(11, blob) {
		t.Errorf("frame must be mixed into the checksum")
	}

	moved := states()
	moved[1].Position[0] += 1e-12
	if Checksum(10, blob) == Checksum(10, Encode(10, false, moved)) {
		t.Errorf("a tiny position change must change the checksum")
	}
}

func frame(n uint64) FrameState {
	return NewFrameState(n, false, states())
}

func TestBuffer_Eviction(t *testing.T) {
	buffer := NewBuffer(3)

	var evicted []uint64
	for i := uint64(1); i <= 5; i++ {
		old, ok, err := buffer.Push(frame(i))
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if ok {
			evicted = append(evicted, old.Frame)
		}
	}

	if len(evicted) != 2 || evicted[0] != 1 || evicted[1] != 2 {
		t.Errorf("expected frames 1 and 2 evicted, got %v", evicted)
	}
	if size, oldest, newest := buffer.Window(); size != 3 || oldest != 3 || newest != 5 {
		t.Errorf("window = (%d, %d, %d), want (3, 3, 5)", size, oldest, newest)
	}
	if _, err := buffer.Get(2); !errors.Is(err, ErrFrameUnavailable) {
		t.Errorf("expected ErrFrameUnavailable, got %v", err)
	}
	if _, _, err := buffer.Push(frame(7)); err == nil {
		t.Errorf("expected an error for a non consecutive frame")
	}
}

func TestBuffer_Status(t *testing.T) {
	buffer := NewBuffer(10)
	for i := uint64(1); i <= 4; i++ {
		buffer.Push(frame(i))
	}

	if status, _ := buffer.Status(2); status != StatusChecksummed {
		t.Errorf("status = %s, want checksummed", status)
	}
	if err := buffer.Confirm(2); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if status, _ := buffer.Status(2); status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", status)
	}

	dropped, err := buffer.Truncate(2)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(dropped) != 2 || dropped[0].Frame != 3 || dropped[1].Frame != 4 {
		t.Errorf("unexpected dropped frames %+v", dropped)
	}
	if latest, _ := buffer.Latest(); latest.Frame != 2 {
		t.Errorf("latest = %d, want 2", latest.Frame)
	}
	if _, _, err := buffer.Push(frame(3)); err != nil {
		t.Errorf("re-simulated frame must be accepted: %v", err)
	}
}

func TestBuffer_RolledBackFrames(t *testing.T) {
	buffer := NewBuffer(10)
	for i := uint64(1); i <= 5; i++ {
		buffer.Push(frame(i))
	}

	authoritative := frame(2)
	authoritative.Checksum++
	if err := buffer.Replace(authoritative); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := buffer.Truncate(2); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	tests := []struct {
		frame      uint64
		status     FrameStatus
		superseded bool
	}{
		{1, StatusChecksummed, false},
		{2, StatusConfirmed, true},
		{3, StatusRolledBack, true},
		{4, StatusRolledBack, true},
		{5, StatusRolledBack, true},
		{6, StatusPending, false},
	}
	for _, tt := range tests {
		status, _ := buffer.Status(tt.frame)
		if status != tt.status {
			t.Errorf("frame %d: status = %s, want %s", tt.frame, status, tt.status)
		}
		old, ok := buffer.Superseded(tt.frame)
		if ok != tt.superseded {
			t.Errorf("frame %d: superseded = %v, want %v", tt.frame, ok, tt.superseded)
		}
		if ok && old.Checksum != frame(tt.frame).Checksum {
			t.Errorf("frame %d: superseded checksum %#x, want the original prediction", tt.frame, old.Checksum)
		}
	}

	// re-simulating frame 3 moves its old prediction onto the new entry
	buffer.Push(frame(3))
	if status, _ := buffer.Status(3); status != StatusChecksummed {
		t.Errorf("re-simulated frame 3: status = %s, want checksummed", status)
	}
	if _, ok := buffer.Superseded(3); !ok {
		t.Errorf("re-simulated frame 3 lost its superseded prediction")
	}
	if status, _ := buffer.Status(4); status != StatusRolledBack {
		t.Errorf("frame 4: status = %s, want rolled back", status)
	}

	buffer.Reset(frame(10))
	if status, _ := buffer.Status(4); status != StatusPending {
		t.Errorf("after reset: frame 4 status = %s, want pending", status)
	}
}

func TestInputLog(t *testing.T) {
	var log InputLog
	a := actor.BodyID{Index: 1, Generation: 1}
	b := actor.BodyID{Index: 2, Generation: 1}

	log.Record(5, Impulse{Body: a, Impulse: mgl64.Vec3{0, 10, 0}})
	log.Record(5, Impulse{Body: b, Impulse: mgl64.Vec3{1, 0, 0}})
	log.Record(8, Impulse{Body: a, Impulse: mgl64.Vec3{0, 0, 1}})

	if got := log.At(5); len(got) != 2 || got[0].Body != a || got[1].Body != b {
		t.Errorf("frame 5 inputs = %+v", got)
	}
	if got := log.At(6); got != nil {
		t.Errorf("frame 6 has no inputs, got %+v", got)
	}

	log.Prune(6)
	if log.Len() != 1 || log.At(5) != nil || len(log.At(8)) != 1 {
		t.Errorf("prune kept the wrong frames")
	}
}
