package rollback

import (
	"github.com/akmonengine/tether/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// Impulse is one recorded ApplyImpulse call
type Impulse struct {
	Body    actor.BodyID
	Impulse mgl64.Vec3
}

type frameInputs struct {
	frame    uint64
	impulses []Impulse
}

// InputLog records, for each frame, the impulses applied before stepping into
// it. Re-simulation replays them verbatim and in call order.
type InputLog struct {
	frames []frameInputs
}

// Record appends an impulse to frame. Frames are recorded in ascending order.
func (l *InputLog) Record(frame uint64, impulse Impulse) {
	if n := len(l.frames); n > 0 && l.frames[n-1].frame == frame {
		l.frames[n-1].impulses = append(l.frames[n-1].impulses, impulse)
		return
	}
	l.frames = append(l.frames, frameInputs{frame: frame, impulses: []Impulse{impulse}})
}

// At returns the impulses recorded for frame, in call order
func (l *InputLog) At(frame uint64) []Impulse {
	for i := len(l.frames) - 1; i >= 0; i-- {
		if l.frames[i].frame == frame {
			return l.frames[i].impulses
		}
		if l.frames[i].frame < frame {
			break
		}
	}
	return nil
}

// Prune forgets every frame older than frame
func (l *InputLog) Prune(frame uint64) {
	keep := 0
	for keep < len(l.frames) && l.frames[keep].frame < frame {
		keep++
	}
	if keep > 0 {
		l.frames = append(l.frames[:0], l.frames[keep:]...)
	}
}

// Len returns the number of frames holding inputs
func (l *InputLog) Len() int {
	return len(l.frames)
}
