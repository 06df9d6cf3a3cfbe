package rollback

import (
	"fmt"
	"sync"
)

type entry struct {
	state  FrameState
	status FrameStatus
	// superseded is the prediction this frame replaced, if any
	superseded *FrameState
}

// Buffer is a fixed capacity ring of consecutive frames, oldest evicted first.
// It is safe for concurrent use: the simulation pushes while a transport may
// read the latest frame.
//
// Frames dropped by Truncate are RolledBack. Until the same frame index is
// pushed again they wait in rolledBack, then the new entry keeps them as its
// superseded prediction for as long as it stays in the window.
type Buffer struct {
	mu         sync.RWMutex
	entries    []entry
	start      int
	size       int
	rolledBack []FrameState
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{entries: make([]entry, capacity)}
}

func (b *Buffer) Capacity() int {
	return len(b.entries)
}

func (b *Buffer) at(i int) *entry {
	return &b.entries[(b.start+i)%len(b.entries)]
}

// Push appends a checksummed frame. Frames must be pushed in ascending
// consecutive order. When the ring is full the oldest frame leaves the
// window: it can no longer be corrected and is returned as evicted.
func (b *Buffer) Push(state FrameState) (evicted FrameState, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size > 0 {
		if newest := b.at(b.size - 1).state.Frame; state.Frame != newest+1 {
			return FrameState{}, false, fmt.Errorf("push frame %d: newest buffered frame is %d", state.Frame, newest)
		}
	}

	if b.size == len(b.entries) {
		evicted, ok = b.at(0).state, true
		*b.at(0) = entry{}
		b.start = (b.start + 1) % len(b.entries)
		b.size--
	}

	e := entry{state: state, status: StatusChecksummed}
	for len(b.rolledBack) > 0 && b.rolledBack[0].Frame <= state.Frame {
		if b.rolledBack[0].Frame == state.Frame {
			superseded := b.rolledBack[0]
			e.superseded = &superseded
		}
		b.rolledBack = b.rolledBack[1:]
	}
	*b.at(b.size) = e
	b.size++
	return evicted, ok, nil
}

func (b *Buffer) findRolledBack(frame uint64) (FrameState, bool) {
	for _, state := range b.rolledBack {
		if state.Frame == frame {
			return state, true
		}
	}
	return FrameState{}, false
}

func (b *Buffer) find(frame uint64) (*entry, error) {
	if b.size == 0 {
		return nil, fmt.Errorf("%w: frame %d, buffer empty", ErrFrameUnavailable, frame)
	}
	oldest := b.at(0).state.Frame
	if frame < oldest || frame-oldest >= uint64(b.size) {
		return nil, fmt.Errorf("%w: frame %d, window [%d, %d]", ErrFrameUnavailable, frame, oldest, b.at(b.size-1).state.Frame)
	}
	return b.at(int(frame - oldest)), nil
}

func (b *Buffer) Get(frame uint64) (FrameState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.find(frame)
	if err != nil {
		return FrameState{}, err
	}
	return e.state, nil
}

// Status reports the status of the prediction held for frame. A frame dropped
// by Truncate and not pushed again is RolledBack.
func (b *Buffer) Status(frame uint64) (FrameStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.find(frame)
	if err != nil {
		if _, ok := b.findRolledBack(frame); ok {
			return StatusRolledBack, nil
		}
		return StatusPending, err
	}
	return e.status, nil
}

// Superseded returns the rolled back prediction of frame, if the frame was
// replaced or truncated since it was first pushed
func (b *Buffer) Superseded(frame uint64) (FrameState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if state, ok := b.findRolledBack(frame); ok {
		return state, true
	}
	e, err := b.find(frame)
	if err != nil || e.superseded == nil {
		return FrameState{}, false
	}
	return *e.superseded, true
}

// Confirm marks a buffered frame as final
func (b *Buffer) Confirm(frame uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.find(frame)
	if err != nil {
		return err
	}
	e.status = StatusConfirmed
	return nil
}

// Replace overwrites a buffered frame with an authoritative state, which is
// final by definition. The local prediction it replaces is kept as superseded.
func (b *Buffer) Replace(state FrameState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.find(state.Frame)
	if err != nil {
		return err
	}
	superseded := e.state
	*e = entry{state: state, status: StatusConfirmed, superseded: &superseded}
	return nil
}

// Truncate drops every frame newer than frame and returns them, oldest first.
// The dropped frames are superseded: their status is RolledBack.
func (b *Buffer) Truncate(frame uint64) ([]FrameState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.find(frame); err != nil {
		return nil, err
	}
	keep := int(frame-b.at(0).state.Frame) + 1

	dropped := make([]FrameState, 0, b.size-keep)
	for i := keep; i < b.size; i++ {
		e := b.at(i)
		dropped = append(dropped, e.state)
		*e = entry{}
	}
	b.size = keep

	// older rolled back frames are all newer than the dropped ones
	b.rolledBack = append(append([]FrameState(nil), dropped...), b.rolledBack...)
	return dropped, nil
}

// Latest returns the newest frame
func (b *Buffer) Latest() (FrameState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return FrameState{}, false
	}
	return b.at(b.size - 1).state, true
}

// Window reports the buffered frame range
func (b *Buffer) Window() (size int, oldest, newest uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return 0, 0, 0
	}
	return b.size, b.at(0).state.Frame, b.at(b.size - 1).state.Frame
}

// Reset empties the ring and starts over from state
func (b *Buffer) Reset(state FrameState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		b.entries[i] = entry{}
	}
	b.start = 0
	b.rolledBack = nil
	b.entries[0] = entry{state: state, status: StatusChecksummed}
	b.size = 1
}
