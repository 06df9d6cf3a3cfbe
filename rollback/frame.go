// Package rollback keeps the per-frame history needed to reconcile a predicted
// simulation with an authority: checksummed snapshots in a fixed-size ring and
// the inputs applied on each frame.
package rollback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/akmonengine/tether/actor"
)

var (
	ErrFrameUnavailable = errors.New("frame not in rollback window")
	ErrCorruptBlob      = errors.New("corrupt state blob")
)

// FrameStatus is the lifecycle of a frame:
// Pending -> Checksummed -> Confirmed | RolledBack
// A step simulates and checksums a frame in one go, nothing can observe it in
// between.
type FrameStatus uint8

const (
	StatusPending FrameStatus = iota
	StatusChecksummed
	StatusConfirmed
	StatusRolledBack
)

func (s FrameStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusChecksummed:
		return "checksummed"
	case StatusConfirmed:
		return "confirmed"
	case StatusRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("FrameStatus(%d)", uint8(s))
}

// Terminal reports whether no further transition can happen
func (s FrameStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRolledBack
}

// FrameState is an immutable snapshot of the world after a step. Blob must not
// be modified once the state is built.
type FrameState struct {
	Frame    uint64
	Checksum uint64
	// Degraded is set when a numerical fault was recovered during the step
	Degraded bool
	Blob     []byte
}

// NewFrameState encodes the body states and checksums the result
func NewFrameState(frame uint64, degraded bool, bodies []actor.BodyState) FrameState {
	blob := Encode(frame, degraded, bodies)
	return FrameState{
		Frame:    frame,
		Checksum: Checksum(frame, blob),
		Degraded: degraded,
		Blob:     blob,
	}
}

// checksumSalt mixes the frame number into the hash, so identical states on
// different frames do not collide
const checksumSalt = 1315423911

// Checksum is FNV-1a 64 over the blob, xor frame * 1315423911
func Checksum(frame uint64, blob []byte) uint64 {
	h := fnv.New64a()
	h.Write(blob)
	return h.Sum64() ^ (frame * checksumSalt)
}

const (
	blobMagic   = 0x54485452 // "THTR"
	blobVersion = 1

	headerSize = 4 + 2 + 8 + 1 + 4
)

// Header is the fixed prefix of a state blob
type Header struct {
	Version  uint16
	Frame    uint64
	Degraded bool
	Count    uint32
}

// Encode serializes the body states, which must be in ascending id order.
// The layout is little-endian and fixed size per body.
func Encode(frame uint64, degraded bool, bodies []actor.BodyState) []byte {
	blob := make([]byte, 0, headerSize+len(bodies)*actor.BodyStateSize)
	blob = binary.LittleEndian.AppendUint32(blob, blobMagic)
	blob = binary.LittleEndian.AppendUint16(blob, blobVersion)
	blob = binary.LittleEndian.AppendUint64(blob, frame)
	if degraded {
		blob = append(blob, 1)
	} else {
		blob = append(blob, 0)
	}
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(bodies)))

	for _, body := range bodies {
		blob = body.AppendBinary(blob)
	}
	return blob
}

// Decode parses a blob produced by Encode
func Decode(blob []byte) (Header, []actor.BodyState, error) {
	if len(blob) < headerSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptBlob, len(blob))
	}
	if magic := binary.LittleEndian.Uint32(blob); magic != blobMagic {
		return Header{}, nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptBlob, magic)
	}

	header := Header{
		Version:  binary.LittleEndian.Uint16(blob[4:]),
		Frame:    binary.LittleEndian.Uint64(blob[6:]),
		Degraded: blob[14] != 0,
		Count:    binary.LittleEndian.Uint32(blob[15:]),
	}
	if header.Version != blobVersion {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBlob, header.Version)
	}

	body := blob[headerSize:]
	if want := int(header.Count) * actor.BodyStateSize; len(body) != want {
		return Header{}, nil, fmt.Errorf("%w: %d bodies need %d bytes, have %d", ErrCorruptBlob, header.Count, want, len(body))
	}

	states := make([]actor.BodyState, 0, header.Count)
	for i := 0; i < int(header.Count); i++ {
		state, err := actor.DecodeBodyState(body[i*actor.BodyStateSize:])
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
		}
		if n := len(states); n > 0 && !states[n-1].ID.Less(state.ID) {
			return Header{}, nil, fmt.Errorf("%w: body %s out of order", ErrCorruptBlob, state.ID)
		}
		states = append(states, state)
	}
	return header, states, nil
}
