// Package netsync turns checksummed frames into packets for a transport and
// compares authoritative packets against local frames. It performs no I/O.
package netsync

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/akmonengine/tether/rollback"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrDecode = errors.New("invalid sync packet")

// SyncPacket is the wire form of a FrameState. Payload is the state blob.
type SyncPacket struct {
	Frame    uint64 `msgpack:"frame"`
	Checksum uint64 `msgpack:"checksum"`
	Payload  []byte `msgpack:"payload"`
}

// Stats counts the comparisons done by a Bridge
type Stats struct {
	Compared uint64
	Desyncs  uint64
}

// Bridge builds packets and tracks desyncs. RemoteDelayFrames is the slack, in
// frames, a consumer waits before applying a remote packet.
type Bridge struct {
	RemoteDelayFrames uint64

	compared atomic.Uint64
	desyncs  atomic.Uint64
}

func NewBridge(remoteDelayFrames uint64) *Bridge {
	return &Bridge{RemoteDelayFrames: remoteDelayFrames}
}

// MakePacket checksums blob for frame. The payload is copied so the packet
// stays valid whatever happens to blob afterwards.
func (b *Bridge) MakePacket(frame uint64, blob []byte) SyncPacket {
	payload := make([]byte, len(blob))
	copy(payload, blob)
	return SyncPacket{
		Frame:    frame,
		Checksum: rollback.Checksum(frame, payload),
		Payload:  payload,
	}
}

// FromFrameState reuses the checksum already computed for the frame
func (b *Bridge) FromFrameState(state rollback.FrameState) SyncPacket {
	payload := make([]byte, len(state.Blob))
	copy(payload, state.Blob)
	return SyncPacket{Frame: state.Frame, Checksum: state.Checksum, Payload: payload}
}

// Ready reports whether packet is old enough, given the remote delay, to be
// applied at the current frame.
func (b *Bridge) Ready(packet SyncPacket, current uint64) bool {
	return current >= packet.Frame+b.RemoteDelayFrames
}

// Compare reports whether the local frame matches the packet. Mismatches are
// counted as desyncs.
func (b *Bridge) Compare(local rollback.FrameState, packet SyncPacket) bool {
	b.compared.Add(1)
	if local.Frame == packet.Frame && local.Checksum == packet.Checksum {
		return true
	}
	b.desyncs.Add(1)
	return false
}

func (b *Bridge) Stats() Stats {
	return Stats{Compared: b.compared.Load(), Desyncs: b.desyncs.Load()}
}

func Encode(packet SyncPacket) ([]byte, error) {
	data, err := msgpack.Marshal(&packet)
	if err != nil {
		return nil, fmt.Errorf("encode sync packet %d: %w", packet.Frame, err)
	}
	return data, nil
}

// Decode parses a packet and verifies its checksum against the payload
func Decode(data []byte) (SyncPacket, error) {
	var packet SyncPacket
	if err := msgpack.Unmarshal(data, &packet); err != nil {
		return SyncPacket{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if sum := rollback.Checksum(packet.Frame, packet.Payload); sum != packet.Checksum {
		return SyncPacket{}, fmt.Errorf("%w: frame %d checksum %#x does not match payload %#x", ErrDecode, packet.Frame, packet.Checksum, sum)
	}
	return packet, nil
}
