package tether

import (
	"errors"
	"fmt"
)

// ErrDesync is matched by every *DesyncError
var ErrDesync = errors.New("desync")

// DesyncError is returned by World.Confirm when the authoritative checksum of
// a frame differs from the local one. The world does not remediate: the
// caller decides whether to request a rollback.
type DesyncError struct {
	Frame  uint64
	Local  uint64
	Remote uint64
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("frame %d: local checksum %#016x, remote %#016x", e.Frame, e.Local, e.Remote)
}

func (e *DesyncError) Unwrap() error {
	return ErrDesync
}
