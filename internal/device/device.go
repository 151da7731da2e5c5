package device

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy shared with the supervisor. Adapters wrap these with %w.
var (
	ErrOpen        = errors.New("device open failed")
	ErrRead        = errors.New("frame read failed")
	ErrEnumerate   = errors.New("device enumeration failed")
	ErrKillHolders = errors.New("kill device holders failed")
)

// ID identifies a capture device. Core code compares IDs for equality only;
// adapters are free to treat the value as a path.
type ID string

func (id ID) String() string { return string(id) }

// Frame is one encoded image as produced by the device.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Source is an opened device yielding frames.
type Source interface {
	// Read blocks until one frame is available or the read fails.
	Read(ctx context.Context) (Frame, error)
	// Close releases the device. Safe to call more than once and
	// concurrently with a blocked Read.
	Close() error
}

// Opener opens devices by ID.
type Opener interface {
	Open(ctx context.Context, id ID) (Source, error)
}

// Enumerator lists the currently available candidate devices.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]ID, error)
}
