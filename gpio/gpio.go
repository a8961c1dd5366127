// Package gpio defines the digital pin contract shared by the sysfs
// implementation and the drivers built on top of it.
package gpio

import (
	"context"
	"time"
)

// Direction is the signal direction a pin is initialized with. It is
// fixed until the pin is closed and re-initialized.
type Direction string

// The two pin directions, using the words the kernel's GPIO control
// surface expects.
const (
	In  Direction = "in"
	Out Direction = "out"
)

// Edge selects which voltage transitions on an input pin count as an
// edge for WaitForEdge. Pins start out with EdgeNone, under which
// WaitForEdge never wakes before its timeout.
type Edge string

// The edge modes, using the words the kernel's GPIO control surface
// expects.
const (
	EdgeNone    Edge = "none"
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

// WaitResult is the outcome of a WaitForEdge call.
type WaitResult int

const (
	// WaitEdge means a configured edge was detected.
	WaitEdge WaitResult = iota
	// WaitTimeout means the timeout elapsed with no edge seen.
	WaitTimeout
	// WaitCancelled means the context was cancelled before an edge
	// was seen.
	WaitCancelled
)

func (r WaitResult) String() string {
	switch r {
	case WaitEdge:
		return "edge"
	case WaitTimeout:
		return "timeout"
	case WaitCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pin is a single digital GPIO line. A Pin has one owner at a time and
// is not safe for concurrent use.
type Pin interface {
	// Number returns the SoC-native GPIO number this pin addresses.
	Number() int

	// Init claims the line from the OS in the given direction and makes
	// the other operations usable. It must be called before anything
	// below.
	Init(dir Direction) error

	// Set drives the line high or low. The pin must be an output.
	Set(high bool) error

	// Get reads the current level of the line.
	Get() (bool, error)

	// SetEdge configures which transitions wake a subsequent
	// WaitForEdge.
	SetEdge(edge Edge) error

	// WaitForEdge blocks until a configured edge fires, the timeout
	// elapses, or ctx is cancelled, and reports which of the three
	// happened. A non-nil error accompanies WaitCancelled (the context's
	// error) and OS-level poll failures.
	WaitForEdge(ctx context.Context, timeout time.Duration) (WaitResult, error)

	// Close releases the line back to the OS. The pin can be
	// re-initialized afterwards.
	Close() error
}
