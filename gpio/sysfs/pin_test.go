//go:build linux

package sysfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/echopin/echopin/gpio"
)

// newFakeControlSurface lays out the files the kernel would expose for
// one exported pin: the class-level export/unexport attributes plus the
// per-pin direction, value, and edge attributes.
func newFakeControlSurface(t *testing.T, number int) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"export", "unexport"} {
		test.That(t, os.WriteFile(filepath.Join(root, name), nil, 0o600), test.ShouldBeNil)
	}
	pinDir := filepath.Join(root, fmt.Sprintf("gpio%d", number))
	test.That(t, os.MkdirAll(pinDir, 0o700), test.ShouldBeNil)
	for _, name := range []string{"direction", "edge"} {
		test.That(t, os.WriteFile(filepath.Join(pinDir, name), nil, 0o600), test.ShouldBeNil)
	}
	test.That(t, os.WriteFile(filepath.Join(pinDir, "value"), []byte("0\n"), 0o600), test.ShouldBeNil)
	return root
}

func readAttr(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func TestInit(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Number(), test.ShouldEqual, 17)

	test.That(t, p.Init(gpio.In), test.ShouldBeNil)
	test.That(t, readAttr(t, filepath.Join(root, "export")), test.ShouldEqual, "17")
	test.That(t, readAttr(t, filepath.Join(root, "gpio17", "direction")), test.ShouldEqual, "in")

	err := p.Init(gpio.In)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already initialized")

	test.That(t, p.Close(), test.ShouldBeNil)
	test.That(t, readAttr(t, filepath.Join(root, "unexport")), test.ShouldEqual, "17")

	// A closed pin can come back up in the other direction.
	test.That(t, p.Init(gpio.Out), test.ShouldBeNil)
	test.That(t, readAttr(t, filepath.Join(root, "gpio17", "direction")), test.ShouldEqual, "out")
	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestInitExportFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	p := newPinAtRoot(17, t.TempDir(), logger)
	err := p.Init(gpio.Out)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "export")
}

func TestInitDirectionFailureNonFatal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	test.That(t, os.Remove(filepath.Join(root, "gpio17", "direction")), test.ShouldBeNil)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Init(gpio.Out), test.ShouldBeNil)
	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestInitValueOpenFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	test.That(t, os.Remove(filepath.Join(root, "gpio17", "value")), test.ShouldBeNil)
	p := newPinAtRoot(17, root, logger)
	err := p.Init(gpio.Out)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, filepath.Join(root, "gpio17", "value"))
}

func TestSetAndGet(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)

	test.That(t, p.Set(true), test.ShouldNotBeNil)
	_, err := p.Get()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, p.Init(gpio.Out), test.ShouldBeNil)
	test.That(t, p.Set(true), test.ShouldBeNil)
	high, err := p.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	// Repeated writes always land on the level character.
	test.That(t, p.Set(false), test.ShouldBeNil)
	test.That(t, p.Set(false), test.ShouldBeNil)
	high, err = p.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)

	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestSetOnInput(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Init(gpio.In), test.ShouldBeNil)
	err := p.Set(true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not an output")
	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestGetOnInput(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Init(gpio.In), test.ShouldBeNil)

	high, err := p.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)

	// Someone else drives the line.
	test.That(t, os.WriteFile(filepath.Join(root, "gpio17", "value"), []byte("1\n"), 0o600), test.ShouldBeNil)
	high, err = p.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestSetEdge(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.SetEdge(gpio.EdgeRising), test.ShouldNotBeNil)

	test.That(t, p.Init(gpio.In), test.ShouldBeNil)
	for _, edge := range []gpio.Edge{gpio.EdgeRising, gpio.EdgeFalling, gpio.EdgeBoth, gpio.EdgeNone} {
		test.That(t, p.SetEdge(edge), test.ShouldBeNil)
		test.That(t, readAttr(t, filepath.Join(root, "gpio17", "edge")), test.ShouldEqual, string(edge))
	}
	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestWaitForEdgeTimeout(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Init(gpio.In), test.ShouldBeNil)
	test.That(t, p.SetEdge(gpio.EdgeBoth), test.ShouldBeNil)

	// A regular file never raises the exceptional condition, so this
	// exercises the full timeout path.
	start := time.Now()
	res, err := p.WaitForEdge(context.Background(), 25*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldEqual, gpio.WaitTimeout)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, 20*time.Millisecond)

	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestWaitForEdgeCancelled(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)
	test.That(t, p.Init(gpio.In), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.WaitForEdge(ctx, time.Second)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, res, test.ShouldEqual, gpio.WaitCancelled)

	test.That(t, p.Close(), test.ShouldBeNil)
}

func TestCloseIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	root := newFakeControlSurface(t, 17)
	p := newPinAtRoot(17, root, logger)

	// Closing a pin that never initialized is a no-op.
	test.That(t, p.Close(), test.ShouldBeNil)

	test.That(t, p.Init(gpio.Out), test.ShouldBeNil)
	test.That(t, p.Close(), test.ShouldBeNil)
	test.That(t, p.Close(), test.ShouldBeNil)
}
