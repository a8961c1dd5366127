//go:build linux

// Package sysfs implements the gpio.Pin interface over the textual GPIO
// control surface the kernel exposes under /sys/class/gpio.
package sysfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/echopin/echopin/gpio"
)

const defaultRoot = "/sys/class/gpio"

// Pin is one exported sysfs GPIO line. Its value handle exists exactly
// while the pin is initialized, and its direction is fixed between Init
// and Close. Like every gpio.Pin, it has a single owner and is not safe
// for concurrent use.
type Pin struct {
	number int
	root   string
	dir    gpio.Direction
	value  *os.File
	logger golog.Logger
}

// NewPin makes a pin for the given SoC-native GPIO number. It touches no
// hardware and never fails; Init does the OS-visible work.
func NewPin(number int, logger golog.Logger) *Pin {
	return newPinAtRoot(number, defaultRoot, logger)
}

func newPinAtRoot(number int, root string, logger golog.Logger) *Pin {
	return &Pin{number: number, root: root, logger: logger}
}

// Number returns the GPIO number this pin was created with.
func (p *Pin) Number() int {
	return p.number
}

func (p *Pin) pinDir() string {
	return filepath.Join(p.root, fmt.Sprintf("gpio%d", p.number))
}

// sysfs attributes are plain files from our side: open, write the text,
// close. The attribute must already exist; we never create files.
func writeToFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "can't open %s for writing", path)
	}
	_, werr := f.WriteString(text)
	return multierr.Combine(errors.Wrapf(werr, "can't write to %s", path), f.Close())
}

// Init exports the pin to the OS and opens its value interface in the
// given direction. The direction write is best effort: on some kernels
// it fails transiently right after export, and there is no recovery at
// bring-up beyond reporting it.
func (p *Pin) Init(dir gpio.Direction) error {
	if p.value != nil {
		return errors.Errorf("gpio %d already initialized", p.number)
	}
	if err := writeToFile(filepath.Join(p.root, "export"), strconv.Itoa(p.number)); err != nil {
		return err
	}
	if err := writeToFile(filepath.Join(p.pinDir(), "direction"), string(dir)); err != nil {
		p.logger.Warnw("can't set gpio direction", "pin", p.number, "direction", dir, "error", err)
	}
	valuePath := filepath.Join(p.pinDir(), "value")
	flag := os.O_RDWR
	if dir == gpio.In {
		flag = os.O_RDONLY | unix.O_NONBLOCK
	}
	f, err := os.OpenFile(valuePath, flag, 0)
	if err != nil {
		return errors.Wrapf(err, "can't open %s", valuePath)
	}
	p.value = f
	p.dir = dir
	return nil
}

// Set drives the line high or low. The pin must be initialized as an
// output.
func (p *Pin) Set(high bool) error {
	if p.value == nil {
		return errors.Errorf("gpio %d is not initialized", p.number)
	}
	if p.dir != gpio.Out {
		return errors.Errorf("gpio %d is not an output", p.number)
	}
	b := []byte{'0'}
	if high {
		b[0] = '1'
	}
	if _, err := p.value.WriteAt(b, 0); err != nil {
		return errors.Wrapf(err, "can't write value of gpio %d", p.number)
	}
	return nil
}

// Get reads the current level of the line.
func (p *Pin) Get() (bool, error) {
	if p.value == nil {
		return false, errors.Errorf("gpio %d is not initialized", p.number)
	}
	if _, err := p.value.Seek(0, io.SeekStart); err != nil {
		return false, errors.Wrapf(err, "can't seek value of gpio %d", p.number)
	}
	buf := make([]byte, 1)
	if _, err := p.value.Read(buf); err != nil {
		return false, errors.Wrapf(err, "can't read value of gpio %d", p.number)
	}
	return buf[0] == '1', nil
}

// SetEdge configures which transitions the kernel flags as an
// exceptional condition on the value handle. WaitForEdge never wakes
// before its timeout unless a non-none edge has been set.
func (p *Pin) SetEdge(edge gpio.Edge) error {
	if p.value == nil {
		return errors.Errorf("gpio %d is not initialized", p.number)
	}
	return writeToFile(filepath.Join(p.pinDir(), "edge"), string(edge))
}

// WaitForEdge blocks until a configured edge fires, the timeout elapses,
// or ctx is cancelled. The kernel reports edges with millisecond poll
// granularity, so the timeout is rounded up to whole milliseconds.
// Cancellation is observed before the descriptor poll starts and after
// it returns, not during, so it can lag by up to the remaining timeout.
func (p *Pin) WaitForEdge(ctx context.Context, timeout time.Duration) (gpio.WaitResult, error) {
	if p.value == nil {
		return gpio.WaitTimeout, errors.Errorf("gpio %d is not initialized", p.number)
	}
	if err := ctx.Err(); err != nil {
		return gpio.WaitCancelled, err
	}
	if _, err := p.value.Seek(0, io.SeekStart); err != nil {
		return gpio.WaitTimeout, errors.Wrapf(err, "can't seek value of gpio %d", p.number)
	}
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(p.value.Fd()), Events: unix.POLLPRI}}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return gpio.WaitTimeout, nil
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)
		fds[0].Revents = 0
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return gpio.WaitTimeout, errors.Wrapf(err, "can't poll value of gpio %d", p.number)
		}
		// Reading a little out of the handle clears the pending
		// condition for the next wait.
		buf := make([]byte, 2)
		_, _ = p.value.Read(buf)
		if n > 0 && fds[0].Revents&unix.POLLPRI != 0 {
			return gpio.WaitEdge, nil
		}
		if err := ctx.Err(); err != nil {
			return gpio.WaitCancelled, err
		}
		if n == 0 {
			return gpio.WaitTimeout, nil
		}
	}
}

// Close releases the value handle and unexports the pin. Nothing
// actionable remains at teardown, so callers conventionally discard the
// error. Closing an uninitialized pin is a no-op.
func (p *Pin) Close() error {
	if p.value == nil {
		return nil
	}
	err := p.value.Close()
	p.value = nil
	return multierr.Combine(err, writeToFile(filepath.Join(p.root, "unexport"), strconv.Itoa(p.number)))
}
