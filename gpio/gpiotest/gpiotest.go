// Package gpiotest provides an injectable gpio.Pin for testing drivers
// without hardware.
package gpiotest

import (
	"context"
	"time"

	"github.com/echopin/echopin/gpio"
)

// Pin is an injected gpio.Pin. Each call delegates to the corresponding
// func field when set, and to the embedded Pin otherwise.
type Pin struct {
	gpio.Pin
	NumberFunc      func() int
	InitFunc        func(dir gpio.Direction) error
	SetFunc         func(high bool) error
	GetFunc         func() (bool, error)
	SetEdgeFunc     func(edge gpio.Edge) error
	WaitForEdgeFunc func(ctx context.Context, timeout time.Duration) (gpio.WaitResult, error)
	CloseFunc       func() error
}

// Number calls the injected Number or the real version.
func (p *Pin) Number() int {
	if p.NumberFunc == nil {
		return p.Pin.Number()
	}
	return p.NumberFunc()
}

// Init calls the injected Init or the real version.
func (p *Pin) Init(dir gpio.Direction) error {
	if p.InitFunc == nil {
		return p.Pin.Init(dir)
	}
	return p.InitFunc(dir)
}

// Set calls the injected Set or the real version.
func (p *Pin) Set(high bool) error {
	if p.SetFunc == nil {
		return p.Pin.Set(high)
	}
	return p.SetFunc(high)
}

// Get calls the injected Get or the real version.
func (p *Pin) Get() (bool, error) {
	if p.GetFunc == nil {
		return p.Pin.Get()
	}
	return p.GetFunc()
}

// SetEdge calls the injected SetEdge or the real version.
func (p *Pin) SetEdge(edge gpio.Edge) error {
	if p.SetEdgeFunc == nil {
		return p.Pin.SetEdge(edge)
	}
	return p.SetEdgeFunc(edge)
}

// WaitForEdge calls the injected WaitForEdge or the real version.
func (p *Pin) WaitForEdge(ctx context.Context, timeout time.Duration) (gpio.WaitResult, error) {
	if p.WaitForEdgeFunc == nil {
		return p.Pin.WaitForEdge(ctx, timeout)
	}
	return p.WaitForEdgeFunc(ctx, timeout)
}

// Close calls the injected Close or the real version.
func (p *Pin) Close() error {
	if p.CloseFunc == nil {
		return p.Pin.Close()
	}
	return p.CloseFunc()
}
