//go:build linux

// Package main contains a command to monitor an HC-SR04 ultrasonic
// rangefinder wired to two GPIO pins.
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/echopin/echopin/gpio/sysfs"
	"github.com/echopin/echopin/hcsr04"
)

var logger = golog.NewDevelopmentLogger("rangemon")

func main() {
	utils.ContextualMainQuit(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	TriggerPin int    `flag:"trigger-pin,default=17,usage=GPIO number of the trigger pin"`
	EchoPin    int    `flag:"echo-pin,default=27,usage=GPIO number of the echo pin"`
	CycleMs    int    `flag:"cycle-ms,default=240,usage=time between measurement cycles (ms)"`
	Smoothing  string `flag:"smoothing,default=0.5,usage=smoothing factor between 0 and 1"`
	PollMs     int    `flag:"poll-ms,default=500,usage=time between distance reports (ms)"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	smoothing, err := strconv.ParseFloat(argsParsed.Smoothing, 64)
	if err != nil {
		return errors.Wrap(err, "can't parse --smoothing")
	}
	if argsParsed.TriggerPin == argsParsed.EchoPin {
		return errors.New("the trigger and echo pins must differ")
	}
	if argsParsed.PollMs <= 0 {
		return errors.New("--poll-ms must be positive")
	}
	if argsParsed.CycleMs < 0 {
		return errors.New("--cycle-ms must be positive")
	}
	cfg := hcsr04.Config{
		CycleMs:   uint(argsParsed.CycleMs),
		Smoothing: smoothing,
	}
	return monitor(ctx, cfg, argsParsed.TriggerPin, argsParsed.EchoPin,
		time.Duration(argsParsed.PollMs)*time.Millisecond)
}

// rangingSensor is the slice of hcsr04.Sensor this command consumes.
type rangingSensor interface {
	Start() error
	IsDistanceValid() bool
	Distance() float64
	Close() error
}

// newSensor is swapped out in tests.
var newSensor = func(cfg hcsr04.Config, triggerPin, echoPin int, logger golog.Logger) (rangingSensor, error) {
	return hcsr04.New(cfg, sysfs.NewPin(triggerPin, logger), sysfs.NewPin(echoPin, logger), logger)
}

func monitor(ctx context.Context, cfg hcsr04.Config, triggerPin, echoPin int, poll time.Duration) (err error) {
	sensor, err := newSensor(cfg, triggerPin, echoPin, logger)
	if err != nil {
		return err
	}
	if err := sensor.Start(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sensor.Close())
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
			return ctx.Err()
		}
		if sensor.IsDistanceValid() {
			logger.Infow("distance", "meters", sensor.Distance())
		} else {
			logger.Info("no data")
		}
	}
}
