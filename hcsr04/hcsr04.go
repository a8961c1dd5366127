// Package hcsr04 implements a driver for the HC-SR04 ultrasonic ranging
// sensor on top of the gpio pin abstraction. A background loop times a
// trigger-pulse/echo round trip once per cycle and maintains a smoothed,
// validity-tracked distance estimate for the owner to poll.
package hcsr04

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/echopin/echopin/gpio"
)

// MetersPerMicrosecond converts an echo round-trip time to a distance:
// the speed of sound at standard temperature and pressure divided by
// 1e6, halved because the pulse travels out and back. Correcting it for
// temperature and pressure is not worth it at the timing precision a
// small board can manage.
const MetersPerMicrosecond = 0.0001715

// NoReading is returned in place of a distance when there is no valid
// measurement.
const NoReading = -1.0

const (
	// MinCycle is the shortest measurement cycle the manufacturer
	// recommends.
	MinCycle = 60 * time.Millisecond
	// DefaultCycle is the cycle used when the config leaves it zero.
	DefaultCycle = 4 * MinCycle
	// DefaultMaxRange is the claimed range of the device in meters. A
	// round trip longer than this range allows is assumed to be a
	// timeout rather than a measurement.
	DefaultMaxRange = 4.0
	// DefaultValidSamples is how many good readings the validity
	// counter needs before the estimate is trusted.
	DefaultValidSamples = 4
	// DefaultEchoTimeout bounds each wait for an echo edge.
	DefaultEchoTimeout = 500 * time.Millisecond

	// The datasheet asks for a 10us trigger pulse, but small boards
	// can't time that precisely and longer is harmless.
	triggerPulseWidth = 100 * time.Microsecond
)

// Config configures a Sensor. The zero value is usable: every field has
// a default. A zero Smoothing is meaningful (no smoothing), so it is not
// defaulted.
type Config struct {
	// CycleMs is the time between measurement cycles in milliseconds,
	// at least 60 per the manufacturer.
	CycleMs uint `json:"cycle_ms,omitempty"`
	// Smoothing in [0,1) is the weight given to history in the moving
	// average. 0 passes raw readings through; values near 1 can take
	// hundreds of cycles to converge.
	Smoothing float64 `json:"smoothing,omitempty"`
	// MaxRangeM is the longest distance in meters treated as a real
	// measurement.
	MaxRangeM float64 `json:"max_range_m,omitempty"`
	// ValidSamples is the good-sample count needed for validity.
	ValidSamples int `json:"valid_samples,omitempty"`
	// EchoTimeoutMs bounds each wait for an echo edge, in milliseconds.
	EchoTimeoutMs uint `json:"echo_timeout_ms,omitempty"`
	// Clock supplies the timestamps used to time the echo. It defaults
	// to the wall clock and exists so tests can inject a mock.
	Clock clock.Clock `json:"-"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.CycleMs != 0 && time.Duration(cfg.CycleMs)*time.Millisecond < MinCycle {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("cycle_ms must be at least %d", MinCycle/time.Millisecond))
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return goutils.NewConfigValidationError(path, errors.New("smoothing must be in [0, 1)"))
	}
	if cfg.MaxRangeM < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_range_m must be positive"))
	}
	if cfg.ValidSamples < 0 {
		return goutils.NewConfigValidationError(path, errors.New("valid_samples must be positive"))
	}
	return nil
}

// Sensor is one HC-SR04 ranging sensor. It exclusively owns its trigger
// and echo pins; Close releases them.
type Sensor struct {
	trigger gpio.Pin
	echo    gpio.Pin
	logger  golog.Logger
	clock   clock.Clock

	cycle        time.Duration
	echoTimeout  time.Duration
	smoothing    float64
	validSamples int
	// The longest round trip the configured range allows, in
	// microseconds, derived once at construction.
	maxEchoMicros float64

	// measureMu serializes measurement cycles so a diagnostic ReadOne
	// can't interleave with the background loop's pulse timing.
	measureMu sync.Mutex

	// stateMu guards avg and goodSamples together, so a reader never
	// pairs a distance with a stale counter.
	stateMu     sync.Mutex
	avg         float64
	goodSamples int
	running     bool

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New makes a sensor from a validated config and the two pins it will
// own, one wired to the device's trigger input and one to its echo
// output. It touches no hardware; Start does.
func New(cfg Config, trigger, echo gpio.Pin, logger golog.Logger) (*Sensor, error) {
	if trigger == nil || echo == nil {
		return nil, errors.New("hcsr04: both a trigger and an echo pin are required")
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	s := &Sensor{
		trigger:      trigger,
		echo:         echo,
		logger:       logger,
		clock:        cfg.Clock,
		cycle:        DefaultCycle,
		echoTimeout:  DefaultEchoTimeout,
		smoothing:    cfg.Smoothing,
		validSamples: DefaultValidSamples,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if cfg.CycleMs != 0 {
		s.cycle = time.Duration(cfg.CycleMs) * time.Millisecond
	}
	if cfg.EchoTimeoutMs != 0 {
		s.echoTimeout = time.Duration(cfg.EchoTimeoutMs) * time.Millisecond
	}
	if cfg.ValidSamples != 0 {
		s.validSamples = cfg.ValidSamples
	}
	maxRange := DefaultMaxRange
	if cfg.MaxRangeM != 0 {
		maxRange = cfg.MaxRangeM
	}
	s.maxEchoMicros = maxRange / MetersPerMicrosecond
	return s, nil
}

// Start resets the estimate, brings up both pins, and launches the
// sampling loop. The echo pin must initialize; if it does, the control
// surface is present and working, so a trigger pin failure is bad wiring
// rather than a bad bring-up and is only logged.
func (s *Sensor) Start() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.running {
		return errors.New("hcsr04: already started")
	}
	s.avg = 0
	s.goodSamples = 0
	if err := s.echo.Init(gpio.In); err != nil {
		return errors.Wrapf(err, "hcsr04: can't initialize echo pin %d", s.echo.Number())
	}
	if err := s.trigger.Init(gpio.Out); err != nil {
		s.logger.Warnw("can't initialize trigger pin", "pin", s.trigger.Number(), "error", err)
	}
	// The trigger rests low between pulses.
	if err := s.trigger.Set(false); err != nil {
		s.logger.Warnw("can't drive trigger pin low", "pin", s.trigger.Number(), "error", err)
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s.cancelCtx = cancelCtx
	s.cancelFunc = cancelFunc
	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(s.samplingLoop, s.activeBackgroundWorkers.Done)
	s.running = true
	return nil
}

func (s *Sensor) samplingLoop() {
	for {
		if s.cancelCtx.Err() != nil {
			return
		}
		d, err := s.ReadOne(s.cancelCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Errorw("measurement cycle failed", "error", err)
			d = NoReading
		}
		s.record(d)
		if !goutils.SelectContextOrWait(s.cancelCtx, s.cycle) {
			return
		}
	}
}

// record folds one raw reading into the smoothed estimate and the
// good-sample counter. The two always change together under stateMu.
func (s *Sensor) record(d float64) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if d < 0 {
		if s.goodSamples > 0 {
			s.goodSamples--
		}
		return
	}
	s.avg = d*(1-s.smoothing) + s.avg*s.smoothing
	if s.goodSamples < s.validSamples {
		s.goodSamples++
	}
}

// ReadOne performs a single unfiltered measurement cycle: pulse the
// trigger, time the echo's rising and falling edges, and convert the
// round trip to meters. It returns NoReading when an edge wait times out
// or the round trip exceeds the configured range; both mean there was no
// echo to measure, usually because nothing is in range or the echo pin
// is not connected. It never touches the smoothed estimate and is safe
// to call for diagnostics while the loop runs.
func (s *Sensor) ReadOne(ctx context.Context) (float64, error) {
	s.measureMu.Lock()
	defer s.measureMu.Unlock()

	if err := s.trigger.Set(true); err != nil {
		return 0, errors.Wrap(err, "hcsr04: can't pulse trigger pin high")
	}
	goutils.SelectContextOrWait(ctx, triggerPulseWidth)
	if err := s.trigger.Set(false); err != nil {
		return 0, errors.Wrap(err, "hcsr04: can't drive trigger pin low")
	}

	start, res, err := s.timeEdge(ctx, gpio.EdgeRising)
	if err != nil {
		return 0, err
	}
	if res != gpio.WaitEdge {
		return NoReading, nil
	}
	end, res, err := s.timeEdge(ctx, gpio.EdgeFalling)
	if err != nil {
		return 0, err
	}
	if res != gpio.WaitEdge {
		return NoReading, nil
	}

	elapsed := float64(end.Sub(start)) / float64(time.Microsecond)
	if elapsed > s.maxEchoMicros {
		return NoReading, nil
	}
	return elapsed * MetersPerMicrosecond, nil
}

// timeEdge arms the echo pin for the given edge, waits for it, and
// timestamps the moment the wait returned.
func (s *Sensor) timeEdge(ctx context.Context, edge gpio.Edge) (time.Time, gpio.WaitResult, error) {
	if err := s.echo.SetEdge(edge); err != nil {
		// An unconfigured edge only costs this cycle: the wait below
		// times out and the reading is discarded.
		s.logger.Warnw("can't set echo pin edge", "pin", s.echo.Number(), "edge", edge, "error", err)
	}
	res, err := s.echo.WaitForEdge(ctx, s.echoTimeout)
	if err != nil {
		return time.Time{}, res, err
	}
	return s.clock.Now(), res, nil
}

// IsDistanceValid reports whether enough recent cycles produced a real
// echo for the smoothed estimate to be trusted: the good-sample counter
// is at its configured cap. Every missed echo costs one count and every
// good one restores one, so validity survives nothing less than a full
// run of good readings and is lost to a single miss.
func (s *Sensor) IsDistanceValid() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.goodSamples >= s.validSamples
}

// Distance returns the current smoothed distance estimate in meters, or
// NoReading while the estimate is not valid. It never triggers a
// measurement.
func (s *Sensor) Distance() float64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.goodSamples < s.validSamples {
		return NoReading
	}
	return s.avg
}

// Close stops the sampling loop and releases both pins. It waits for any
// in-flight cycle to finish, so it can block for up to two echo timeouts
// plus one cycle interval. Closing a sensor that never started only
// releases the pins.
func (s *Sensor) Close() error {
	s.stateMu.Lock()
	wasRunning := s.running
	s.running = false
	s.stateMu.Unlock()
	if wasRunning {
		s.cancelFunc()
		s.activeBackgroundWorkers.Wait()
	}
	return multierr.Combine(s.trigger.Close(), s.echo.Close())
}
