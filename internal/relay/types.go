// Package relay contains the guard logic for a single timed relay.
// This package has NO hardware or OS dependencies: pins, time, logging and
// status output are all injected through the interfaces below.
package relay

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDuration is returned when a guard duration is not positive or
// does not fit the millisecond counter.
var ErrInvalidDuration = errors.New("relay: guard duration must be positive and fit a 32-bit millisecond counter")

// FaultFlashes is the number of display pin flashes for a blocked request.
const FaultFlashes = 5

// PinWriter drives a digital output.
type PinWriter interface {
	// SetPinState energizes (true) or de-energizes (false) the pin.
	// Writing the current level again must be harmless.
	SetPinState(pin int, energized bool) error
}

// Flasher blinks an indicator pin. Fire-and-forget.
type Flasher interface {
	Flash(pin, count int)
}

// Clock is a wrapping millisecond counter.
type Clock interface {
	NowMillis() uint32
}

// Logger is the levelled log sink used by a relay.
// *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Reporter receives single-line status reports ("name:On").
type Reporter interface {
	Report(name, state string)
}

// Namer provides the display name of a relay. The relay keeps the Namer,
// not a copy of the name.
type Namer interface {
	Name() string
}

// ID is a fixed relay name.
type ID string

// Name returns the name.
func (id ID) Name() string { return string(id) }

// Env bundles the collaborators a relay talks to.
// Pins and Clock are required; the rest default to no-ops.
type Env struct {
	Pins     PinWriter
	Clock    Clock
	Flasher  Flasher
	Log      Logger
	Reporter Reporter
}

// Report states.
const (
	StateOn  = "On"
	StateOff = "Off"
)

// State is a value snapshot of a relay for diagnostics.
type State struct {
	Name string
	On   bool

	Pin        int
	DisplayPin int

	// Guard durations; zero when the guard is disabled.
	MinRunTime        time.Duration
	ReactivationDelay time.Duration

	LastOnAt     uint32
	LastOnValid  bool
	LastOffAt    uint32
	LastOffValid bool

	CanTurnOn  bool
	CanTurnOff bool

	// GuardRemaining is how long the active guard still blocks the opposite
	// transition. Zero when nothing blocks it.
	GuardRemaining time.Duration
}

// guard is an optional millisecond duration.
type guard struct {
	ms  uint32
	set bool
}

func newGuard(d time.Duration) (guard, error) {
	ms := d.Milliseconds()
	if ms <= 0 || ms > math.MaxUint32 {
		return guard{}, ErrInvalidDuration
	}
	return guard{ms: uint32(ms), set: true}, nil
}

func (g guard) duration() time.Duration {
	if !g.set {
		return 0
	}
	return time.Duration(g.ms) * time.Millisecond
}

// stamp is an optional counter reading.
type stamp struct {
	at  uint32
	set bool
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}

type nopFlasher struct{}

func (nopFlasher) Flash(int, int) {}

type nopReporter struct{}

func (nopReporter) Report(string, string) {}
