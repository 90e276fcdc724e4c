package relay

import (
	"errors"
	"fmt"
	"time"
)

// TimedRelay gates one load through an output pin. It can enforce a minimum
// run time once on and a reactivation delay once off, so compressor-type
// loads are not short-cycled.
//
// A TimedRelay is not safe for concurrent use. It is meant to be driven from
// a single control loop.
type TimedRelay struct {
	id         Namer
	pin        int
	displayPin int

	minRun     guard
	reactivate guard

	isOn      bool
	lastOnAt  stamp
	lastOffAt stamp
	writeErr  error

	pins     PinWriter
	clock    Clock
	flasher  Flasher
	log      Logger
	reporter Reporter
}

// New creates a relay with no timing guards. Every transition that changes
// state is accepted immediately.
// The output pin is driven de-energized before New returns.
func New(id Namer, pin, displayPin int, env Env) (*TimedRelay, error) {
	r, err := build(id, pin, displayPin, env)
	if err != nil {
		return nil, err
	}
	if err := r.forceOff(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewTimed creates a relay that stays on for at least minRunTime and stays
// off for at least reactivationDelay. Both must be positive.
// The output pin is driven de-energized before NewTimed returns.
func NewTimed(id Namer, pin, displayPin int, minRunTime, reactivationDelay time.Duration, env Env) (*TimedRelay, error) {
	minRun, err := newGuard(minRunTime)
	if err != nil {
		return nil, fmt.Errorf("min run time %v: %w", minRunTime, err)
	}
	reactivate, err := newGuard(reactivationDelay)
	if err != nil {
		return nil, fmt.Errorf("reactivation delay %v: %w", reactivationDelay, err)
	}

	r, err := build(id, pin, displayPin, env)
	if err != nil {
		return nil, err
	}
	r.minRun = minRun
	r.reactivate = reactivate
	if err := r.forceOff(); err != nil {
		return nil, err
	}
	return r, nil
}

func build(id Namer, pin, displayPin int, env Env) (*TimedRelay, error) {
	if id == nil {
		return nil, errors.New("relay: nil identity")
	}
	if env.Pins == nil {
		return nil, errors.New("relay: nil pin writer")
	}
	if env.Clock == nil {
		return nil, errors.New("relay: nil clock")
	}

	r := &TimedRelay{
		id:         id,
		pin:        pin,
		displayPin: displayPin,
		pins:       env.Pins,
		clock:      env.Clock,
		flasher:    env.Flasher,
		log:        env.Log,
		reporter:   env.Reporter,
	}
	if r.flasher == nil {
		r.flasher = nopFlasher{}
	}
	if r.log == nil {
		r.log = nopLogger{}
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	return r, nil
}

// forceOff de-energizes the output regardless of whatever the hardware
// came up in.
func (r *TimedRelay) forceOff() error {
	if err := r.pins.SetPinState(r.pin, false); err != nil {
		return fmt.Errorf("de-energize %s pin %d: %w", r.id.Name(), r.pin, err)
	}
	r.isOn = false
	return nil
}

// RequestOn turns the relay on if the reactivation delay allows it.
// Returns true if the relay is on afterwards.
func (r *TimedRelay) RequestOn() bool {
	r.log.Infof("trying to turn on %s", r.id.Name())
	r.writeErr = nil

	if r.isOn {
		r.log.Debugf("%s already on", r.id.Name())
		return true
	}
	if r.lastOffAt.set {
		r.log.Debugf("%s off start time is <%d>", r.id.Name(), r.lastOffAt.at)
	}
	if !r.CanTurnOn() {
		r.log.Warnf("can't turn on %s", r.id.Name())
		r.flasher.Flash(r.displayPin, FaultFlashes)
		return false
	}

	if err := r.pins.SetPinState(r.pin, true); err != nil {
		r.log.Warnf("energize %s pin %d: %v", r.id.Name(), r.pin, err)
		r.writeErr = err
		return false
	}
	r.isOn = true
	r.lastOnAt = stamp{at: r.clock.NowMillis(), set: true}
	return true
}

// RequestOff turns the relay off if the minimum run time allows it.
// Returns true if the relay is off afterwards.
func (r *TimedRelay) RequestOff() bool {
	r.log.Debugf("trying to turn off %s", r.id.Name())
	r.writeErr = nil

	if !r.isOn {
		r.log.Infof("%s: nothing to turn off", r.id.Name())
		return true
	}
	if !r.CanTurnOff() {
		r.log.Warnf("can't turn off %s", r.id.Name())
		r.flasher.Flash(r.displayPin, FaultFlashes)
		return false
	}

	if err := r.pins.SetPinState(r.pin, false); err != nil {
		r.log.Warnf("de-energize %s pin %d: %v", r.id.Name(), r.pin, err)
		r.writeErr = err
		return false
	}
	r.isOn = false
	r.lastOffAt = stamp{at: r.clock.NowMillis(), set: true}
	return true
}

// WriteErr returns the pin error that failed the last request, or nil if
// the last request was accepted, a no-op or blocked by a guard.
func (r *TimedRelay) WriteErr() error {
	return r.writeErr
}

// CanTurnOn reports whether RequestOn would switch the relay on right now.
// It is false while the relay is already on.
func (r *TimedRelay) CanTurnOn() bool {
	if r.isOn {
		return false
	}
	if !r.reactivate.set {
		return true
	}
	if !r.lastOffAt.set {
		return true
	}
	return Elapsed(r.lastOffAt.at, r.clock.NowMillis()) > r.reactivate.ms
}

// CanTurnOff reports whether RequestOff would switch the relay off right now.
// It is false while the relay is already off.
func (r *TimedRelay) CanTurnOff() bool {
	if !r.isOn {
		return false
	}
	if !r.minRun.set {
		return true
	}
	if !r.lastOnAt.set {
		return true
	}
	return Elapsed(r.lastOnAt.at, r.clock.NowMillis()) > r.minRun.ms
}

// Report sends "name:On" or "name:Off" to the reporter.
func (r *TimedRelay) Report() {
	r.reporter.Report(r.id.Name(), r.stateString())
}

// String returns the same text Report emits.
func (r *TimedRelay) String() string {
	return r.id.Name() + ":" + r.stateString()
}

func (r *TimedRelay) stateString() string {
	if r.isOn {
		return StateOn
	}
	return StateOff
}

// IsOn returns the logical state, which always matches the output pin.
func (r *TimedRelay) IsOn() bool { return r.isOn }

// Name returns the current display name.
func (r *TimedRelay) Name() string { return r.id.Name() }

// ID returns the identity the relay was built with.
func (r *TimedRelay) ID() Namer { return r.id }

// Pin returns the output pin.
func (r *TimedRelay) Pin() int { return r.pin }

// DisplayPin returns the fault indicator pin.
func (r *TimedRelay) DisplayPin() int { return r.displayPin }

// Timed reports whether the relay was built with guards.
func (r *TimedRelay) Timed() bool { return r.minRun.set || r.reactivate.set }

// State returns a snapshot of the relay.
func (r *TimedRelay) State() State {
	s := State{
		Name:              r.id.Name(),
		On:                r.isOn,
		Pin:               r.pin,
		DisplayPin:        r.displayPin,
		MinRunTime:        r.minRun.duration(),
		ReactivationDelay: r.reactivate.duration(),
		LastOnAt:          r.lastOnAt.at,
		LastOnValid:       r.lastOnAt.set,
		LastOffAt:         r.lastOffAt.at,
		LastOffValid:      r.lastOffAt.set,
		CanTurnOn:         r.CanTurnOn(),
		CanTurnOff:        r.CanTurnOff(),
	}
	s.GuardRemaining = r.guardRemaining()
	return s
}

// guardRemaining returns how long until the blocking guard expires. The
// guard compares strictly, so it clears one millisecond after the
// configured duration.
func (r *TimedRelay) guardRemaining() time.Duration {
	var g guard
	var since stamp
	if r.isOn {
		g, since = r.minRun, r.lastOnAt
	} else {
		g, since = r.reactivate, r.lastOffAt
	}
	if !g.set || !since.set {
		return 0
	}
	elapsed := Elapsed(since.at, r.clock.NowMillis())
	if elapsed > g.ms {
		return 0
	}
	return time.Duration(g.ms-elapsed+1) * time.Millisecond
}

// Elapsed returns now-since on a wrapping 32-bit millisecond counter.
// The result is correct as long as the real interval is shorter than one
// full counter period.
func Elapsed(since, now uint32) uint32 {
	return now - since
}
