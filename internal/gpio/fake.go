package gpio

import "sync"

// Write is one recorded SetPinState call.
type Write struct {
	Pin       int
	Energized bool
}

// FakeDriver is a test double that records writes. Safe for concurrent use.
type FakeDriver struct {
	mu sync.Mutex

	writes []Write
	levels map[int]bool

	// errs holds an error to return for writes to a pin.
	errs map[int]error

	// high holds pins released high on Close.
	high map[int]bool

	closed bool
}

// NewFakeDriver creates a FakeDriver with every pin low.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		levels: make(map[int]bool),
		errs:   make(map[int]error),
		high:   make(map[int]bool),
	}
}

// SetPinState records the write. If a write error is configured for pin,
// the level is left unchanged and the error is returned.
func (f *FakeDriver) SetPinState(pin int, energized bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[pin]; err != nil {
		return err
	}
	f.writes = append(f.writes, Write{Pin: pin, Energized: energized})
	f.levels[pin] = energized
	return nil
}

// Preset forces a level without recording a write, e.g. to simulate the
// state hardware came up in.
func (f *FakeDriver) Preset(pin int, energized bool) {
	f.mu.Lock()
	f.levels[pin] = energized
	f.mu.Unlock()
}

// FailWrites makes writes to pin return err. A nil err clears it.
func (f *FakeDriver) FailWrites(pin int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.errs, pin)
	} else {
		f.errs[pin] = err
	}
	f.mu.Unlock()
}

// Level returns the last level written to pin.
func (f *FakeDriver) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Writes returns a copy of all recorded writes.
func (f *FakeDriver) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the recorded writes for one pin.
func (f *FakeDriver) WritesTo(pin int) []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Write
	for _, w := range f.writes {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// SetReleaseLevel records the level pin is left at on Close.
func (f *FakeDriver) SetReleaseLevel(pin int, high bool) {
	f.mu.Lock()
	f.high[pin] = high
	f.mu.Unlock()
}

// ReleaseLevel returns the level pin is left at on Close.
func (f *FakeDriver) ReleaseLevel(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high[pin]
}

// Close marks the driver as closed and, like the hardware backends, leaves
// every touched pin at its release level.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for pin := range f.levels {
		f.levels[pin] = f.high[pin]
	}
	return nil
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded writes, errors and the closed flag. Levels are kept.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	f.writes = nil
	f.errs = make(map[int]error)
	f.closed = false
	f.mu.Unlock()
}
