//go:build linux

package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver drives outputs through periph.io. Pins are addressed by
// their BCM numbers ("GPIO17").
type PeriphDriver struct {
	mu   sync.Mutex
	pins map[int]pgpio.PinIO
	high map[int]bool
}

// NewPeriphDriver initialises the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	return &PeriphDriver{pins: make(map[int]pgpio.PinIO), high: make(map[int]bool)}, nil
}

// SetPinState drives pin to the requested level.
func (d *PeriphDriver) SetPinState(pin int, energized bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pins[pin]
	if !ok {
		p = gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
		if p == nil {
			return fmt.Errorf("unknown pin GPIO%d", pin)
		}
		d.pins[pin] = p
	}

	level := pgpio.Low
	if energized {
		level = pgpio.High
	}
	if err := p.Out(level); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// SetReleaseLevel selects the pull applied to pin on Close.
func (d *PeriphDriver) SetReleaseLevel(pin int, high bool) {
	d.mu.Lock()
	d.high[pin] = high
	d.mu.Unlock()
}

// Close returns every used pin to input with pull-down, or pull-up for
// pins released high.
func (d *PeriphDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for pin, p := range d.pins {
		pull := pgpio.PullDown
		if d.high[pin] {
			pull = pgpio.PullUp
		}
		if err := p.In(pull, pgpio.NoEdge); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release pin %d: %w", pin, err)
		}
		delete(d.pins, pin)
	}
	return firstErr
}
