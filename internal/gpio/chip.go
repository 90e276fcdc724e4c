//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// consumer labels requested lines in gpioinfo output.
const consumer = "ferm-relay"

// ChipDriver drives outputs through the Linux GPIO character device.
// Lines are requested on first write and held until Close.
type ChipDriver struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
	high  map[int]bool
}

// NewChipDriver opens the named chip, e.g. "gpiochip0".
func NewChipDriver(name string) (*ChipDriver, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &ChipDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
		high:  make(map[int]bool),
	}, nil
}

// SetPinState drives pin to the requested level.
func (d *ChipDriver) SetPinState(pin int, energized bool) error {
	v := 0
	if energized {
		v = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if line, ok := d.lines[pin]; ok {
		if err := line.SetValue(v); err != nil {
			return fmt.Errorf("set pin %d: %w", pin, err)
		}
		return nil
	}

	// Request with the initial value so the line never glitches to the
	// opposite level.
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(v))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	d.lines[pin] = line
	return nil
}

// SetReleaseLevel selects the pull applied to pin on Close.
func (d *ChipDriver) SetReleaseLevel(pin int, high bool) {
	d.mu.Lock()
	d.high[pin] = high
	d.mu.Unlock()
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults),
// or pull-up for pins released high, before closing.
func (d *ChipDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for pin, line := range d.lines {
		bias := gpiocdev.WithPullDown
		if d.high[pin] {
			bias = gpiocdev.WithPullUp
		}
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(d.lines, pin)
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
