//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/hjkoskel/govattu"
)

// VattuDriver drives outputs through memory-mapped BCM283x registers.
// Fastest backend, Raspberry Pi only.
type VattuDriver struct {
	mu   sync.Mutex
	hw   govattu.Vattu
	used map[uint8]bool
	high map[uint8]bool
}

// NewVattuDriver maps the GPIO registers.
func NewVattuDriver() (*VattuDriver, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &VattuDriver{hw: hw, used: make(map[uint8]bool), high: make(map[uint8]bool)}, nil
}

// SetPinState drives pin to the requested level.
func (d *VattuDriver) SetPinState(pin int, energized bool) error {
	if pin < 0 || pin > 53 {
		return fmt.Errorf("pin %d out of range", pin)
	}
	p := uint8(pin)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.used[p] {
		d.hw.PinMode(p, govattu.ALToutput)
		d.used[p] = true
	}
	if energized {
		d.hw.PinSet(p)
	} else {
		d.hw.PinClear(p)
	}
	return nil
}

// SetReleaseLevel sets the level pin is driven to on Close.
func (d *VattuDriver) SetReleaseLevel(pin int, high bool) {
	if pin < 0 || pin > 53 {
		return
	}
	d.mu.Lock()
	d.high[uint8(pin)] = high
	d.mu.Unlock()
}

// Close drives every used pin to its release level and unmaps the
// registers.
func (d *VattuDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for p := range d.used {
		if d.high[p] {
			d.hw.PinSet(p)
		} else {
			d.hw.PinClear(p)
		}
	}
	d.used = make(map[uint8]bool)
	return d.hw.Close()
}
