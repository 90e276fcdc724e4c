// Package gpio drives relay outputs with hardware abstraction.
// Real backends use the Linux GPIO character device (gpiocdev), periph.io
// or memory-mapped registers (govattu). The fake backend allows testing
// without hardware.
package gpio

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned by backends that cannot run on this platform.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Writer sets output levels.
type Writer interface {
	// SetPinState drives pin high (energized) or low. Pins are BCM numbers.
	SetPinState(pin int, energized bool) error
}

// Driver is a Writer that owns hardware resources.
type Driver interface {
	Writer

	// SetReleaseLevel sets the level pin is left at when the driver is
	// closed. The default is low.
	SetReleaseLevel(pin int, high bool)

	// Close releases GPIO resources, leaving each pin at its release level.
	Close() error
}

// Backend names accepted in Config.Driver.
const (
	DriverGPIOCDev = "gpiocdev"
	DriverPeriph   = "periph"
	DriverGovattu  = "govattu"
	DriverFake     = "fake"
)

// DefaultChip is the Raspberry Pi header GPIO chip.
const DefaultChip = "gpiochip0"

// DefaultFlashInterval is the on and off time of one fault flash.
const DefaultFlashInterval = 100 * time.Millisecond

// Config selects and configures an output backend.
type Config struct {
	Driver        string        `yaml:"driver"`
	Chip          string        `yaml:"chip"`
	FlashInterval time.Duration `yaml:"flash_interval"`
}

// ValidDriver reports whether name is a known backend. Empty means default.
func ValidDriver(name string) bool {
	switch name {
	case "", DriverGPIOCDev, DriverPeriph, DriverGovattu, DriverFake:
		return true
	}
	return false
}

// Open creates the backend named in cfg.
func Open(cfg Config) (Driver, error) {
	switch cfg.Driver {
	case "", DriverGPIOCDev:
		chip := cfg.Chip
		if chip == "" {
			chip = DefaultChip
		}
		d, err := NewChipDriver(chip)
		if err != nil {
			return nil, err
		}
		return d, nil
	case DriverPeriph:
		d, err := NewPeriphDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case DriverGovattu:
		d, err := NewVattuDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case DriverFake:
		return NewFakeDriver(), nil
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", cfg.Driver)
	}
}

// ActiveLow wraps a Driver for relay boards that energize on a low level.
type ActiveLow struct {
	Driver
	pins map[int]bool
}

// NewActiveLow inverts the level written to each of pins.
// Other pins pass through unchanged. The inverted pins are released high
// on Close so their loads stay de-energized after exit.
func NewActiveLow(d Driver, pins ...int) *ActiveLow {
	a := &ActiveLow{Driver: d, pins: make(map[int]bool, len(pins))}
	for _, p := range pins {
		a.pins[p] = true
		d.SetReleaseLevel(p, true)
	}
	return a
}

// SetReleaseLevel takes high as the energized state for active-low pins.
func (a *ActiveLow) SetReleaseLevel(pin int, high bool) {
	a.Driver.SetReleaseLevel(pin, high != a.pins[pin])
}

// SetPinState writes the inverted level for active-low pins.
func (a *ActiveLow) SetPinState(pin int, energized bool) error {
	return a.Driver.SetPinState(pin, energized != a.pins[pin]) // xor
}
