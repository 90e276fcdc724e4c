//go:build !linux

package gpio

// ChipDriver is not available on non-Linux platforms.
type ChipDriver struct{}

// NewChipDriver returns ErrUnsupported on non-Linux platforms.
func NewChipDriver(name string) (*ChipDriver, error) {
	return nil, ErrUnsupported
}

// SetPinState is not implemented on non-Linux platforms.
func (d *ChipDriver) SetPinState(pin int, energized bool) error { return ErrUnsupported }

// SetReleaseLevel is a no-op on non-Linux platforms.
func (d *ChipDriver) SetReleaseLevel(pin int, high bool) {}

// Close is not implemented on non-Linux platforms.
func (d *ChipDriver) Close() error { return nil }

// PeriphDriver is not available on non-Linux platforms.
type PeriphDriver struct{}

// NewPeriphDriver returns ErrUnsupported on non-Linux platforms.
func NewPeriphDriver() (*PeriphDriver, error) { return nil, ErrUnsupported }

// SetPinState is not implemented on non-Linux platforms.
func (d *PeriphDriver) SetPinState(pin int, energized bool) error { return ErrUnsupported }

// SetReleaseLevel is a no-op on non-Linux platforms.
func (d *PeriphDriver) SetReleaseLevel(pin int, high bool) {}

// Close is not implemented on non-Linux platforms.
func (d *PeriphDriver) Close() error { return nil }

// VattuDriver is not available on non-Linux platforms.
type VattuDriver struct{}

// NewVattuDriver returns ErrUnsupported on non-Linux platforms.
func NewVattuDriver() (*VattuDriver, error) { return nil, ErrUnsupported }

// SetPinState is not implemented on non-Linux platforms.
func (d *VattuDriver) SetPinState(pin int, energized bool) error { return ErrUnsupported }

// SetReleaseLevel is a no-op on non-Linux platforms.
func (d *VattuDriver) SetReleaseLevel(pin int, high bool) {}

// Close is not implemented on non-Linux platforms.
func (d *VattuDriver) Close() error { return nil }
