// Package config loads the daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/ferm-relay/internal/gpio"
	"github.com/sweeney/ferm-relay/internal/mqtt"
	"github.com/sweeney/ferm-relay/internal/report"
)

// DefaultPath is the config file read when -cfg is not given.
const DefaultPath = "ferm-relay.yaml"

// ErrNoRelays is returned when the configuration defines no relays.
var ErrNoRelays = errors.New("config: no relays defined")

// NoDisplayPin marks a relay without a fault indicator.
const NoDisplayPin = -1

// Config is the main configuration structure.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Control loop timing
	Poll        time.Duration `yaml:"poll"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	ReportEvery time.Duration `yaml:"report_every"`

	// HTTP status address (empty to disable)
	HTTP string `yaml:"http"`
	// Accept POST /relay/<name>/on|off. Off by default.
	HTTPControl bool `yaml:"http_control"`

	MQTT   mqtt.Config         `yaml:"mqtt"`
	Serial report.SerialConfig `yaml:"serial"`
	GPIO   gpio.Config         `yaml:"gpio"`

	Relays []Relay `yaml:"relays"`
}

// Relay configures one timed relay.
type Relay struct {
	Name       string `yaml:"name"`
	Pin        int    `yaml:"pin"`
	DisplayPin *int   `yaml:"display_pin"`
	ActiveLow  bool   `yaml:"active_low"`

	// Both zero: unconstrained relay. Both set: compressor protection.
	MinRunTime        time.Duration `yaml:"min_run_time"`
	ReactivationDelay time.Duration `yaml:"reactivation_delay"`
}

// Display returns the display pin, or NoDisplayPin.
func (r Relay) Display() int {
	if r.DisplayPin == nil {
		return NoDisplayPin
	}
	return *r.DisplayPin
}

// Timed reports whether the relay has guards configured.
func (r Relay) Timed() bool {
	return r.MinRunTime > 0 || r.ReactivationDelay > 0
}

// Default returns a configuration with defaults filled in and no relays.
func Default() Config {
	return Config{
		LogLevel:    "info",
		Poll:        time.Second,
		Heartbeat:   15 * time.Minute,
		ReportEvery: 5 * time.Second,
		HTTP:        ":8080",
		MQTT:        mqtt.Config{TopicPrefix: mqtt.DefaultTopicPrefix},
		Serial:      report.SerialConfig{Baud: report.DefaultBaud},
		GPIO: gpio.Config{
			Driver:        gpio.DriverGPIOCDev,
			Chip:          gpio.DefaultChip,
			FlashInterval: gpio.DefaultFlashInterval,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the configuration for mistakes that would otherwise
// show up as hardware surprises.
func (c Config) Validate() error {
	if len(c.Relays) == 0 {
		return ErrNoRelays
	}
	if c.Poll <= 0 {
		return fmt.Errorf("config: poll must be positive, got %v", c.Poll)
	}
	if c.Heartbeat < 0 || c.ReportEvery < 0 {
		return errors.New("config: heartbeat and report_every must not be negative")
	}
	if !gpio.ValidDriver(c.GPIO.Driver) {
		return fmt.Errorf("config: unknown gpio driver %q", c.GPIO.Driver)
	}

	names := make(map[string]bool)
	pins := make(map[int]string)
	claim := func(pin int, owner string) error {
		if other, ok := pins[pin]; ok {
			return fmt.Errorf("config: pin %d used by both %s and %s", pin, other, owner)
		}
		pins[pin] = owner
		return nil
	}

	for i, r := range c.Relays {
		if !namePattern.MatchString(r.Name) {
			return fmt.Errorf("config: relay %d: name %q must be letters, digits, '-' or '_'", i, r.Name)
		}
		if names[r.Name] {
			return fmt.Errorf("config: duplicate relay name %q", r.Name)
		}
		names[r.Name] = true

		if r.Pin < 0 {
			return fmt.Errorf("config: relay %s: pin must not be negative", r.Name)
		}
		if err := claim(r.Pin, r.Name); err != nil {
			return err
		}
		if d := r.Display(); d != NoDisplayPin {
			if d < 0 {
				return fmt.Errorf("config: relay %s: display_pin must not be negative", r.Name)
			}
			if err := claim(d, r.Name+" display"); err != nil {
				return err
			}
		}

		if r.MinRunTime < 0 || r.ReactivationDelay < 0 {
			return fmt.Errorf("config: relay %s: guard durations must not be negative", r.Name)
		}
		if r.Timed() && (r.MinRunTime < time.Millisecond || r.ReactivationDelay < time.Millisecond) {
			return fmt.Errorf("config: relay %s: set both min_run_time and reactivation_delay (at least 1ms), or neither", r.Name)
		}
	}
	return nil
}

// ActiveLowPins returns the output pins of relays wired active-low.
func (c Config) ActiveLowPins() []int {
	var pins []int
	for _, r := range c.Relays {
		if r.ActiveLow {
			pins = append(pins, r.Pin)
		}
	}
	return pins
}
