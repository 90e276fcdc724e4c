// Package status provides a thread-safe status tracker for the ferm-relay daemon.
// It is written by the control loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/ferm-relay/internal/control"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	HeartbeatMs   int64
	ReportEveryMs int64
	Broker        string
	TopicPrefix   string
	HTTPPort      string
	Driver        string
	WSBroker      string // Websocket broker URL for browser MQTT (empty = disabled)
	HTTPControl   bool   // relay on/off accepted over HTTP
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Relays        []control.RelayStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Relay returns the named relay from the snapshot.
func (s Snapshot) Relay(name string) (control.RelayStatus, bool) {
	for _, r := range s.Relays {
		if r.Name == name {
			return r, true
		}
	}
	return control.RelayStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the relay states. Called from runLoop after every command
// and on every tick.
func (t *Tracker) Update(relays []control.RelayStatus) {
	cp := make([]control.RelayStatus, len(relays))
	copy(cp, relays)

	t.mu.Lock()
	t.snap.Relays = cp
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Has reports whether a relay with the given name is being tracked.
func (t *Tracker) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.snap.Relays {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
