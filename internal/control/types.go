// Package control owns the configured relays and applies on/off commands
// to them. It has no goroutines of its own: every method is meant to be
// called from the single control loop, which is what keeps each relay
// single-threaded.
package control

import (
	"errors"
	"time"

	"github.com/sweeney/ferm-relay/internal/relay"
)

// ErrUnknownRelay is returned for commands naming a relay that is not configured.
var ErrUnknownRelay = errors.New("unknown relay")

// Outcome classifies what a command did.
type Outcome string

const (
	OutcomeSwitched Outcome = "SWITCHED"
	OutcomeNoChange Outcome = "NO_CHANGE"
	OutcomeBlocked  Outcome = "BLOCKED"
	OutcomeFailed   Outcome = "FAILED"
)

// Command asks for a relay to be switched.
type Command struct {
	Relay  string
	On     bool
	Source string // e.g. "mqtt", "http", "console"

	// Reply, if set, receives the Result. It must be buffered; the loop
	// never blocks on it.
	Reply chan<- Result
}

// Result is the outcome of one Command.
type Result struct {
	Relay     string
	Requested bool // the state asked for
	On        bool // the state afterwards
	Outcome   Outcome
	Source    string
	Err       error
}

// OK reports whether the relay ended in the requested state.
func (r Result) OK() bool {
	return r.Err == nil && r.On == r.Requested
}

// Counts tracks per-relay request outcomes since startup.
type Counts struct {
	On      int
	Off     int
	Blocked int
}

// RelayStatus pairs a relay snapshot with its counters.
type RelayStatus struct {
	relay.State
	Counts Counts
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Relays    []RelayStatus
}
