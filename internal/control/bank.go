package control

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/ferm-relay/internal/config"
	"github.com/sweeney/ferm-relay/internal/relay"
)

// Bank is the ordered set of relays the daemon controls. Relays are
// independent: a command on one never touches another.
type Bank struct {
	relays        []*relay.TimedRelay
	counts        []Counts
	byName        map[string]int
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewBank creates an empty bank. The startTime is used for calculating
// uptime in heartbeat events.
func NewBank(startTime time.Time) *Bank {
	return &Bank{
		byName:        make(map[string]int),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Build creates a relay for every configured entry, in order. Each relay
// gets env with its logger tagged by relay name.
func Build(relays []config.Relay, env relay.Env, logger logrus.FieldLogger, startTime time.Time) (*Bank, error) {
	b := NewBank(startTime)
	for _, rc := range relays {
		e := env
		if logger != nil {
			e.Log = logger.WithField("relay", rc.Name)
		}

		var (
			r   *relay.TimedRelay
			err error
		)
		if rc.Timed() {
			r, err = relay.NewTimed(relay.ID(rc.Name), rc.Pin, rc.Display(), rc.MinRunTime, rc.ReactivationDelay, e)
		} else {
			r, err = relay.New(relay.ID(rc.Name), rc.Pin, rc.Display(), e)
		}
		if err != nil {
			return nil, fmt.Errorf("relay %s: %w", rc.Name, err)
		}
		if err := b.Add(r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Add appends r. Names must be unique.
func (b *Bank) Add(r *relay.TimedRelay) error {
	if _, ok := b.byName[r.Name()]; ok {
		return fmt.Errorf("duplicate relay %q", r.Name())
	}
	b.byName[r.Name()] = len(b.relays)
	b.relays = append(b.relays, r)
	b.counts = append(b.counts, Counts{})
	return nil
}

// Len returns the number of relays.
func (b *Bank) Len() int { return len(b.relays) }

// Names returns relay names in configuration order.
func (b *Bank) Names() []string {
	names := make([]string, len(b.relays))
	for i, r := range b.relays {
		names[i] = r.Name()
	}
	return names
}

// Relay returns the named relay.
func (b *Bank) Relay(name string) (*relay.TimedRelay, bool) {
	i, ok := b.byName[name]
	if !ok {
		return nil, false
	}
	return b.relays[i], true
}

// Apply runs a command against its relay.
func (b *Bank) Apply(cmd Command) Result {
	res := Result{Relay: cmd.Relay, Requested: cmd.On, Source: cmd.Source}

	i, ok := b.byName[cmd.Relay]
	if !ok {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w %q", ErrUnknownRelay, cmd.Relay)
		return res
	}
	r := b.relays[i]

	wasOn := r.IsOn()
	var accepted bool
	if cmd.On {
		accepted = r.RequestOn()
	} else {
		accepted = r.RequestOff()
	}
	res.On = r.IsOn()

	switch {
	case !accepted && r.WriteErr() != nil:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("relay %s: %w", cmd.Relay, r.WriteErr())
	case !accepted:
		res.Outcome = OutcomeBlocked
		b.counts[i].Blocked++
	case res.On != wasOn:
		res.Outcome = OutcomeSwitched
		if res.On {
			b.counts[i].On++
		} else {
			b.counts[i].Off++
		}
	default:
		res.Outcome = OutcomeNoChange
	}
	return res
}

// ReportAll sends the status line of every relay, in configuration order.
func (b *Bank) ReportAll() {
	for _, r := range b.relays {
		r.Report()
	}
}

// AllOff requests every relay off. Guards still apply, so a compressor
// inside its minimum run time stays on and is reported as blocked.
func (b *Bank) AllOff(source string) []Result {
	results := make([]Result, 0, len(b.relays))
	for _, r := range b.relays {
		results = append(results, b.Apply(Command{Relay: r.Name(), On: false, Source: source}))
	}
	return results
}

// States returns a snapshot of every relay with its counters.
func (b *Bank) States() []RelayStatus {
	out := make([]RelayStatus, len(b.relays))
	for i, r := range b.relays {
		out[i] = RelayStatus{State: r.State(), Counts: b.counts[i]}
	}
	return out
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (b *Bank) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(b.lastHeartbeat) < interval {
		return nil
	}

	b.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(b.startTime),
		Relays:    b.States(),
	}
}
