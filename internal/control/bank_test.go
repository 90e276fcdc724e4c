package control

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ferm-relay/internal/clock"
	"github.com/sweeney/ferm-relay/internal/config"
	"github.com/sweeney/ferm-relay/internal/gpio"
	"github.com/sweeney/ferm-relay/internal/relay"
	"github.com/sweeney/ferm-relay/internal/report"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func testRelays() []config.Relay {
	return []config.Relay{
		{Name: "Cooler", Pin: 17, DisplayPin: intPtr(27), MinRunTime: 5 * time.Second, ReactivationDelay: 3 * time.Second},
		{Name: "Heater", Pin: 22},
	}
}

type rig struct {
	pins    *gpio.FakeDriver
	clock   *clock.Fake
	reports *report.Recorder
	hook    *test.Hook
	bank    *Bank
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	rg := &rig{
		pins:    gpio.NewFakeDriver(),
		clock:   clock.NewFake(1000),
		reports: report.NewRecorder(),
		hook:    hook,
	}
	env := relay.Env{Pins: rg.pins, Clock: rg.clock, Reporter: rg.reports}
	b, err := Build(testRelays(), env, logger, t0)
	require.NoError(t, err)
	rg.bank = b
	return rg
}

func TestBuildCreatesRelaysInOrder(t *testing.T) {
	rg := newRig(t)

	assert.Equal(t, 2, rg.bank.Len())
	assert.Equal(t, []string{"Cooler", "Heater"}, rg.bank.Names())

	cooler, ok := rg.bank.Relay("Cooler")
	require.True(t, ok)
	assert.True(t, cooler.Timed())
	assert.Equal(t, 27, cooler.DisplayPin())

	heater, ok := rg.bank.Relay("Heater")
	require.True(t, ok)
	assert.False(t, heater.Timed())
	assert.Equal(t, config.NoDisplayPin, heater.DisplayPin())

	// Both outputs forced off at construction.
	assert.Equal(t, []gpio.Write{{Pin: 17, Energized: false}, {Pin: 22, Energized: false}}, rg.pins.Writes())
}

func TestBuildTagsLogsWithRelayName(t *testing.T) {
	rg := newRig(t)
	rg.bank.Apply(Command{Relay: "Heater", On: true})

	entry := rg.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Heater", entry.Data["relay"])
}

func TestBuildRejectsBadRelay(t *testing.T) {
	env := relay.Env{Pins: gpio.NewFakeDriver(), Clock: clock.NewFake(0)}
	bad := []config.Relay{{Name: "Cooler", Pin: 17, MinRunTime: time.Microsecond, ReactivationDelay: time.Second}}

	_, err := Build(bad, env, nil, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, relay.ErrInvalidDuration))
	assert.Contains(t, err.Error(), "Cooler")
}

func TestBuildPropagatesPinFailure(t *testing.T) {
	pins := gpio.NewFakeDriver()
	pins.FailWrites(22, errors.New("line busy"))
	env := relay.Env{Pins: pins, Clock: clock.NewFake(0)}

	_, err := Build(testRelays(), env, nil, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line busy")
}

func TestAddRejectsDuplicate(t *testing.T) {
	rg := newRig(t)
	r, err := relay.New(relay.ID("Cooler"), 5, -1, relay.Env{Pins: rg.pins, Clock: rg.clock})
	require.NoError(t, err)

	assert.Error(t, rg.bank.Add(r))
	assert.Equal(t, 2, rg.bank.Len())
}

func TestApplyOutcomes(t *testing.T) {
	rg := newRig(t)

	res := rg.bank.Apply(Command{Relay: "Cooler", On: true, Source: "test"})
	assert.Equal(t, OutcomeSwitched, res.Outcome)
	assert.True(t, res.On)
	assert.True(t, res.OK())
	assert.Equal(t, "test", res.Source)
	assert.True(t, rg.pins.Level(17))

	res = rg.bank.Apply(Command{Relay: "Cooler", On: true})
	assert.Equal(t, OutcomeNoChange, res.Outcome)
	assert.True(t, res.OK())

	// Inside the minimum run time.
	rg.clock.Advance(2 * time.Second)
	res = rg.bank.Apply(Command{Relay: "Cooler", On: false})
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.True(t, res.On)
	assert.False(t, res.OK())
	assert.NoError(t, res.Err)

	rg.clock.Advance(4 * time.Second)
	res = rg.bank.Apply(Command{Relay: "Cooler", On: false})
	assert.Equal(t, OutcomeSwitched, res.Outcome)
	assert.False(t, rg.pins.Level(17))

	res = rg.bank.Apply(Command{Relay: "Cooler", On: false})
	assert.Equal(t, OutcomeNoChange, res.Outcome)

	// Inside the reactivation delay.
	res = rg.bank.Apply(Command{Relay: "Cooler", On: true})
	assert.Equal(t, OutcomeBlocked, res.Outcome)

	states := rg.bank.States()
	assert.Equal(t, Counts{On: 1, Off: 1, Blocked: 2}, states[0].Counts)
	assert.Equal(t, Counts{}, states[1].Counts)
}

func TestApplyUnknownRelay(t *testing.T) {
	rg := newRig(t)

	res := rg.bank.Apply(Command{Relay: "Fan", On: true})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrUnknownRelay))
	assert.False(t, res.OK())
}

func TestApplyWriteFailure(t *testing.T) {
	rg := newRig(t)
	rg.pins.FailWrites(22, errors.New("line busy"))

	res := rg.bank.Apply(Command{Relay: "Heater", On: true})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "line busy")
	assert.False(t, res.On)
	assert.Equal(t, Counts{}, rg.bank.States()[1].Counts)

	// The next accepted request clears the failure.
	rg.pins.FailWrites(22, nil)
	res = rg.bank.Apply(Command{Relay: "Heater", On: true})
	assert.Equal(t, OutcomeSwitched, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestApplyOffWriteFailureIsNotBlocked(t *testing.T) {
	rg := newRig(t)
	require.Equal(t, OutcomeSwitched, rg.bank.Apply(Command{Relay: "Heater", On: true}).Outcome)
	rg.pins.FailWrites(22, errors.New("line busy"))

	res := rg.bank.Apply(Command{Relay: "Heater", On: false})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "line busy")
	assert.True(t, res.On)
	assert.Equal(t, Counts{On: 1}, rg.bank.States()[1].Counts)
}

func TestRelaysAreIndependent(t *testing.T) {
	rg := newRig(t)

	rg.bank.Apply(Command{Relay: "Cooler", On: true})
	res := rg.bank.Apply(Command{Relay: "Heater", On: true})

	// No interlock: both may be on at once.
	assert.Equal(t, OutcomeSwitched, res.Outcome)
	assert.True(t, rg.pins.Level(17))
	assert.True(t, rg.pins.Level(22))
}

func TestReportAllInConfigOrder(t *testing.T) {
	rg := newRig(t)
	rg.bank.Apply(Command{Relay: "Heater", On: true})

	rg.bank.ReportAll()
	assert.Equal(t, []report.Entry{
		{Name: "Cooler", State: "Off"},
		{Name: "Heater", State: "On"},
	}, rg.reports.Entries())
}

func TestAllOffHonoursGuards(t *testing.T) {
	rg := newRig(t)
	rg.bank.Apply(Command{Relay: "Cooler", On: true})
	rg.bank.Apply(Command{Relay: "Heater", On: true})

	results := rg.bank.AllOff("shutdown")
	require.Len(t, results, 2)

	assert.Equal(t, OutcomeBlocked, results[0].Outcome)
	assert.Equal(t, "shutdown", results[0].Source)
	assert.True(t, rg.pins.Level(17))

	assert.Equal(t, OutcomeSwitched, results[1].Outcome)
	assert.False(t, rg.pins.Level(22))
}

func TestStatesSnapshot(t *testing.T) {
	rg := newRig(t)
	rg.bank.Apply(Command{Relay: "Cooler", On: true})
	rg.clock.Advance(time.Second)

	states := rg.bank.States()
	require.Len(t, states, 2)
	assert.Equal(t, "Cooler", states[0].Name)
	assert.True(t, states[0].On)
	assert.False(t, states[0].CanTurnOff)
	assert.Equal(t, 4*time.Second+time.Millisecond, states[0].GuardRemaining)
	assert.Equal(t, 5*time.Second, states[0].MinRunTime)

	assert.Equal(t, "Heater", states[1].Name)
	assert.True(t, states[1].CanTurnOn)
}

func TestCheckHeartbeat(t *testing.T) {
	rg := newRig(t)

	assert.Nil(t, rg.bank.CheckHeartbeat(t0.Add(time.Minute), 0), "disabled")
	assert.Nil(t, rg.bank.CheckHeartbeat(t0.Add(14*time.Minute), 15*time.Minute), "not yet due")

	hb := rg.bank.CheckHeartbeat(t0.Add(15*time.Minute), 15*time.Minute)
	require.NotNil(t, hb)
	assert.Equal(t, 15*time.Minute, hb.Uptime)
	assert.Len(t, hb.Relays, 2)

	// Interval restarts from the last heartbeat.
	assert.Nil(t, rg.bank.CheckHeartbeat(t0.Add(20*time.Minute), 15*time.Minute))
	hb = rg.bank.CheckHeartbeat(t0.Add(30*time.Minute), 15*time.Minute)
	require.NotNil(t, hb)
	assert.Equal(t, 30*time.Minute, hb.Uptime)
}
