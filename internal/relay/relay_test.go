package relay

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ferm-relay/internal/clock"
	"github.com/sweeney/ferm-relay/internal/gpio"
	"github.com/sweeney/ferm-relay/internal/report"
)

const (
	testPin     = 17
	testDisplay = 27
)

// flash is one recorded Flash call.
type flash struct{ pin, count int }

type fakeFlasher struct{ calls []flash }

func (f *fakeFlasher) Flash(pin, count int) { f.calls = append(f.calls, flash{pin, count}) }

type rig struct {
	pins    *gpio.FakeDriver
	clock   *clock.Fake
	flasher *fakeFlasher
	log     *test.Hook
	reports *report.Recorder
}

func newRig(start uint32) *rig {
	return &rig{
		pins:    gpio.NewFakeDriver(),
		clock:   clock.NewFake(start),
		flasher: &fakeFlasher{},
		reports: report.NewRecorder(),
	}
}

func (r *rig) env() Env {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r.log = hook
	return Env{
		Pins:     r.pins,
		Clock:    r.clock,
		Flasher:  r.flasher,
		Log:      logger.WithField("relay", "Cooler"),
		Reporter: r.reports,
	}
}

func newTimedRelay(t *testing.T, rg *rig, minRun, delay time.Duration) *TimedRelay {
	t.Helper()
	r, err := NewTimed(ID("Cooler"), testPin, testDisplay, minRun, delay, rg.env())
	require.NoError(t, err)
	return r
}

func warnings(h *test.Hook) []string {
	var out []string
	for _, e := range h.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestNewForcesOff(t *testing.T) {
	rg := newRig(0)
	rg.pins.Preset(testPin, true) // hardware came up energized

	r, err := New(ID("Heater"), testPin, testDisplay, rg.env())
	require.NoError(t, err)

	assert.False(t, r.IsOn())
	assert.False(t, rg.pins.Level(testPin))
	assert.Equal(t, []gpio.Write{{Pin: testPin, Energized: false}}, rg.pins.Writes())
	assert.False(t, r.Timed())
}

func TestNewTimedForcesOff(t *testing.T) {
	rg := newRig(0)
	rg.pins.Preset(testPin, true)

	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)

	assert.False(t, r.IsOn())
	assert.False(t, rg.pins.Level(testPin))
	assert.True(t, r.Timed())
}

func TestNewPinWriteFailure(t *testing.T) {
	rg := newRig(0)
	rg.pins.FailWrites(testPin, errors.New("line busy"))

	_, err := New(ID("Heater"), testPin, testDisplay, rg.env())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line busy")
}

func TestNewTimedRejectsBadDurations(t *testing.T) {
	tests := []struct {
		name          string
		minRun, delay time.Duration
	}{
		{"zero min run", 0, time.Second},
		{"zero delay", time.Second, 0},
		{"negative", -time.Second, time.Second},
		{"sub-millisecond", 500 * time.Microsecond, time.Second},
		{"beyond counter", time.Second, time.Duration(math.MaxUint32+1) * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := newRig(0)
			_, err := NewTimed(ID("Cooler"), testPin, testDisplay, tt.minRun, tt.delay, rg.env())
			assert.ErrorIs(t, err, ErrInvalidDuration)
			assert.Empty(t, rg.pins.Writes(), "no pin write on rejected config")
		})
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	rg := newRig(0)

	_, err := New(nil, testPin, testDisplay, rg.env())
	assert.Error(t, err)

	_, err = New(ID("x"), testPin, testDisplay, Env{Clock: rg.clock})
	assert.Error(t, err)

	_, err = New(ID("x"), testPin, testDisplay, Env{Pins: rg.pins})
	assert.Error(t, err)
}

func TestOptionalCollaboratorsDefault(t *testing.T) {
	rg := newRig(0)
	r, err := NewTimed(ID("x"), testPin, testDisplay, time.Second, time.Second, Env{Pins: rg.pins, Clock: rg.clock})
	require.NoError(t, err)

	require.True(t, r.RequestOn())
	assert.False(t, r.RequestOff()) // blocked: no-op flasher and logger must not panic
	r.Report()
}

func TestRequestOnIdempotent(t *testing.T) {
	rg := newRig(1000)
	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)

	require.True(t, r.RequestOn())
	first := r.State().LastOnAt

	rg.clock.Set(4000)
	assert.True(t, r.RequestOn())
	assert.Equal(t, first, r.State().LastOnAt, "lastOnAt must not move on a no-op")
	assert.Len(t, rg.pins.WritesTo(testPin), 2, "construction + one energize")
}

func TestRequestOffIdempotent(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)

	assert.True(t, r.RequestOff(), "off while off is success")
	assert.False(t, r.State().LastOffValid, "no-op must not record lastOffAt")
	assert.Empty(t, rg.flasher.calls)
	assert.Empty(t, warnings(rg.log))
}

func TestReactivationGuard(t *testing.T) {
	const delay = 3000
	rg := newRig(0)
	r := newTimedRelay(t, rg, time.Millisecond, delay*time.Millisecond)

	require.True(t, r.RequestOn())
	rg.clock.Set(10)
	require.True(t, r.RequestOff())
	offAt := uint32(10)

	for _, at := range []uint32{offAt + 1, offAt + delay/2, offAt + delay} {
		rg.clock.Set(at)
		assert.False(t, r.CanTurnOn(), "t=%d", at)
		assert.False(t, r.RequestOn(), "t=%d", at)
		assert.False(t, rg.pins.Level(testPin), "t=%d: pin must stay de-energized", at)
		assert.False(t, r.IsOn())
	}

	rg.clock.Set(offAt + delay + 1)
	assert.True(t, r.CanTurnOn())
	assert.True(t, r.RequestOn())
	assert.True(t, rg.pins.Level(testPin))
}

func TestMinRunGuard(t *testing.T) {
	const minRun = 5000
	rg := newRig(100)
	r := newTimedRelay(t, rg, minRun*time.Millisecond, time.Millisecond)

	require.True(t, r.RequestOn())
	onAt := uint32(100)

	for _, at := range []uint32{onAt + 1, onAt + minRun - 1, onAt + minRun} {
		rg.clock.Set(at)
		assert.False(t, r.CanTurnOff(), "t=%d", at)
		assert.False(t, r.RequestOff(), "t=%d", at)
		assert.True(t, rg.pins.Level(testPin), "t=%d: pin must stay energized", at)
		assert.True(t, r.IsOn())
	}

	rg.clock.Set(onAt + minRun + 1)
	assert.True(t, r.RequestOff())
	assert.False(t, rg.pins.Level(testPin))
}

func TestBlockedRequestSignalsFault(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)

	require.True(t, r.RequestOn())
	rg.clock.Set(1000)
	require.False(t, r.RequestOff())

	assert.Equal(t, []flash{{testDisplay, FaultFlashes}}, rg.flasher.calls)
	assert.NoError(t, r.WriteErr(), "a guard block is not a write failure")
	assert.Equal(t, []string{"can't turn off Cooler"}, warnings(rg.log))
	assert.Equal(t, "Cooler", rg.log.LastEntry().Data["relay"])
	assert.Empty(t, rg.pins.WritesTo(testDisplay), "the relay never drives the display pin itself")
}

func TestUnconstrainedSwitchesImmediately(t *testing.T) {
	rg := newRig(0)
	r, err := New(ID("Heater"), testPin, testDisplay, rg.env())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, r.CanTurnOn())
		assert.True(t, r.RequestOn())
		assert.True(t, rg.pins.Level(testPin))
		assert.True(t, r.CanTurnOff())
		assert.True(t, r.RequestOff())
		assert.False(t, rg.pins.Level(testPin))
	}
	assert.Empty(t, rg.flasher.calls)
	assert.Empty(t, warnings(rg.log))
}

func TestFermentationScenario(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, 5000*time.Millisecond, 3000*time.Millisecond)

	// t=0: first activation is never delayed.
	assert.True(t, r.RequestOn())
	assert.True(t, rg.pins.Level(testPin))

	rg.clock.Set(2000)
	assert.False(t, r.RequestOff())
	assert.True(t, rg.pins.Level(testPin))

	rg.clock.Set(6000)
	assert.True(t, r.RequestOff())
	assert.False(t, rg.pins.Level(testPin))
	s := r.State()
	assert.True(t, s.LastOffValid)
	assert.Equal(t, uint32(6000), s.LastOffAt)

	rg.clock.Set(8000)
	assert.False(t, r.RequestOn())
	assert.False(t, rg.pins.Level(testPin))

	rg.clock.Set(9001)
	assert.True(t, r.RequestOn())
	assert.True(t, rg.pins.Level(testPin))
	assert.Equal(t, uint32(9001), r.State().LastOnAt)
}

func TestGuardAcrossCounterWrap(t *testing.T) {
	rg := newRig(math.MaxUint32 - 999)
	r := newTimedRelay(t, rg, 2000*time.Millisecond, 3000*time.Millisecond)

	require.True(t, r.RequestOn())

	// 1500ms later the counter has wrapped to 500.
	rg.clock.Set(500)
	assert.Equal(t, uint32(1500), Elapsed(math.MaxUint32-999, 500))
	assert.False(t, r.RequestOff())

	// 2001ms after switching on.
	rg.clock.Set(1001)
	assert.True(t, r.RequestOff())
	assert.False(t, rg.pins.Level(testPin))

	rg.clock.Set(4001)
	assert.False(t, r.RequestOn(), "exactly the delay is not enough")
	rg.clock.Set(4002)
	assert.True(t, r.RequestOn())
}

func TestElapsed(t *testing.T) {
	tests := []struct {
		since, now, want uint32
	}{
		{0, 0, 0},
		{100, 350, 250},
		{math.MaxUint32, 0, 1},
		{math.MaxUint32 - 9, 10, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Elapsed(tt.since, tt.now), "Elapsed(%d, %d)", tt.since, tt.now)
	}
}

func TestRequestOnPinFailureKeepsState(t *testing.T) {
	rg := newRig(0)
	r, err := New(ID("Heater"), testPin, testDisplay, rg.env())
	require.NoError(t, err)

	rg.pins.FailWrites(testPin, errors.New("line busy"))
	assert.False(t, r.RequestOn())
	assert.False(t, r.IsOn())
	assert.False(t, r.State().LastOnValid)
	assert.Len(t, warnings(rg.log), 1)
	assert.Empty(t, rg.flasher.calls, "a write failure is not a guard fault")
	assert.EqualError(t, r.WriteErr(), "line busy")

	rg.pins.FailWrites(testPin, nil)
	assert.True(t, r.RequestOn())
	assert.NoError(t, r.WriteErr())
}

func TestRequestOffPinFailureKeepsState(t *testing.T) {
	rg := newRig(0)
	r, err := New(ID("Heater"), testPin, testDisplay, rg.env())
	require.NoError(t, err)
	require.True(t, r.RequestOn())

	rg.pins.FailWrites(testPin, errors.New("line busy"))
	assert.False(t, r.RequestOff())
	assert.True(t, r.IsOn())
	assert.True(t, rg.pins.Level(testPin))
	assert.False(t, r.State().LastOffValid)
	assert.Error(t, r.WriteErr())
}

func TestReportAndString(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, time.Second, time.Second)

	r.Report()
	require.True(t, r.RequestOn())
	r.Report()

	assert.Equal(t, []report.Entry{
		{Name: "Cooler", State: "Off"},
		{Name: "Cooler", State: "On"},
	}, rg.reports.Entries())
	assert.Equal(t, "Cooler:On", r.String())
}

type mutableName struct{ name string }

func (m *mutableName) Name() string { return m.name }

func TestIdentityIsReferenced(t *testing.T) {
	rg := newRig(0)
	id := &mutableName{name: "Fridge"}
	r, err := New(id, testPin, testDisplay, rg.env())
	require.NoError(t, err)

	id.name = "Chamber"
	assert.Equal(t, "Chamber", r.Name())
	assert.Equal(t, "Chamber:Off", r.String())
}

func TestState(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)

	s := r.State()
	assert.Equal(t, "Cooler", s.Name)
	assert.Equal(t, testPin, s.Pin)
	assert.Equal(t, testDisplay, s.DisplayPin)
	assert.Equal(t, 5*time.Second, s.MinRunTime)
	assert.Equal(t, 3*time.Second, s.ReactivationDelay)
	assert.True(t, s.CanTurnOn)
	assert.False(t, s.CanTurnOff)
	assert.Zero(t, s.GuardRemaining)

	require.True(t, r.RequestOn())
	rg.clock.Set(2000)
	s = r.State()
	assert.True(t, s.On)
	assert.False(t, s.CanTurnOff)
	assert.Equal(t, 3001*time.Millisecond, s.GuardRemaining)

	rg.clock.Set(5001)
	assert.Zero(t, r.State().GuardRemaining)
}

func TestCanTurnIsPure(t *testing.T) {
	rg := newRig(0)
	r := newTimedRelay(t, rg, 5*time.Second, 3*time.Second)
	writes := len(rg.pins.Writes())
	entries := len(rg.log.AllEntries())

	r.CanTurnOn()
	r.CanTurnOff()
	r.State()

	assert.Len(t, rg.pins.Writes(), writes)
	assert.Len(t, rg.log.AllEntries(), entries)
	assert.Empty(t, rg.flasher.calls)
}
