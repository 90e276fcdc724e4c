package clock

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMillisStartsAtOffset(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Millis{start: base, offset: 42, now: func() time.Time { return base }}
	assert.Equal(t, uint32(42), m.NowMillis())
}

func TestMillisCountsElapsed(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	m := &Millis{start: base, now: func() time.Time { return now }}

	now = base.Add(1500 * time.Millisecond)
	assert.Equal(t, uint32(1500), m.NowMillis())

	now = base.Add(time.Hour)
	assert.Equal(t, uint32(3600000), m.NowMillis())
}

func TestMillisWraps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	m := &Millis{start: base, offset: math.MaxUint32 - 99, now: func() time.Time { return now }}

	now = base.Add(100 * time.Millisecond)
	assert.Equal(t, uint32(0), m.NowMillis())

	now = base.Add(250 * time.Millisecond)
	assert.Equal(t, uint32(150), m.NowMillis())
}

func TestNewMillisIsNearZero(t *testing.T) {
	m := NewMillis()
	assert.Less(t, m.NowMillis(), uint32(1000))
}

func TestFakeAdvanceWraps(t *testing.T) {
	f := NewFake(math.MaxUint32 - 10)
	f.Advance(20 * time.Millisecond)
	assert.Equal(t, uint32(9), f.NowMillis())

	f.Set(5000)
	assert.Equal(t, uint32(5000), f.NowMillis())
}
