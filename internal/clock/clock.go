// Package clock provides the wrapping millisecond counter relays measure
// elapsed time with.
package clock

import (
	"sync"
	"time"
)

// Millis counts milliseconds since it was created, truncated to 32 bits.
// The counter wraps to zero roughly every 49.7 days, like an Arduino millis().
type Millis struct {
	start  time.Time
	offset uint32
	now    func() time.Time
}

// NewMillis starts a counter at zero.
func NewMillis() *Millis {
	return NewMillisAt(0)
}

// NewMillisAt starts a counter at offset. Starting close to math.MaxUint32
// exercises wraparound early.
func NewMillisAt(offset uint32) *Millis {
	return &Millis{start: time.Now(), offset: offset, now: time.Now}
}

// NowMillis returns the current counter value.
func (m *Millis) NowMillis() uint32 {
	// time.Since uses the monotonic reading, so wall clock steps (NTP) do
	// not move the counter.
	ms := m.now().Sub(m.start).Milliseconds()
	return m.offset + uint32(ms)
}

// Fake is a manually driven counter. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex
	ms uint32
}

// NewFake creates a Fake reading ms.
func NewFake(ms uint32) *Fake {
	return &Fake{ms: ms}
}

// NowMillis returns the current value.
func (f *Fake) NowMillis() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms
}

// Set moves the counter to ms.
func (f *Fake) Set(ms uint32) {
	f.mu.Lock()
	f.ms = ms
	f.mu.Unlock()
}

// Advance moves the counter forward by d, wrapping past math.MaxUint32.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.ms += uint32(d.Milliseconds())
	f.mu.Unlock()
}
