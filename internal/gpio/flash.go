package gpio

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Flasher blinks indicator pins in the background so a blocked relay
// request never stalls the control loop.
type Flasher struct {
	w        Writer
	interval time.Duration
	log      logrus.FieldLogger

	mu   sync.Mutex
	busy map[int]bool
	wg   sync.WaitGroup
}

// NewFlasher creates a Flasher writing through w. A non-positive interval
// uses DefaultFlashInterval.
func NewFlasher(w Writer, interval time.Duration, log logrus.FieldLogger) *Flasher {
	if interval <= 0 {
		interval = DefaultFlashInterval
	}
	return &Flasher{
		w:        w,
		interval: interval,
		log:      log,
		busy:     make(map[int]bool),
	}
}

// Flash blinks pin count times and leaves it low. A negative pin means no
// indicator is wired and is ignored. While a pin is already flashing,
// further requests for it are dropped.
func (f *Flasher) Flash(pin, count int) {
	if pin < 0 || count <= 0 {
		return
	}

	f.mu.Lock()
	if f.busy[pin] {
		f.mu.Unlock()
		return
	}
	f.busy[pin] = true
	f.wg.Add(1)
	f.mu.Unlock()

	go f.run(pin, count)
}

func (f *Flasher) run(pin, count int) {
	defer func() {
		f.mu.Lock()
		delete(f.busy, pin)
		f.mu.Unlock()
		f.wg.Done()
	}()

	for i := 0; i < count; i++ {
		if !f.write(pin, true) {
			return
		}
		time.Sleep(f.interval)
		if !f.write(pin, false) {
			return
		}
		time.Sleep(f.interval)
	}
}

func (f *Flasher) write(pin int, on bool) bool {
	if err := f.w.SetPinState(pin, on); err != nil {
		if f.log != nil {
			f.log.WithError(err).WithField("pin", pin).Warn("flash aborted")
		}
		// Best effort to leave the indicator dark.
		_ = f.w.SetPinState(pin, false)
		return false
	}
	return true
}

// Wait blocks until every running flash has finished.
func (f *Flasher) Wait() {
	f.wg.Wait()
}
