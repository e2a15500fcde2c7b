package session

import (
	"sync"
	"time"
)

// Ticker is the part of *time.Ticker the timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timer calls onTick on every tick from a background goroutine until Stop is
// called or onTick returns false.
type Timer struct {
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	onTick    func() bool

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewTimer(interval time.Duration, newTicker func(time.Duration) Ticker, onTick func() bool) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &Timer{
		interval:  interval,
		newTicker: newTicker,
		onTick:    onTick,
	}
}

// Start begins ticking from a full interval, stopping any previous run first.
// Like Stop, it must not be called from onTick.
func (t *Timer) Start() {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.running = true

	ticker := t.newTicker(t.interval)
	go t.loop(ticker, t.stop, t.done)
}

func (t *Timer) loop(ticker Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			// A stop that raced with this tick wins.
			select {
			case <-stop:
				return
			default:
			}
			if !t.onTick() {
				t.mu.Lock()
				if t.stop == stop {
					t.running = false
				}
				t.mu.Unlock()
				return
			}
		}
	}
}

// Stop cancels the timer and waits for the tick goroutine to exit, so no
// onTick call is in flight once it returns. It must not be called from
// onTick itself.
func (t *Timer) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	if stop == nil {
		t.mu.Unlock()
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	t.running = false
	t.mu.Unlock()

	<-done
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
