package service

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CallTimer counts wall-clock time while a call is connected.
type CallTimer struct {
	clock  clock.Clock
	onTick func()

	mu      sync.Mutex
	started time.Time
	stop    chan struct{}
}

func NewCallTimer(c clock.Clock, onTick func()) *CallTimer {
	if c == nil {
		c = clock.New()
	}
	return &CallTimer{clock: c, onTick: onTick}
}

// Start begins counting from zero and returns the start time. Starting a
// running timer keeps the original start.
func (t *CallTimer) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return t.started
	}
	t.started = t.clock.Now()
	t.stop = make(chan struct{})

	ticker := t.clock.Ticker(time.Second)
	go func(stop chan struct{}) {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if t.onTick != nil {
					t.onTick()
				}
			}
		}
	}(t.stop)
	return t.started
}

func (t *CallTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
	t.started = time.Time{}
}

func (t *CallTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Seconds is the whole number of seconds since Start, or 0 when stopped.
func (t *CallTimer) Seconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return 0
	}
	return int(t.clock.Since(t.started) / time.Second)
}
