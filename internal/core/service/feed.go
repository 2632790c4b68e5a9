package service

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// stateFeed fans state snapshots out to watchers. Slow watchers lose the
// oldest snapshot, never the latest.
type stateFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan domain.CallState
}

func newStateFeed() *stateFeed {
	return &stateFeed{subs: make(map[int]chan domain.CallState)}
}

func (f *stateFeed) watch(initial domain.CallState) (<-chan domain.CallState, func()) {
	ch := make(chan domain.CallState, 16)
	ch <- initial

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
	}
}

func (f *stateFeed) publish(st domain.CallState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (f *stateFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
