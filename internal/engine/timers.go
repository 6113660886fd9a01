package engine

import (
	"sync"
	"time"
)

// timerSet tracks pending market-order settle timers so reset() and
// cancel_order can cancel them, per spec §4.8 ("Pending timers are
// tracked; reset() cancels them all").
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

func (t *timerSet) add(orderID string, timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers[orderID] = timer
}

func (t *timerSet) cancel(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[orderID]; ok {
		timer.Stop()
		delete(t.timers, orderID)
	}
}

func (t *timerSet) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
