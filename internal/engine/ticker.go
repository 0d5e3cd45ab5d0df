package engine

import (
	"sync"
	"time"
)

// Ticker fires a callback once per period for the lifetime of a session's
// countdown. It runs on its own goroutine, independent of the session loop;
// onTick must therefore only enqueue work (a channel send), never touch
// session state directly.
//
// Stop is idempotent and safe to call from the session loop. After Stop
// returns no further onTick calls are started, though one in-flight call may
// still land; the session's tick handler re-checks its own state before
// acting.
type Ticker struct {
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewTicker starts a ticker firing onTick every period.
func NewTicker(period time.Duration, onTick func()) *Ticker {
	t := &Ticker{stop: make(chan struct{})}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tick.C:
				onTick()
			}
		}
	}()
	return t
}

// Stop halts the ticker. It does not wait for an in-flight onTick.
func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Wait blocks until the ticker goroutine has exited. Used by tests.
func (t *Ticker) Wait() {
	t.wg.Wait()
}
