package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerFiresAndStops(t *testing.T) {
	var ticks atomic.Int64
	tk := NewTicker(time.Millisecond, func() { ticks.Add(1) })

	deadline := time.After(time.Second)
	for ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks before deadline", ticks.Load())
		case <-time.After(time.Millisecond):
		}
	}

	tk.Stop()
	tk.Wait()
	after := ticks.Load()

	// No new callbacks start once the goroutine has exited.
	time.Sleep(10 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Fatalf("ticks after stop: %d -> %d", after, got)
	}
}

func TestTickerStopIsIdempotent(t *testing.T) {
	tk := NewTicker(time.Millisecond, func() {})
	tk.Stop()
	tk.Stop()
	tk.Wait()
}
