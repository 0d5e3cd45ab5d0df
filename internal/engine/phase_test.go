package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

func TestPhaseCompletesWhenRosterCovered(t *testing.T) {
	roster := testRoster("a", "b")
	p := NewPhase[string](model.PhaseCombatant, roster)

	if res := p.TryAccept("a", "one"); res != gateway.SubmitAccepted {
		t.Fatalf("first accept: %s", res)
	}
	if p.State() != PhaseOpen {
		t.Fatalf("state after partial coverage: %s", p.State())
	}

	if res := p.TryAccept("b", "two"); res != gateway.SubmitAccepted {
		t.Fatalf("covering accept: %s", res)
	}
	if p.State() != PhaseCompleted {
		t.Fatalf("state after full coverage: %s", p.State())
	}

	entries, ok := p.AwaitOutcome(context.Background())
	if !ok {
		t.Fatal("await returned abort for completed phase")
	}
	if entries["a"] != "one" || entries["b"] != "two" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPhaseRejections(t *testing.T) {
	roster := testRoster("a", "b")
	p := NewPhase[string](model.PhaseStrategy, roster)

	if res := p.TryAccept("stranger", "x"); res != gateway.SubmitNotParticipant {
		t.Fatalf("outsider accept: %s", res)
	}
	p.TryAccept("a", "first")
	if res := p.TryAccept("a", "second"); res != gateway.SubmitDuplicate {
		t.Fatalf("duplicate accept: %s", res)
	}
	if res := p.Check("a"); res != gateway.SubmitDuplicate {
		t.Fatalf("check after submit: %s", res)
	}
	if res := p.Check("b"); res != gateway.SubmitAccepted {
		t.Fatalf("check for pending participant: %s", res)
	}

	p.Abort()
	if res := p.TryAccept("b", "late"); res != gateway.SubmitClosed {
		t.Fatalf("accept after abort: %s", res)
	}
	if res := p.Check("b"); res != gateway.SubmitClosed {
		t.Fatalf("check after abort: %s", res)
	}
}

func TestPhaseAbortWinsOnce(t *testing.T) {
	p := NewPhase[string](model.PhaseEnvironment, testRoster("a"))

	if !p.Abort() {
		t.Fatal("first abort did not win")
	}
	if p.Abort() {
		t.Fatal("second abort reported as winning")
	}
	if p.State() != PhaseAborted {
		t.Fatalf("state = %s", p.State())
	}

	if _, ok := p.AwaitOutcome(context.Background()); ok {
		t.Fatal("await returned success for aborted phase")
	}
}

// The final submission and an abort race to close the phase; exactly one
// side wins and awaiters observe a single consistent terminal state.
func TestPhaseCloseRaceIsExactlyOnce(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := NewPhase[string](model.PhaseCombatant, testRoster("a"))

		var wg sync.WaitGroup
		var accepted, abortWon bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			accepted = p.TryAccept("a", "v") == gateway.SubmitAccepted
		}()
		go func() {
			defer wg.Done()
			abortWon = p.Abort()
		}()
		wg.Wait()

		state := p.State()
		if state != PhaseCompleted && state != PhaseAborted {
			t.Fatalf("non-terminal state after race: %s", state)
		}
		if accepted && state == PhaseCompleted && abortWon {
			t.Fatal("both completion and abort claimed the close")
		}
		if !accepted && state == PhaseCompleted {
			t.Fatal("completed without an accepted submission")
		}

		_, ok := p.AwaitOutcome(context.Background())
		if ok != (state == PhaseCompleted) {
			t.Fatalf("await ok=%v, state=%s", ok, state)
		}
	}
}

func TestAwaitOutcomeCancelAborts(t *testing.T) {
	p := NewPhase[string](model.PhaseStrategy, testRoster("a", "b"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := p.AwaitOutcome(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("await succeeded after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("await did not return after cancel")
	}
	if p.State() != PhaseAborted {
		t.Fatalf("state after cancel: %s", p.State())
	}
}
