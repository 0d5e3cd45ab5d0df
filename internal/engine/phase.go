package engine

import (
	"context"
	"sync"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

// PhaseState is the lifecycle of a collection phase.
type PhaseState string

const (
	PhaseOpen      PhaseState = "open"
	PhaseCompleted PhaseState = "completed"
	PhaseAborted   PhaseState = "aborted"
)

// Phase collects exactly one submission per roster member, then closes.
// Open → {Completed, Aborted}; both transitions share a single atomic close,
// so racing an abort against the final submission still yields exactly one
// terminal state and exactly one wakeup for AwaitOutcome callers.
//
// TryAccept and Abort are called from the session loop; AwaitOutcome blocks
// the sequencer goroutine. The mutex keeps the check-insert-close sequence
// atomic with respect to Abort.
type Phase[T any] struct {
	kind   model.PhaseKind
	roster []model.User

	mu     sync.Mutex
	ledger *Ledger[T]
	state  PhaseState

	closeOnce sync.Once
	done      chan struct{}
}

// NewPhase opens a phase over a roster snapshot. The roster is fixed for the
// phase's lifetime; participants who leave the channel mid-phase still count.
func NewPhase[T any](kind model.PhaseKind, roster []model.User) *Phase[T] {
	return &Phase[T]{
		kind:   kind,
		roster: append([]model.User(nil), roster...),
		ledger: NewLedger[T](),
		state:  PhaseOpen,
		done:   make(chan struct{}),
	}
}

// Kind returns which collection stage this phase is.
func (p *Phase[T]) Kind() model.PhaseKind { return p.kind }

// Roster returns the audience allowed to submit.
func (p *Phase[T]) Roster() []model.User { return p.roster }

// State returns the current lifecycle state.
func (p *Phase[T]) State() PhaseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Remaining returns roster members without a ledger entry.
func (p *Phase[T]) Remaining() []model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Remaining(p.roster)
}

func (p *Phase[T]) inRoster(id model.UserID) bool {
	for _, u := range p.roster {
		if u.ID == id {
			return true
		}
	}
	return false
}

// Check reports whether id would currently be allowed to submit, without
// changing any state. Gateways use it before opening a submission form.
func (p *Phase[T]) Check(id model.UserID) gateway.SubmitResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PhaseOpen {
		return gateway.SubmitClosed
	}
	if !p.inRoster(id) {
		return gateway.SubmitNotParticipant
	}
	if _, dup := p.ledger.Get(id); dup {
		return gateway.SubmitDuplicate
	}
	return gateway.SubmitAccepted
}

// TryAccept records a submission for id. On the submission that covers the
// full roster it transitions to Completed and signals completion exactly once.
func (p *Phase[T]) TryAccept(id model.UserID, v T) gateway.SubmitResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PhaseOpen {
		return gateway.SubmitClosed
	}
	if !p.inRoster(id) {
		return gateway.SubmitNotParticipant
	}
	if !p.ledger.Put(id, v) {
		return gateway.SubmitDuplicate
	}
	if p.ledger.Covers(p.roster) {
		p.closeLocked(PhaseCompleted)
	}
	return gateway.SubmitAccepted
}

// Abort closes the phase from Open. It returns false if the phase already
// reached a terminal state; the first close wins.
func (p *Phase[T]) Abort() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PhaseOpen {
		return false
	}
	p.closeLocked(PhaseAborted)
	return true
}

// closeLocked performs the single shared close. Callers hold p.mu.
func (p *Phase[T]) closeLocked(terminal PhaseState) {
	p.closeOnce.Do(func() {
		p.state = terminal
		close(p.done)
	})
}

// AwaitOutcome blocks until the phase closes or ctx is canceled. It returns
// the full ledger on completion, or ok=false when the phase was aborted or
// the context canceled (a session-level abort cancels ctx, so both abort
// paths land here).
func (p *Phase[T]) AwaitOutcome(ctx context.Context) (map[model.UserID]T, bool) {
	select {
	case <-ctx.Done():
		p.Abort()
		return nil, false
	case <-p.done:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PhaseCompleted {
		return nil, false
	}
	return p.ledger.Entries(), true
}

// Values returns submissions in arrival order. Meaningful after completion;
// used read-only by later sequencer steps.
func (p *Phase[T]) Values() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Values()
}
