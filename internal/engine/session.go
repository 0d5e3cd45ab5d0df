package engine

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

// cmdKind discriminates session loop commands.
type cmdKind int

const (
	cmdTick cmdKind = iota
	cmdJoin
	cmdLeave
	cmdForceStart
	cmdAbort
	cmdSubmit
	cmdForm
	cmdInstallPhase
	cmdClearPhase
	cmdTerminal
)

// formResult pairs the active phase kind with an admission check outcome.
type formResult struct {
	kind   model.PhaseKind
	result gateway.SubmitResult
}

// terminalReq carries a terminal transition from the sequencer into the loop.
type terminalReq struct {
	state  model.SessionState // StateCompleted or StateAborted
	reason string
	result *model.BattleResult
}

// command is one unit of work handed into the session loop. Everything that
// mutates session state travels through the command channel, so the loop
// goroutine is the only writer.
type command struct {
	kind     cmdKind
	user     model.User
	fields   map[string]string
	phase    *phaseHandle
	terminal terminalReq

	actionReply chan gateway.ActionResult
	submitReply chan gateway.SubmitResult
	formReply   chan formResult
	ack         chan struct{}
}

// phaseHandle is the loop-facing face of the active collection phase. The
// sequencer builds one per phase; closures capture the typed Phase so the
// loop stays oblivious to the submission value type.
type phaseHandle struct {
	kind      model.PhaseKind
	check     func(model.UserID) gateway.SubmitResult
	accept    func(model.User, map[string]string) gateway.SubmitResult
	abort     func() bool
	remaining func() []model.User
	view      gateway.MessageRef
}

// Session is one run of the timed battle workflow, from roster forming to
// result or abort. All fields below cmds are owned by the loop goroutine.
type Session struct {
	id  string
	cfg model.SessionConfig
	gw  gateway.Gateway
	eng *Engine

	cmds   chan command
	closed chan struct{} // closed when the loop exits

	state   model.SessionState
	roster  []model.User
	elapsed int
	view    gateway.MessageRef
	active  *phaseHandle
	ticker  *Ticker

	seqCtx    context.Context
	seqCancel context.CancelFunc
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Channel returns the channel the session runs in.
func (s *Session) Channel() model.ChannelID { return s.cfg.Channel }

func (s *Session) enqueue(c command) bool {
	select {
	case s.cmds <- c:
		return true
	case <-s.closed:
		return false
	}
}

// enqueueTick is the timer→loop hand-off. Non-blocking: a full queue drops
// the tick rather than stalling the timer goroutine.
func (s *Session) enqueueTick() {
	select {
	case s.cmds <- command{kind: cmdTick}:
	case <-s.closed:
	default:
	}
}

func (s *Session) action(c command) gateway.ActionResult {
	c.actionReply = make(chan gateway.ActionResult, 1)
	if !s.enqueue(c) {
		return gateway.ActionNoSession
	}
	// The loop may exit with this command still queued; don't block forever.
	select {
	case r := <-c.actionReply:
		return r
	case <-s.closed:
		select {
		case r := <-c.actionReply:
			return r
		default:
			return gateway.ActionNoSession
		}
	}
}

func (s *Session) submit(user model.User, fields map[string]string) gateway.SubmitResult {
	c := command{kind: cmdSubmit, user: user, fields: fields, submitReply: make(chan gateway.SubmitResult, 1)}
	if !s.enqueue(c) {
		return gateway.SubmitNoSession
	}
	select {
	case r := <-c.submitReply:
		return r
	case <-s.closed:
		select {
		case r := <-c.submitReply:
			return r
		default:
			return gateway.SubmitClosed
		}
	}
}

func (s *Session) form(user model.User) (model.PhaseKind, gateway.SubmitResult) {
	c := command{kind: cmdForm, user: user, formReply: make(chan formResult, 1)}
	if !s.enqueue(c) {
		return "", gateway.SubmitNoSession
	}
	select {
	case r := <-c.formReply:
		return r.kind, r.result
	case <-s.closed:
		select {
		case r := <-c.formReply:
			return r.kind, r.result
		default:
			return "", gateway.SubmitClosed
		}
	}
}

// installPhase hands the active phase to the loop. Called by the sequencer.
func (s *Session) installPhase(h *phaseHandle) bool {
	c := command{kind: cmdInstallPhase, phase: h, ack: make(chan struct{}, 1)}
	if !s.enqueue(c) {
		return false
	}
	select {
	case <-c.ack:
		return true
	case <-s.closed:
		return false
	}
}

func (s *Session) clearPhase() {
	c := command{kind: cmdClearPhase, ack: make(chan struct{}, 1)}
	if !s.enqueue(c) {
		return
	}
	select {
	case <-c.ack:
	case <-s.closed:
	}
}

// finish delivers the terminal transition. The loop applies the first one and
// ignores the rest.
func (s *Session) finish(t terminalReq) {
	s.enqueue(command{kind: cmdTerminal, terminal: t})
}

// loop serializes all mutation of session and phase state. It exits after the
// terminal command is processed.
func (s *Session) loop() {
	defer close(s.closed)
	for c := range s.cmds {
		if s.handle(c) {
			return
		}
	}
}

// handle processes one command; it returns true once the session reached a
// terminal state and the loop should exit.
func (s *Session) handle(c command) bool {
	switch c.kind {
	case cmdTick:
		s.handleTick()
	case cmdJoin:
		c.actionReply <- s.handleJoin(c.user)
	case cmdLeave:
		c.actionReply <- s.handleLeave(c.user)
	case cmdForceStart:
		c.actionReply <- s.handleForceStart(c.user)
	case cmdAbort:
		c.actionReply <- s.handleAbort(c.user)
	case cmdSubmit:
		c.submitReply <- s.handleSubmit(c.user, c.fields)
	case cmdForm:
		c.formReply <- s.handleForm(c.user)
	case cmdInstallPhase:
		s.active = c.phase
		c.ack <- struct{}{}
	case cmdClearPhase:
		s.active = nil
		c.ack <- struct{}{}
	case cmdTerminal:
		s.handleTerminal(c.terminal)
	}
	return s.state.Terminal()
}

func (s *Session) handleTick() {
	if s.state != model.StateForming {
		// Stop raced an in-flight tick; the countdown no longer matters.
		return
	}
	s.elapsed++
	if s.elapsed >= s.cfg.TimeoutSeconds {
		s.beginStart()
		return
	}
	s.renderRoster()
}

func (s *Session) handleJoin(user model.User) gateway.ActionResult {
	if s.state != model.StateForming {
		return gateway.ActionClosed
	}
	for _, u := range s.roster {
		if u.ID == user.ID {
			return gateway.ActionAlreadyJoined
		}
	}
	s.roster = append(s.roster, user)
	s.renderRoster()
	return gateway.ActionAccepted
}

func (s *Session) handleLeave(user model.User) gateway.ActionResult {
	if s.state != model.StateForming {
		return gateway.ActionClosed
	}
	if user.ID == s.cfg.Owner.ID {
		// The roster is never empty while the session is open.
		return gateway.ActionOwnerLeave
	}
	for i, u := range s.roster {
		if u.ID == user.ID {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			s.renderRoster()
			return gateway.ActionAccepted
		}
	}
	return gateway.ActionNotJoined
}

func (s *Session) handleForceStart(user model.User) gateway.ActionResult {
	if user.ID != s.cfg.Owner.ID {
		return gateway.ActionOwnerOnly
	}
	if s.state != model.StateForming {
		return gateway.ActionClosed
	}
	s.beginStart()
	return gateway.ActionAccepted
}

func (s *Session) handleAbort(user model.User) gateway.ActionResult {
	if user.ID != s.cfg.Owner.ID {
		return gateway.ActionOwnerOnly
	}
	if s.state.Terminal() {
		return gateway.ActionClosed
	}
	switch s.state {
	case model.StateForming:
		// No sequencer running yet; terminate directly.
		s.ticker.Stop()
		s.renderAborted()
		s.handleTerminal(terminalReq{state: model.StateAborted, reason: "aborted by owner"})
	default:
		// The sequencer owns the rest of the shutdown: cancel its
		// context, close the active phase, and let it deliver the
		// terminal command after rendering the aborted view.
		s.seqCancel()
		if s.active != nil {
			s.active.abort()
			s.active = nil
		}
	}
	return gateway.ActionAccepted
}

func (s *Session) handleSubmit(user model.User, fields map[string]string) gateway.SubmitResult {
	if s.active == nil {
		return gateway.SubmitClosed
	}
	res := s.active.accept(user, fields)
	return res
}

func (s *Session) handleForm(user model.User) formResult {
	if s.active == nil {
		return formResult{result: gateway.SubmitClosed}
	}
	return formResult{kind: s.active.kind, result: s.active.check(user.ID)}
}

func (s *Session) handleTerminal(t terminalReq) bool {
	if s.state.Terminal() {
		return true
	}
	s.state = t.state
	s.ticker.Stop()
	s.active = nil
	s.seqCancel()

	switch t.state {
	case model.StateCompleted:
		s.eng.publish(s, "completed", t.result.ID)
		s.eng.notifyCompleted(t.result)
	case model.StateAborted:
		s.eng.publish(s, "aborted", t.reason)
		s.eng.notifyAborted(s.cfg.Channel, t.reason)
	}
	s.eng.remove(s)
	log.Printf("session %s in channel %s finished: %s", s.id, s.cfg.Channel, t.state)
	return true
}

// beginStart leaves Forming: stop the ticker, strip the interactive roster
// controls, and hand control to the phase sequencer. First trigger wins,
// whether it was the countdown, a force-start, or neither.
func (s *Session) beginStart() {
	s.state = model.StateStarting
	s.ticker.Stop()
	s.eng.publish(s, "status", "countdown over, collecting submissions")

	view := s.rosterView()
	view.Controls = nil
	view.Footer = s.t("battle.request.starting")
	if err := s.gw.UpdateView(context.Background(), s.view, view); err != nil {
		log.Printf("session %s: clearing roster controls failed: %v", s.id, err)
	}

	s.state = model.StateCollecting
	s.eng.wg.Add(1)
	go func() {
		defer s.eng.wg.Done()
		s.runSequence(s.seqCtx)
	}()
}

// --- view rendering ---

// t looks up a localized message for the session's configured locale.
func (s *Session) t(key string, args ...string) string {
	return s.eng.loc.T(s.cfg.Locale, key, args...)
}

func mentions(users []model.User) string {
	if len(users) == 0 {
		return "-"
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.DisplayName
	}
	return strings.Join(names, "\n")
}

func (s *Session) rosterView() gateway.View {
	envKey := "battle.request.environment_generic"
	if s.cfg.CustomEnvironment {
		envKey = "battle.request.environment_custom"
	}
	remaining := s.cfg.TimeoutSeconds - s.elapsed
	if remaining < 0 {
		remaining = 0
	}
	return gateway.View{
		Title: s.t("battle.request.title"),
		Body:  s.t("battle.request.description", "owner", s.cfg.Owner.DisplayName),
		Fields: []gateway.Field{
			{Label: s.t("battle.request.participants"), Value: mentions(s.roster)},
			{Label: s.t("battle.request.environment"), Value: s.t(envKey)},
		},
		Footer:   s.t("battle.request.countdown", "seconds", strconv.Itoa(remaining)),
		Controls: []gateway.Control{gateway.ControlJoin, gateway.ControlLeave, gateway.ControlStart, gateway.ControlAbort},
		Style:    gateway.StyleInfo,
	}
}

func (s *Session) renderRoster() {
	if err := s.gw.UpdateView(context.Background(), s.view, s.rosterView()); err != nil {
		log.Printf("session %s: roster render failed: %v", s.id, err)
	}
}

func (s *Session) renderAborted() {
	view := gateway.View{
		Title: s.t("battle.request.title"),
		Body:  s.t("battle.request.aborted"),
		Style: gateway.StyleAborted,
	}
	if err := s.gw.UpdateView(context.Background(), s.view, view); err != nil {
		log.Printf("session %s: aborted render failed: %v", s.id, err)
	}
}
