// Package engine implements the battle session orchestration: the roster
// countdown, the collection phases, and the generation step. It depends only
// on interfaces (gateway, text generator, result store) plus the prompt and
// localization catalogs.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/localization"
	"github.com/arenabot/arenabot/internal/model"
	"github.com/arenabot/arenabot/internal/prompt"
)

// GenerationRequest is one call to the text-generation backend. System
// blocks are joined in order; the credential selects the per-key mutual
// exclusion domain inside the generator.
type GenerationRequest struct {
	Credential  string
	Model       string
	System      []string
	Prompt      string
	Temperature float64
}

// TextGenerator is the text-generation backend the sequencer calls. Calls
// may be slow; implementations serialize per credential, never across
// credentials.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// ResultStore persists finished battles. Failures are logged by the caller
// and never block the narrative broadcast.
type ResultStore interface {
	SaveBattle(ctx context.Context, result *model.BattleResult) error
}

// Config holds engine-wide configuration.
type Config struct {
	// TickPeriod is the countdown tick interval. Defaults to one second;
	// tests shrink it.
	TickPeriod time.Duration
	// Category tags persisted results (default "quick-battle").
	Category string
	// QueueSize is the per-session command queue depth.
	QueueSize int

	// Lifecycle callbacks for the surrounding layer. Optional.
	OnCompleted func(result *model.BattleResult)
	OnAborted   func(channel model.ChannelID, reason string)
	// OnEvent receives every published session event, on the publishing
	// goroutine. Optional; used to persist the event trail.
	OnEvent func(event Event)
}

func (c *Config) defaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = time.Second
	}
	if c.Category == "" {
		c.Category = "quick-battle"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Engine owns all live sessions, at most one per channel.
type Engine struct {
	cfg     Config
	gen     TextGenerator
	store   ResultStore
	prompts *prompt.Catalog
	loc     *localization.Bundle
	bus     *EventBus

	mu       sync.Mutex
	sessions map[model.ChannelID]*Session
	wg       sync.WaitGroup
}

// New creates an Engine with all dependencies.
func New(cfg Config, gen TextGenerator, store ResultStore, prompts *prompt.Catalog, loc *localization.Bundle) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:      cfg,
		gen:      gen,
		store:    store,
		prompts:  prompts,
		loc:      loc,
		bus:      NewEventBus(),
		sessions: make(map[model.ChannelID]*Session),
	}
}

// Bus returns the session event bus.
func (e *Engine) Bus() *EventBus { return e.bus }

// ErrSessionActive is returned when a channel already hosts a live session.
var ErrSessionActive = fmt.Errorf("a battle is already running in this channel")

// StartSession opens a new session: posts the roster view, starts the
// countdown ticker, and begins accepting joins. The owner is the first
// roster member. A SendView failure is fatal; no session is created.
func (e *Engine) StartSession(ctx context.Context, gw gateway.Gateway, cfg model.SessionConfig) (*Session, error) {
	e.mu.Lock()
	if _, exists := e.sessions[cfg.Channel]; exists {
		e.mu.Unlock()
		return nil, ErrSessionActive
	}
	// Reserve the channel before the (slow) initial render.
	e.sessions[cfg.Channel] = nil
	e.mu.Unlock()

	seqCtx, seqCancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.New().String()[:8],
		cfg:       cfg,
		gw:        gw,
		eng:       e,
		cmds:      make(chan command, e.cfg.QueueSize),
		closed:    make(chan struct{}),
		state:     model.StateForming,
		roster:    []model.User{cfg.Owner},
		seqCtx:    seqCtx,
		seqCancel: seqCancel,
	}

	ref, err := gw.SendView(ctx, cfg.Channel, s.rosterView())
	if err != nil {
		seqCancel()
		e.mu.Lock()
		delete(e.sessions, cfg.Channel)
		e.mu.Unlock()
		return nil, fmt.Errorf("establishing roster view: %w", err)
	}
	s.view = ref

	e.mu.Lock()
	e.sessions[cfg.Channel] = s
	e.mu.Unlock()

	// The ticker must exist before the loop can process any command, since
	// terminal transitions stop it.
	s.ticker = NewTicker(e.cfg.TickPeriod, s.enqueueTick)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		s.loop()
	}()

	log.Printf("session %s started in channel %s (timeout %ds, custom env %v, setting %q)",
		s.id, cfg.Channel, cfg.TimeoutSeconds, cfg.CustomEnvironment, cfg.SettingID)
	e.publish(s, "status", "roster open")
	return s, nil
}

// Stop aborts every live session and waits for their goroutines to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	live := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	e.mu.Unlock()

	for _, s := range live {
		s.action(command{kind: cmdAbort, user: s.cfg.Owner})
	}
	e.wg.Wait()
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	ID      string          `json:"id"`
	Channel model.ChannelID `json:"channel"`
}

// LiveSessions lists the sessions currently running.
func (e *Engine) LiveSessions() []SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		if s != nil {
			out = append(out, SessionInfo{ID: s.id, Channel: s.cfg.Channel})
		}
	}
	return out
}

func (e *Engine) session(channel model.ChannelID) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[channel]
}

// remove drops a finished session from the registry. Called from the session
// loop as part of the terminal transition.
func (e *Engine) remove(s *Session) {
	e.mu.Lock()
	if e.sessions[s.cfg.Channel] == s {
		delete(e.sessions, s.cfg.Channel)
	}
	e.mu.Unlock()
	s.ticker.Stop()
}

func (e *Engine) publish(s *Session, eventType, data string) {
	event := Event{
		Session:   s.id,
		Channel:   s.cfg.Channel,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	e.bus.Publish(event)
	if e.cfg.OnEvent != nil {
		e.cfg.OnEvent(event)
	}
}

func (e *Engine) notifyCompleted(result *model.BattleResult) {
	if e.cfg.OnCompleted != nil {
		e.cfg.OnCompleted(result)
	}
}

func (e *Engine) notifyAborted(channel model.ChannelID, reason string) {
	if e.cfg.OnAborted != nil {
		e.cfg.OnAborted(channel, reason)
	}
}

// --- gateway.Handler ---

// OnJoin adds a user to the roster while the session is forming.
func (e *Engine) OnJoin(channel model.ChannelID, user model.User) gateway.ActionResult {
	s := e.session(channel)
	if s == nil {
		return gateway.ActionNoSession
	}
	return s.action(command{kind: cmdJoin, user: user})
}

// OnLeave removes a user from the roster while the session is forming.
func (e *Engine) OnLeave(channel model.ChannelID, user model.User) gateway.ActionResult {
	s := e.session(channel)
	if s == nil {
		return gateway.ActionNoSession
	}
	return s.action(command{kind: cmdLeave, user: user})
}

// OnForceStart short-circuits the countdown. Owner only.
func (e *Engine) OnForceStart(channel model.ChannelID, user model.User) gateway.ActionResult {
	s := e.session(channel)
	if s == nil {
		return gateway.ActionNoSession
	}
	return s.action(command{kind: cmdForceStart, user: user})
}

// OnAbort cancels the session. Owner only, valid from any non-terminal state.
func (e *Engine) OnAbort(channel model.ChannelID, user model.User) gateway.ActionResult {
	s := e.session(channel)
	if s == nil {
		return gateway.ActionNoSession
	}
	return s.action(command{kind: cmdAbort, user: user})
}

// SubmissionForm reports which form the submit control should open for user,
// or why it should not open one.
func (e *Engine) SubmissionForm(channel model.ChannelID, user model.User) (model.PhaseKind, gateway.SubmitResult) {
	s := e.session(channel)
	if s == nil {
		return "", gateway.SubmitNoSession
	}
	return s.form(user)
}

// OnSubmit delivers a structured submission into the active phase.
func (e *Engine) OnSubmit(channel model.ChannelID, user model.User, fields map[string]string) gateway.SubmitResult {
	s := e.session(channel)
	if s == nil {
		return gateway.SubmitNoSession
	}
	return s.submit(user, fields)
}

var _ gateway.Handler = (*Engine)(nil)

// Localize exposes the engine's message bundle so gateways can translate
// outcome codes for the locale a session runs in.
func (e *Engine) Localize(channel model.ChannelID, key string, args ...string) string {
	locale := ""
	if s := e.session(channel); s != nil {
		locale = s.cfg.Locale
	}
	return e.loc.T(locale, key, args...)
}
