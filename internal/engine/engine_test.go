package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/localization"
	"github.com/arenabot/arenabot/internal/model"
	"github.com/arenabot/arenabot/internal/prompt"
)

// --- stubs ---

type stubGateway struct {
	mu      sync.Mutex
	nextRef int
	sends   []gateway.View
	updates []gateway.View
	posts   []string
}

func (g *stubGateway) SendView(_ context.Context, channel model.ChannelID, view gateway.View) (gateway.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextRef++
	g.sends = append(g.sends, view)
	return gateway.MessageRef{Channel: channel, ID: fmt.Sprintf("m%d", g.nextRef)}, nil
}

func (g *stubGateway) UpdateView(_ context.Context, _ gateway.MessageRef, view gateway.View) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, view)
	return nil
}

func (g *stubGateway) Post(_ context.Context, _ model.ChannelID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts = append(g.posts, text)
	return nil
}

func (g *stubGateway) Notify(_ context.Context, _ model.ChannelID, _ model.User, _ string) error {
	return nil
}

func (g *stubGateway) allPosts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.posts...)
}

func (g *stubGateway) lastUpdate() (gateway.View, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.updates) == 0 {
		return gateway.View{}, false
	}
	return g.updates[len(g.updates)-1], true
}

type stubGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []GenerationRequest
}

func (s *stubGenerator) Generate(_ context.Context, req GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "generated text", nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *stubGenerator) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubStore struct {
	mu    sync.Mutex
	saved []*model.BattleResult
	err   error
}

func (s *stubStore) SaveBattle(_ context.Context, result *model.BattleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, result)
	return nil
}

func (s *stubStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// --- harness ---

type testEnv struct {
	eng       *Engine
	gw        *stubGateway
	gen       *stubGenerator
	store     *stubStore
	completed chan *model.BattleResult
	aborted   chan string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	prompts, err := prompt.Load()
	if err != nil {
		t.Fatalf("loading prompts: %v", err)
	}
	loc, err := localization.Load()
	if err != nil {
		t.Fatalf("loading locales: %v", err)
	}

	env := &testEnv{
		gw:        &stubGateway{},
		gen:       &stubGenerator{},
		store:     &stubStore{},
		completed: make(chan *model.BattleResult, 1),
		aborted:   make(chan string, 1),
	}
	env.eng = New(Config{
		TickPeriod:  2 * time.Millisecond,
		OnCompleted: func(r *model.BattleResult) { env.completed <- r },
		OnAborted:   func(_ model.ChannelID, reason string) { env.aborted <- reason },
	}, env.gen, env.store, prompts, loc)
	t.Cleanup(env.eng.Stop)
	return env
}

var (
	alice = model.User{ID: "u-alice", DisplayName: "alice"}
	bob   = model.User{ID: "u-bob", DisplayName: "bob"}
)

func sessionConfig(channel string) model.SessionConfig {
	return model.SessionConfig{
		Channel:        model.ChannelID(channel),
		Owner:          alice,
		TimeoutSeconds: 60,
		Locale:         "en",
	}
}

func startSession(t *testing.T, env *testEnv, cfg model.SessionConfig) {
	t.Helper()
	if _, err := env.eng.StartSession(context.Background(), env.gw, cfg); err != nil {
		t.Fatalf("starting session: %v", err)
	}
}

// waitForPhase polls until the named phase accepts submissions from user.
func waitForPhase(t *testing.T, env *testEnv, channel model.ChannelID, user model.User, want model.PhaseKind) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		kind, res := env.eng.SubmissionForm(channel, user)
		if res == gateway.SubmitAccepted && kind == want {
			return
		}
		if res == gateway.SubmitDuplicate {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("phase %s never opened for %s", want, user.ID)
}

func mustSubmit(t *testing.T, env *testEnv, channel model.ChannelID, user model.User, fields map[string]string) {
	t.Helper()
	if res := env.eng.OnSubmit(channel, user, fields); res != gateway.SubmitAccepted {
		t.Fatalf("submit for %s: %s", user.ID, res)
	}
}

func runPhases(t *testing.T, env *testEnv, channel model.ChannelID, users ...model.User) {
	t.Helper()
	for _, u := range users {
		waitForPhase(t, env, channel, u, model.PhaseCombatant)
		mustSubmit(t, env, channel, u, map[string]string{
			gateway.FieldName:        u.DisplayName + "-bot",
			gateway.FieldDescription: "a fighter",
		})
	}
	for _, u := range users {
		waitForPhase(t, env, channel, u, model.PhaseStrategy)
		mustSubmit(t, env, channel, u, map[string]string{
			gateway.FieldStrategy: "attack first",
		})
	}
}

func awaitCompleted(t *testing.T, env *testEnv) *model.BattleResult {
	t.Helper()
	select {
	case r := <-env.completed:
		return r
	case reason := <-env.aborted:
		t.Fatalf("session aborted: %s", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("session never completed")
	}
	return nil
}

func awaitAborted(t *testing.T, env *testEnv) string {
	t.Helper()
	select {
	case reason := <-env.aborted:
		return reason
	case r := <-env.completed:
		t.Fatalf("session completed unexpectedly: %s", r.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("session never aborted")
	}
	return ""
}

// --- tests ---

func TestFullBattleCountdownToNarrative(t *testing.T) {
	env := newTestEnv(t)
	env.gen.responses = []string{"an epic narrative"}

	// 25 logical seconds at a 2ms tick: the countdown ends on its own well
	// after the join below lands.
	cfg := sessionConfig("C1")
	cfg.TimeoutSeconds = 25
	startSession(t, env, cfg)

	if res := env.eng.OnJoin("C1", bob); res != gateway.ActionAccepted {
		t.Fatalf("join: %s", res)
	}

	runPhases(t, env, "C1", alice, bob)
	result := awaitCompleted(t, env)

	if result.Narrative != "an epic narrative" {
		t.Fatalf("narrative = %q", result.Narrative)
	}
	if result.Category != "quick-battle" {
		t.Fatalf("category = %q", result.Category)
	}
	if result.EnvironmentMode != model.EnvironmentGeneric {
		t.Fatalf("environment mode = %q", result.EnvironmentMode)
	}
	if len(result.Fighters) != 2 || result.Fighters[0].Player.ID != alice.ID {
		t.Fatalf("fighters = %+v", result.Fighters)
	}
	if result.Fighters[0].Strategy != "attack first" {
		t.Fatalf("strategy not attached: %+v", result.Fighters[0])
	}
	if env.store.savedCount() != 1 {
		t.Fatalf("saved battles = %d", env.store.savedCount())
	}

	var narrated bool
	for _, p := range env.gw.allPosts() {
		if p == "an epic narrative" {
			narrated = true
		}
	}
	if !narrated {
		t.Fatalf("narrative never posted: %v", env.gw.allPosts())
	}
}

func TestForceStartSkipsCountdown(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C2"))

	if res := env.eng.OnForceStart("C2", bob); res != gateway.ActionOwnerOnly {
		t.Fatalf("non-owner force start: %s", res)
	}
	if res := env.eng.OnForceStart("C2", alice); res != gateway.ActionAccepted {
		t.Fatalf("owner force start: %s", res)
	}
	if res := env.eng.OnJoin("C2", bob); res != gateway.ActionClosed {
		t.Fatalf("join after start: %s", res)
	}

	runPhases(t, env, "C2", alice)
	result := awaitCompleted(t, env)
	if len(result.Participants) != 1 {
		t.Fatalf("participants = %+v", result.Participants)
	}
}

func TestRosterRules(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C3"))

	if res := env.eng.OnJoin("C3", alice); res != gateway.ActionAlreadyJoined {
		t.Fatalf("owner rejoin: %s", res)
	}
	if res := env.eng.OnLeave("C3", alice); res != gateway.ActionOwnerLeave {
		t.Fatalf("owner leave: %s", res)
	}
	if res := env.eng.OnLeave("C3", bob); res != gateway.ActionNotJoined {
		t.Fatalf("stranger leave: %s", res)
	}

	env.eng.OnJoin("C3", bob)
	if res := env.eng.OnLeave("C3", bob); res != gateway.ActionAccepted {
		t.Fatalf("member leave: %s", res)
	}
	if res := env.eng.OnJoin("C4", bob); res != gateway.ActionNoSession {
		t.Fatalf("join without session: %s", res)
	}
}

func TestSecondSessionPerChannelRejected(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C5"))

	_, err := env.eng.StartSession(context.Background(), env.gw, sessionConfig("C5"))
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second session error = %v", err)
	}
}

func TestAbortWhileForming(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C6"))

	if res := env.eng.OnAbort("C6", bob); res != gateway.ActionOwnerOnly {
		t.Fatalf("non-owner abort: %s", res)
	}
	if res := env.eng.OnAbort("C6", alice); res != gateway.ActionAccepted {
		t.Fatalf("owner abort: %s", res)
	}
	awaitAborted(t, env)

	if res := env.eng.OnJoin("C6", bob); res != gateway.ActionNoSession {
		t.Fatalf("join after abort: %s", res)
	}
	if view, ok := env.gw.lastUpdate(); !ok || view.Style != gateway.StyleAborted {
		t.Fatalf("aborted view not rendered: %+v", view)
	}
	if env.store.savedCount() != 0 {
		t.Fatal("aborted session persisted a battle")
	}
}

func TestAbortDuringCollection(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C7"))
	env.eng.OnForceStart("C7", alice)

	waitForPhase(t, env, "C7", alice, model.PhaseCombatant)
	if res := env.eng.OnAbort("C7", alice); res != gateway.ActionAccepted {
		t.Fatalf("abort during collection: %s", res)
	}
	reason := awaitAborted(t, env)
	if !strings.Contains(reason, "aborted by owner") {
		t.Fatalf("reason = %q", reason)
	}
	if env.store.savedCount() != 0 {
		t.Fatal("aborted session persisted a battle")
	}
}

func TestGenerationFailureAbortsWithoutPersisting(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = errors.New("quota exceeded")

	startSession(t, env, sessionConfig("C8"))
	env.eng.OnForceStart("C8", alice)
	runPhases(t, env, "C8", alice)

	reason := awaitAborted(t, env)
	if !strings.Contains(reason, "generation failed") {
		t.Fatalf("reason = %q", reason)
	}
	if env.store.savedCount() != 0 {
		t.Fatal("failed generation persisted a battle")
	}

	var errPosted bool
	for _, p := range env.gw.allPosts() {
		if strings.Contains(p, "narrator lost the thread") {
			errPosted = true
		}
	}
	if !errPosted {
		t.Fatalf("failure message never posted: %v", env.gw.allPosts())
	}
}

func TestCustomEnvironmentCombined(t *testing.T) {
	env := newTestEnv(t)
	env.gen.responses = []string{"a merged arena", "the story"}

	cfg := sessionConfig("C9")
	cfg.CustomEnvironment = true
	startSession(t, env, cfg)
	env.eng.OnJoin("C9", bob)
	env.eng.OnForceStart("C9", alice)

	for _, u := range []model.User{alice, bob} {
		waitForPhase(t, env, "C9", u, model.PhaseEnvironment)
		mustSubmit(t, env, "C9", u, map[string]string{
			gateway.FieldEnvironment: u.DisplayName + "'s volcano",
		})
	}
	runPhases(t, env, "C9", alice, bob)

	result := awaitCompleted(t, env)
	if result.EnvironmentMode != model.EnvironmentCustom {
		t.Fatalf("environment mode = %q", result.EnvironmentMode)
	}
	if result.Environment != "a merged arena" {
		t.Fatalf("environment = %q", result.Environment)
	}
	if env.gen.requestCount() != 2 {
		t.Fatalf("generation calls = %d", env.gen.requestCount())
	}

	env.gen.mu.Lock()
	combine := env.gen.requests[0]
	env.gen.mu.Unlock()
	if !strings.Contains(combine.Prompt, "\n---\n") {
		t.Fatalf("combiner prompt not joined: %q", combine.Prompt)
	}
	if !strings.Contains(combine.Prompt, "alice's volcano") || !strings.Contains(combine.Prompt, "bob's volcano") {
		t.Fatalf("combiner prompt missing submissions: %q", combine.Prompt)
	}
}

func TestSubmissionValidation(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C10"))
	env.eng.OnForceStart("C10", alice)
	waitForPhase(t, env, "C10", alice, model.PhaseCombatant)

	if res := env.eng.OnSubmit("C10", alice, map[string]string{gateway.FieldName: "x"}); res != gateway.SubmitInvalid {
		t.Fatalf("empty description: %s", res)
	}
	if res := env.eng.OnSubmit("C10", bob, map[string]string{
		gateway.FieldName: "b", gateway.FieldDescription: "d",
	}); res != gateway.SubmitNotParticipant {
		t.Fatalf("outsider submit: %s", res)
	}

	mustSubmit(t, env, "C10", alice, map[string]string{
		gateway.FieldName: "a", gateway.FieldDescription: "d",
	})
	// Covering submission closed the combatant phase; a repeat lands in the
	// strategy phase or on a closed ledger, never on the old one.
	if _, res := env.eng.SubmissionForm("C10", alice); res == gateway.SubmitDuplicate {
		t.Fatalf("combatant ledger still active after coverage")
	}
}

func TestNarrativePromptCarriesBattleContext(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, sessionConfig("C11"))
	env.eng.OnForceStart("C11", alice)
	runPhases(t, env, "C11", alice)
	awaitCompleted(t, env)

	env.gen.mu.Lock()
	req := env.gen.requests[len(env.gen.requests)-1]
	env.gen.mu.Unlock()

	if !strings.HasPrefix(req.Prompt, "Start the battle ") {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	if req.Temperature != 1.2 {
		t.Fatalf("temperature = %v", req.Temperature)
	}
	joined := strings.Join(req.System, "\n")
	if !strings.Contains(joined, "alice-bot") {
		t.Fatalf("fighter missing from system prompt: %q", joined)
	}
	if !strings.Contains(joined, "English") {
		t.Fatalf("language instruction missing: %q", joined)
	}
}
