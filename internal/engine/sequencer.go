package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

// battleTemperature matches the sampling temperature the narrator runs at.
const battleTemperature = 1.2

// runSequence drives the collection phases in order, then the generation
// step, the result store, and the narrative broadcast. Any abort
// short-circuits the whole sequence; every abort path delivers exactly one
// terminal command to the session loop. Runs on its own goroutine so the
// session loop stays responsive; an unexpected panic degrades to an abort
// instead of leaving the session stuck.
func (s *Session) runSequence(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: sequence panic: %v", s.id, r)
			s.postText(s.t("battle.errors.generic"))
			s.finish(terminalReq{state: model.StateAborted, reason: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	roster := append([]model.User(nil), s.roster...)

	environment, envMode, ok := s.collectEnvironment(ctx, roster)
	if !ok {
		return
	}

	fighters, ok := s.collectCombatants(ctx, roster)
	if !ok {
		return
	}

	fighters, ok = s.collectStrategies(ctx, roster, fighters)
	if !ok {
		return
	}

	result := &model.BattleResult{
		ID:              s.id,
		Channel:         s.cfg.Channel,
		Category:        s.eng.cfg.Category,
		EnvironmentMode: envMode,
		Environment:     environment,
		SettingID:       s.cfg.SettingID,
		Participants:    roster,
		Fighters:        orderedFighters(roster, fighters),
		CreatedAt:       time.Now().UTC(),
	}

	s.postText(s.t("battle.communication.evaluating"))
	s.eng.publish(s, "status", "generating narrative")

	narrative, err := s.generateNarrative(ctx, result)
	if err != nil {
		s.failGeneration(ctx, "narrative", err)
		return
	}
	result.Narrative = narrative

	// Persistence is best effort: a store failure never blocks the broadcast.
	if err := s.eng.store.SaveBattle(context.Background(), result); err != nil {
		log.Printf("session %s: saving battle result failed: %v", s.id, err)
	}

	s.postText(narrative)
	s.finish(terminalReq{state: model.StateCompleted, result: result})
}

// failGeneration handles a failed generation step: owner aborts that
// canceled the context are reported as aborts, real provider failures are
// surfaced to the channel.
func (s *Session) failGeneration(ctx context.Context, step string, err error) {
	if ctx.Err() != nil {
		s.renderAborted()
		s.finish(terminalReq{state: model.StateAborted, reason: "aborted by owner"})
		return
	}
	log.Printf("session %s: %s generation failed: %v", s.id, step, err)
	s.postText(s.t("battle.errors.generation_failed"))
	s.finish(terminalReq{state: model.StateAborted, reason: step + " generation failed: " + err.Error()})
}

// postText broadcasts plain text to the session channel, logging failures.
func (s *Session) postText(text string) {
	if err := s.gw.Post(context.Background(), s.cfg.Channel, text); err != nil {
		log.Printf("session %s: posting to channel failed: %v", s.id, err)
	}
}

// collectEnvironment runs the optional environment phase and reduces the
// collected descriptions to one combined setting via the generation step.
func (s *Session) collectEnvironment(ctx context.Context, roster []model.User) (string, model.EnvironmentMode, bool) {
	if !s.cfg.CustomEnvironment {
		return s.eng.prompts.GenericEnvironment(), model.EnvironmentGeneric, true
	}

	phase := NewPhase[string](model.PhaseEnvironment, roster)
	decode := func(_ model.User, fields map[string]string) (string, bool) {
		text := strings.TrimSpace(fields[gateway.FieldEnvironment])
		return text, text != ""
	}
	if _, ok := collectPhase(ctx, s, "battle.environment", phase, decode); !ok {
		return "", "", false
	}

	s.eng.publish(s, "status", "combining environments")
	combined, err := s.eng.gen.Generate(ctx, GenerationRequest{
		Credential: s.cfg.Credential,
		Model:      s.cfg.Model,
		System: []string{
			s.eng.prompts.EnvironmentCombiner(),
			s.settingPrompt(),
			s.eng.prompts.Language(s.eng.loc.Name(s.cfg.Locale)),
		},
		Prompt:      strings.Join(phase.Values(), "\n---\n"),
		Temperature: battleTemperature,
	})
	if err != nil {
		s.failGeneration(ctx, "environment", err)
		return "", "", false
	}

	s.postText(combined)
	return combined, model.EnvironmentCustom, true
}

// collectCombatants runs the fighter phase: one name+description submission
// per participant.
func (s *Session) collectCombatants(ctx context.Context, roster []model.User) (map[model.UserID]model.Fighter, bool) {
	phase := NewPhase[model.Fighter](model.PhaseCombatant, roster)
	decode := func(user model.User, fields map[string]string) (model.Fighter, bool) {
		name := strings.TrimSpace(fields[gateway.FieldName])
		desc := strings.TrimSpace(fields[gateway.FieldDescription])
		if name == "" || desc == "" {
			return model.Fighter{}, false
		}
		return model.Fighter{Name: name, Description: desc, Player: user}, true
	}
	return collectPhase(ctx, s, "battle.fighter", phase, decode)
}

// collectStrategies runs the strategy phase and enriches each participant's
// fighter with their strategy text. The combatant ledger is a read-only
// input here; it is never re-opened.
func (s *Session) collectStrategies(ctx context.Context, roster []model.User, fighters map[model.UserID]model.Fighter) (map[model.UserID]model.Fighter, bool) {
	phase := NewPhase[string](model.PhaseStrategy, roster)
	decode := func(_ model.User, fields map[string]string) (string, bool) {
		text := strings.TrimSpace(fields[gateway.FieldStrategy])
		return text, text != ""
	}
	entries, ok := collectPhase(ctx, s, "battle.strategy", phase, decode)
	if !ok {
		return nil, false
	}

	enriched := make(map[model.UserID]model.Fighter, len(fighters))
	for id, f := range fighters {
		f.Strategy = entries[id]
		enriched[id] = f
	}
	return enriched, true
}

// collectPhase opens one collection phase end to end: post the prompt view,
// install the phase into the session loop, suspend until the phase closes,
// and return the full ledger. On any abort path (owner abort, session
// cancel, transport failure establishing the view) it delivers the terminal
// command itself and returns ok=false.
func collectPhase[T any](ctx context.Context, s *Session, msgPrefix string, phase *Phase[T], decode func(model.User, map[string]string) (T, bool)) (map[model.UserID]T, bool) {
	if ctx.Err() != nil {
		// Owner aborted between phases; nothing was posted for this one.
		s.renderAborted()
		s.finish(terminalReq{state: model.StateAborted, reason: "aborted by owner"})
		return nil, false
	}

	ref, err := s.gw.SendView(context.Background(), s.cfg.Channel, s.phaseView(msgPrefix, phase.Kind(), phase.Remaining(), true))
	if err != nil {
		// The prompt view could not be established; the phase cannot run.
		log.Printf("session %s: posting %s view failed: %v", s.id, phase.Kind(), err)
		s.finish(terminalReq{state: model.StateAborted, reason: "transport failure: " + err.Error()})
		return nil, false
	}

	handle := &phaseHandle{
		kind:      phase.Kind(),
		check:     phase.Check,
		abort:     phase.Abort,
		remaining: phase.Remaining,
		view:      ref,
	}
	handle.accept = func(user model.User, fields map[string]string) gateway.SubmitResult {
		v, valid := decode(user, fields)
		if !valid {
			return gateway.SubmitInvalid
		}
		res := phase.TryAccept(user.ID, v)
		if res != gateway.SubmitAccepted {
			return res
		}
		// Re-render the remaining-participant list. A failed edit does not
		// invalidate the submission. Once the roster is covered the controls
		// are stripped.
		open := phase.State() == PhaseOpen
		view := s.phaseView(msgPrefix, phase.Kind(), phase.Remaining(), open)
		if err := s.gw.UpdateView(context.Background(), ref, view); err != nil {
			log.Printf("session %s: %s roster render failed: %v", s.id, phase.Kind(), err)
		}
		return res
	}

	if !s.installPhase(handle) {
		return nil, false
	}
	s.eng.publish(s, "phase", string(phase.Kind()))

	entries, ok := phase.AwaitOutcome(ctx)
	s.clearPhase()
	if !ok {
		s.renderAbortedAt(ref, msgPrefix)
		s.finish(terminalReq{state: model.StateAborted, reason: "aborted by owner"})
		return nil, false
	}
	return entries, true
}

// phaseView builds the roster-progress view for a collection phase.
func (s *Session) phaseView(msgPrefix string, kind model.PhaseKind, remaining []model.User, open bool) gateway.View {
	value := mentions(remaining)
	if len(remaining) == 0 {
		value = s.t("battle.communication.none_remaining")
	}
	view := gateway.View{
		Title: s.t(msgPrefix + ".title"),
		Body:  s.t(msgPrefix + ".description"),
		Fields: []gateway.Field{
			{Label: s.t("battle.communication.remaining"), Value: value},
		},
		Style: gateway.StyleInfo,
		Phase: kind,
	}
	if open {
		view.Controls = []gateway.Control{gateway.ControlSubmit, gateway.ControlAbort}
	}
	return view
}

// renderAbortedAt repaints a phase view as aborted.
func (s *Session) renderAbortedAt(ref gateway.MessageRef, msgPrefix string) {
	view := gateway.View{
		Title: s.t(msgPrefix + ".title"),
		Body:  s.t("battle.request.aborted"),
		Style: gateway.StyleAborted,
	}
	if err := s.gw.UpdateView(context.Background(), ref, view); err != nil {
		log.Printf("session %s: aborted render failed: %v", s.id, err)
	}
}

// orderedFighters flattens the fighter map into roster order.
func orderedFighters(roster []model.User, fighters map[model.UserID]model.Fighter) []model.Fighter {
	out := make([]model.Fighter, 0, len(fighters))
	for _, u := range roster {
		if f, ok := fighters[u.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

// generateNarrative runs the final generation step over the full battle
// context. The nonce keeps repeated battles from hitting provider-side
// response caches, as near-identical prompts otherwise would.
func (s *Session) generateNarrative(ctx context.Context, result *model.BattleResult) (string, error) {
	system := []string{
		s.eng.prompts.SimpleBattle(),
		s.environmentBlock(result),
		s.eng.prompts.FighterBlock(result.Fighters),
		s.settingPrompt(),
		s.eng.prompts.Language(s.eng.loc.Name(s.cfg.Locale)),
	}
	return s.eng.gen.Generate(ctx, GenerationRequest{
		Credential:  s.cfg.Credential,
		Model:       s.cfg.Model,
		System:      system,
		Prompt:      "Start the battle " + s.eng.prompts.Nonce(128),
		Temperature: battleTemperature,
	})
}

func (s *Session) environmentBlock(result *model.BattleResult) string {
	if result.EnvironmentMode == model.EnvironmentCustom {
		return s.eng.prompts.CustomEnvironment(result.Environment)
	}
	return result.Environment
}

func (s *Session) settingPrompt() string {
	setting, ok := s.eng.prompts.Setting(s.cfg.SettingID)
	if !ok {
		setting, _ = s.eng.prompts.Setting(s.eng.prompts.DefaultSetting())
	}
	return setting
}
