// Package slack provides the Slack integration for arenabot using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// The bot listens for @mentions to open battles, renders roster and phase
// views as Block Kit messages, and collects submissions through modals.
package slack

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

// BattleStarter is the interface used to open new battle sessions.
// The server implements this so the bot doesn't depend on the full engine.
type BattleStarter interface {
	StartBattle(ctx context.Context, gw gateway.Gateway, cfg model.SessionConfig) error
}

// Localizer resolves message keys for the locale a channel's session runs in.
type Localizer interface {
	Localize(channel model.ChannelID, key string, args ...string) string
}

// Block Kit action IDs routed back to the engine.
const (
	actionJoin   = "battle_join"
	actionLeave  = "battle_leave"
	actionStart  = "battle_start"
	actionAbort  = "battle_abort"
	actionSubmit = "battle_submit"

	modalCallbackID = "battle_submission"
)

// Bot is the Slack Socket Mode bot for arenabot.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	handler      gateway.Handler
	starter      BattleStarter
	loc          Localizer
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, handler gateway.Handler, starter BattleStarter, loc Localizer) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		handler:      handler,
		starter:      starter,
		loc:          loc,
	}
}

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.socketClient.Ack(*evt.Request)
		go b.handleInteraction(ctx, callback)
	}
}

// handleCallbackEvent routes inner Events API events.
func (b *Bot) handleCallbackEvent(ctx context.Context, innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ctx, ev)
	}
}

// handleMention processes an @mention of the bot: any mention opens a battle
// in the channel. Options: "env" enables the custom environment phase,
// "--setting <id>" picks a narration tone, "--timeout <s>" overrides the
// roster countdown.
func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	text := ev.Text
	if idx := strings.Index(text, ">"); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}

	cfg := model.SessionConfig{
		Channel: model.ChannelID(ev.Channel),
		Owner:   b.user(ev.User),
	}

	tokens := strings.Fields(text)
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "env", "--env":
			cfg.CustomEnvironment = true
		case "--setting":
			if i+1 < len(tokens) {
				i++
				cfg.SettingID = tokens[i]
			}
		case "--timeout":
			if i+1 < len(tokens) {
				i++
				if n, err := strconv.Atoi(tokens[i]); err == nil && n > 0 {
					cfg.TimeoutSeconds = n
				}
			}
		}
	}

	if err := b.starter.StartBattle(ctx, b, cfg); err != nil {
		log.Printf("Slack: starting battle in %s: %v", ev.Channel, err)
		b.notifyText(ev.Channel, ev.User,
			b.loc.Localize(cfg.Channel, "battle.errors.session_active"))
	}
}

// handleInteraction routes button presses and modal submissions.
func (b *Bot) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range callback.ActionCallback.BlockActions {
			b.handleBlockAction(ctx, callback, action.ActionID)
		}
	case slack.InteractionTypeViewSubmission:
		if callback.View.CallbackID == modalCallbackID {
			b.handleModalSubmission(callback)
		}
	}
}

func (b *Bot) handleBlockAction(ctx context.Context, callback slack.InteractionCallback, actionID string) {
	channel := model.ChannelID(callback.Channel.ID)
	user := b.user(callback.User.ID)

	switch actionID {
	case actionJoin:
		b.replyAction(callback, b.handler.OnJoin(channel, user), "battle.actions.joined", "")
	case actionLeave:
		b.replyAction(callback, b.handler.OnLeave(channel, user), "battle.actions.left", "")
	case actionStart:
		b.replyAction(callback, b.handler.OnForceStart(channel, user), "", "battle.errors.only_owner_start")
	case actionAbort:
		b.replyAction(callback, b.handler.OnAbort(channel, user), "", "battle.errors.only_owner_abort")
	case actionSubmit:
		b.openSubmissionModal(ctx, callback, channel, user)
	}
}

// replyAction turns an engine action result into an ephemeral reply.
// acceptedKey may be empty (silent success); ownerKey overrides the generic
// owner-only message so start and abort read differently.
func (b *Bot) replyAction(callback slack.InteractionCallback, res gateway.ActionResult, acceptedKey, ownerKey string) {
	channel := model.ChannelID(callback.Channel.ID)

	var key string
	switch res {
	case gateway.ActionAccepted:
		key = acceptedKey
	case gateway.ActionNoSession:
		key = "battle.errors.no_session"
	case gateway.ActionAlreadyJoined:
		key = "battle.errors.already_joined"
	case gateway.ActionNotJoined:
		key = "battle.errors.not_joined"
	case gateway.ActionOwnerOnly:
		key = ownerKey
	case gateway.ActionOwnerLeave:
		key = "battle.errors.owner_leave"
	case gateway.ActionClosed:
		key = "battle.errors.closed"
	}
	if key == "" {
		return
	}
	b.notifyText(callback.Channel.ID, callback.User.ID, b.loc.Localize(channel, key))
}

// openSubmissionModal checks with the engine whether the user may submit,
// then opens the phase-appropriate modal.
func (b *Bot) openSubmissionModal(_ context.Context, callback slack.InteractionCallback, channel model.ChannelID, user model.User) {
	phase, res := b.handler.SubmissionForm(channel, user)
	if res != gateway.SubmitAccepted {
		b.notifySubmitResult(callback.Channel.ID, callback.User.ID, channel, res)
		return
	}

	view := b.buildModal(channel, phase)
	if _, err := b.api.OpenView(callback.TriggerID, view); err != nil {
		log.Printf("Slack: opening modal for %s: %v", channel, err)
	}
}

func (b *Bot) buildModal(channel model.ChannelID, phase model.PhaseKind) slack.ModalViewRequest {
	var blocks []slack.Block
	input := func(field, labelKey string, multiline bool) {
		label := slack.NewTextBlockObject(slack.PlainTextType, b.loc.Localize(channel, labelKey), false, false)
		element := slack.NewPlainTextInputBlockElement(nil, field)
		element.Multiline = multiline
		blocks = append(blocks, slack.NewInputBlock(field, label, nil, element))
	}

	var title string
	switch phase {
	case model.PhaseEnvironment:
		title = b.loc.Localize(channel, "battle.environment.title")
		input(gateway.FieldEnvironment, "battle.form.environment", true)
	case model.PhaseCombatant:
		title = b.loc.Localize(channel, "battle.fighter.title")
		input(gateway.FieldName, "battle.form.name", false)
		input(gateway.FieldDescription, "battle.form.description", true)
	case model.PhaseStrategy:
		title = b.loc.Localize(channel, "battle.strategy.title")
		input(gateway.FieldStrategy, "battle.form.strategy", true)
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      modalCallbackID,
		PrivateMetadata: string(channel),
		Title:           slack.NewTextBlockObject(slack.PlainTextType, model.Truncate(title, 24), false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, b.loc.Localize(channel, "battle.form.submit"), false, false),
		Blocks:          slack.Blocks{BlockSet: blocks},
	}
}

// handleModalSubmission extracts the typed fields and delivers them to the
// engine. The channel the modal belongs to rides in the private metadata.
func (b *Bot) handleModalSubmission(callback slack.InteractionCallback) {
	channel := model.ChannelID(callback.View.PrivateMetadata)
	user := b.user(callback.User.ID)

	fields := make(map[string]string)
	for _, actions := range callback.View.State.Values {
		for actionID, state := range actions {
			fields[actionID] = state.Value
		}
	}

	res := b.handler.OnSubmit(channel, user, fields)
	if res != gateway.SubmitAccepted {
		b.notifySubmitResult(string(channel), callback.User.ID, channel, res)
	}
}

func (b *Bot) notifySubmitResult(channelID, userID string, channel model.ChannelID, res gateway.SubmitResult) {
	var key string
	switch res {
	case gateway.SubmitNoSession:
		key = "battle.errors.no_session"
	case gateway.SubmitNotParticipant:
		key = "battle.errors.not_participant"
	case gateway.SubmitDuplicate:
		key = "battle.errors.already_submitted"
	case gateway.SubmitClosed:
		key = "battle.errors.closed"
	case gateway.SubmitInvalid:
		key = "battle.errors.empty_input"
	default:
		return
	}
	b.notifyText(channelID, userID, b.loc.Localize(channel, key))
}

// user resolves a Slack user ID into the engine's user shape. The display
// name falls back to the raw ID when the profile lookup fails.
func (b *Bot) user(id string) model.User {
	name := id
	if info, err := b.api.GetUserInfo(id); err == nil {
		if info.Profile.DisplayName != "" {
			name = info.Profile.DisplayName
		} else if info.RealName != "" {
			name = info.RealName
		} else {
			name = info.Name
		}
	}
	return model.User{ID: model.UserID(id), DisplayName: name}
}

func (b *Bot) notifyText(channelID, userID, text string) {
	if text == "" {
		return
	}
	if _, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		log.Printf("Slack: failed to post ephemeral to %s: %v", channelID, err)
	}
}

// --- gateway.Gateway ---

// SendView posts a Block Kit rendering of the view.
func (b *Bot) SendView(ctx context.Context, channel model.ChannelID, view gateway.View) (gateway.MessageRef, error) {
	_, ts, err := b.api.PostMessageContext(ctx, string(channel),
		slack.MsgOptionBlocks(b.viewBlocks(view)...),
		slack.MsgOptionText(view.Title, false),
	)
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("posting view: %w", err)
	}
	return gateway.MessageRef{Channel: channel, ID: ts}, nil
}

// UpdateView edits a previously posted view in place.
func (b *Bot) UpdateView(ctx context.Context, ref gateway.MessageRef, view gateway.View) error {
	_, _, _, err := b.api.UpdateMessageContext(ctx, string(ref.Channel), ref.ID,
		slack.MsgOptionBlocks(b.viewBlocks(view)...),
		slack.MsgOptionText(view.Title, false),
	)
	if err != nil {
		return fmt.Errorf("updating view: %w", err)
	}
	return nil
}

// Post broadcasts plain text to a channel.
func (b *Bot) Post(ctx context.Context, channel model.ChannelID, text string) error {
	_, _, err := b.api.PostMessageContext(ctx, string(channel),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}

// Notify delivers text to a single user as an ephemeral message.
func (b *Bot) Notify(ctx context.Context, channel model.ChannelID, user model.User, text string) error {
	_, err := b.api.PostEphemeralContext(ctx, string(channel), string(user.ID),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("posting ephemeral: %w", err)
	}
	return nil
}

var _ gateway.Gateway = (*Bot)(nil)

// viewBlocks renders the platform-neutral view into Block Kit blocks.
func (b *Bot) viewBlocks(view gateway.View) []slack.Block {
	title := view.Title
	if view.Style == gateway.StyleAborted {
		title = ":red_circle: " + title
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
	}
	if view.Body != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, view.Body, false, false), nil, nil))
	}
	for _, f := range view.Fields {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Label, f.Value), false, false), nil, nil))
	}
	if len(view.Controls) > 0 {
		var buttons []slack.BlockElement
		for _, c := range view.Controls {
			buttons = append(buttons, b.button(c))
		}
		blocks = append(blocks, slack.NewActionBlock("battle_controls", buttons...))
	}
	if view.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, view.Footer, false, false)))
	}
	return blocks
}

func (b *Bot) button(c gateway.Control) slack.BlockElement {
	var actionID, labelKey string
	var style slack.Style
	switch c {
	case gateway.ControlJoin:
		actionID, labelKey, style = actionJoin, "battle.actions.join", slack.StylePrimary
	case gateway.ControlLeave:
		actionID, labelKey = actionLeave, "battle.actions.leave"
	case gateway.ControlStart:
		actionID, labelKey = actionStart, "battle.actions.start"
	case gateway.ControlAbort:
		actionID, labelKey, style = actionAbort, "battle.actions.abort", slack.StyleDanger
	case gateway.ControlSubmit:
		actionID, labelKey, style = actionSubmit, "battle.actions.submit", slack.StylePrimary
	}
	// Button labels are global, not per-session; the empty channel resolves
	// to the default locale.
	label := b.loc.Localize("", labelKey)
	btn := slack.NewButtonBlockElement(actionID, actionID,
		slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
	if style != "" {
		btn.Style = style
	}
	return btn
}
