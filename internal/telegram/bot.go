// Package telegram provides the Telegram integration for arenabot.
//
// Uses long polling -- no public URL or webhook needed. Battles are opened
// with the /battle command, roster and phase views are rendered as messages
// with inline keyboards, and submissions arrive as replies to a force-reply
// prompt (Telegram has no modal forms).
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/model"
)

// BattleStarter is the interface used to open new battle sessions.
type BattleStarter interface {
	StartBattle(ctx context.Context, gw gateway.Gateway, cfg model.SessionConfig) error
}

// Localizer resolves message keys for the locale a channel's session runs in.
type Localizer interface {
	Localize(channel model.ChannelID, key string, args ...string) string
}

// Callback data for inline keyboard buttons.
const (
	callbackJoin   = "battle:join"
	callbackLeave  = "battle:leave"
	callbackStart  = "battle:start"
	callbackAbort  = "battle:abort"
	callbackSubmit = "battle:submit"
)

// pendingPrompt remembers which phase a force-reply prompt belongs to, so a
// reply to it can be decoded into the right submission fields.
type pendingPrompt struct {
	chatID int64
	phase  model.PhaseKind
}

// Bot is the Telegram bot for arenabot.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler gateway.Handler
	starter BattleStarter
	loc     Localizer

	mu      sync.Mutex
	prompts map[int]pendingPrompt // keyed by prompt message ID
}

// NewBot creates a new Telegram bot.
func NewBot(token string, handler gateway.Handler, starter BattleStarter, loc Localizer) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{
		api:     api,
		handler: handler,
		starter: starter,
		loc:     loc,
		prompts: make(map[int]pendingPrompt),
	}, nil
}

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
			if update.CallbackQuery != nil {
				go b.handleCallback(update.CallbackQuery)
			}
		}
	}
}

// handleMessage processes an incoming message: commands open battles,
// replies to a pending prompt become phase submissions.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.ReplyToMessage != nil {
		if b.handlePromptReply(msg) {
			return
		}
	}

	switch msg.Command() {
	case "start", "help":
		b.send(msg.Chat.ID,
			"arenabot - quick battles narrated by an AI.\n\n"+
				"/battle - open a battle with a stock arena\n"+
				"/battle env - participants build the arena together\n"+
				"/battle --setting <id> - pick a narration tone\n"+
				"/battle --timeout <seconds> - change the countdown")
	case "battle":
		b.handleBattleCommand(ctx, msg)
	}
}

func (b *Bot) handleBattleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cfg := model.SessionConfig{
		Channel: channelID(msg.Chat.ID),
		Owner:   userOf(msg.From),
	}

	tokens := strings.Fields(msg.CommandArguments())
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
		log.Printf("Telegram: starting battle in %d: %v", msg.Chat.ID, err)
		b.send(msg.Chat.ID, b.loc.Localize(cfg.Channel, "battle.errors.session_active"))
	}
}

// handleCallback routes inline keyboard presses.
func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID
	channel := channelID(chatID)
	user := userOf(query.From)

	var text string
	switch query.Data {
	case callbackJoin:
		text = b.actionText(channel, b.handler.OnJoin(channel, user), "battle.actions.joined", "")
	case callbackLeave:
		text = b.actionText(channel, b.handler.OnLeave(channel, user), "battle.actions.left", "")
	case callbackStart:
		text = b.actionText(channel, b.handler.OnForceStart(channel, user), "", "battle.errors.only_owner_start")
	case callbackAbort:
		text = b.actionText(channel, b.handler.OnAbort(channel, user), "", "battle.errors.only_owner_abort")
	case callbackSubmit:
		text = b.openPrompt(chatID, channel, user)
	}

	// Answering the callback clears the button spinner; the text shows as
	// a toast to the pressing user only.
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		log.Printf("Telegram: answering callback: %v", err)
	}
}

func (b *Bot) actionText(channel model.ChannelID, res gateway.ActionResult, acceptedKey, ownerKey string) string {
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
		return ""
	}
	return b.loc.Localize(channel, key)
}

// openPrompt posts a force-reply prompt for the active phase and remembers
// its message ID so the reply can be decoded later. Returns the toast text
// for the callback answer.
func (b *Bot) openPrompt(chatID int64, channel model.ChannelID, user model.User) string {
	phase, res := b.handler.SubmissionForm(channel, user)
	if res != gateway.SubmitAccepted {
		return b.submitText(channel, res)
	}

	text := "@" + user.DisplayName + "\n" + b.loc.Localize(channel, "battle.form.reply_hint")
	if phase == model.PhaseCombatant {
		text += "\n" + b.loc.Localize(channel, "battle.form.combatant_reply_hint")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	sent, err := b.api.Send(msg)
	if err != nil {
		log.Printf("Telegram: sending submission prompt: %v", err)
		return ""
	}

	b.mu.Lock()
	b.prompts[sent.MessageID] = pendingPrompt{chatID: chatID, phase: phase}
	b.mu.Unlock()
	return ""
}

// handlePromptReply decodes a reply to a pending prompt into submission
// fields. Returns false if the reply targets no known prompt.
func (b *Bot) handlePromptReply(msg *tgbotapi.Message) bool {
	b.mu.Lock()
	pending, ok := b.prompts[msg.ReplyToMessage.MessageID]
	b.mu.Unlock()
	if !ok || pending.chatID != msg.Chat.ID {
		return false
	}

	channel := channelID(msg.Chat.ID)
	user := userOf(msg.From)
	fields := make(map[string]string)

	text := strings.TrimSpace(msg.Text)
	switch pending.phase {
	case model.PhaseEnvironment:
		fields[gateway.FieldEnvironment] = text
	case model.PhaseCombatant:
		// First line is the fighter name, the rest is the description.
		name, description, _ := strings.Cut(text, "\n")
		fields[gateway.FieldName] = strings.TrimSpace(name)
		fields[gateway.FieldDescription] = strings.TrimSpace(description)
	case model.PhaseStrategy:
		fields[gateway.FieldStrategy] = text
	}

	res := b.handler.OnSubmit(channel, user, fields)
	if res == gateway.SubmitAccepted {
		b.mu.Lock()
		delete(b.prompts, msg.ReplyToMessage.MessageID)
		b.mu.Unlock()
	} else if reply := b.submitText(channel, res); reply != "" {
		b.send(msg.Chat.ID, reply)
	}
	return true
}

func (b *Bot) submitText(channel model.ChannelID, res gateway.SubmitResult) string {
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
		return ""
	}
	return b.loc.Localize(channel, key)
}

// --- gateway.Gateway ---

// SendView posts a text rendering of the view with an inline keyboard.
func (b *Bot) SendView(_ context.Context, channel model.ChannelID, view gateway.View) (gateway.MessageRef, error) {
	chatID, err := chatOf(channel)
	if err != nil {
		return gateway.MessageRef{}, err
	}

	msg := tgbotapi.NewMessage(chatID, renderView(view))
	if markup := b.keyboard(channel, view.Controls); markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("posting view: %w", err)
	}
	return gateway.MessageRef{Channel: channel, ID: strconv.Itoa(sent.MessageID)}, nil
}

// UpdateView edits a previously posted view in place.
func (b *Bot) UpdateView(_ context.Context, ref gateway.MessageRef, view gateway.View) error {
	chatID, err := chatOf(ref.Channel)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return fmt.Errorf("bad message ref %q: %w", ref.ID, err)
	}

	if markup := b.keyboard(ref.Channel, view.Controls); markup != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, renderView(view), *markup)
		_, err = b.api.Send(edit)
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, renderView(view))
		_, err = b.api.Send(edit)
	}
	if err != nil {
		return fmt.Errorf("updating view: %w", err)
	}
	return nil
}

// Post broadcasts plain text to a channel.
func (b *Bot) Post(_ context.Context, channel model.ChannelID, text string) error {
	chatID, err := chatOf(channel)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}

// Notify delivers text addressed to a single user. Telegram group bots
// cannot DM users who never messaged them, so this mentions the user in
// the channel instead.
func (b *Bot) Notify(_ context.Context, channel model.ChannelID, user model.User, text string) error {
	chatID, err := chatOf(channel)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, "@"+user.DisplayName+": "+text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	return nil
}

var _ gateway.Gateway = (*Bot)(nil)

func (b *Bot) send(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("Telegram: failed to send message: %v", err)
	}
}

func (b *Bot) keyboard(channel model.ChannelID, controls []gateway.Control) *tgbotapi.InlineKeyboardMarkup {
	if len(controls) == 0 {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range controls {
		var data, labelKey string
		switch c {
		case gateway.ControlJoin:
			data, labelKey = callbackJoin, "battle.actions.join"
		case gateway.ControlLeave:
			data, labelKey = callbackLeave, "battle.actions.leave"
		case gateway.ControlStart:
			data, labelKey = callbackStart, "battle.actions.start"
		case gateway.ControlAbort:
			data, labelKey = callbackAbort, "battle.actions.abort"
		case gateway.ControlSubmit:
			data, labelKey = callbackSubmit, "battle.actions.submit"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.loc.Localize(channel, labelKey), data))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(row)
	return &markup
}

// renderView flattens the platform-neutral view into plain text.
func renderView(view gateway.View) string {
	var sb strings.Builder
	if view.Style == gateway.StyleAborted {
		sb.WriteString("🔴 ")
	}
	sb.WriteString(view.Title)
	if view.Body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(view.Body)
	}
	for _, f := range view.Fields {
		fmt.Fprintf(&sb, "\n\n%s:\n%s", f.Label, f.Value)
	}
	if view.Footer != "" {
		sb.WriteString("\n\n")
		sb.WriteString(view.Footer)
	}
	return sb.String()
}

func channelID(chatID int64) model.ChannelID {
	return model.ChannelID(strconv.FormatInt(chatID, 10))
}

func chatOf(channel model.ChannelID) (int64, error) {
	chatID, err := strconv.ParseInt(string(channel), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad channel %q: %w", channel, err)
	}
	return chatID, nil
}

func userOf(u *tgbotapi.User) model.User {
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return model.User{ID: model.UserID(strconv.FormatInt(u.ID, 10)), DisplayName: name}
}
