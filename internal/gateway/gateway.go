// Package gateway defines the narrow chat-transport interface the engine
// consumes, plus the view model gateways render. Concrete transports live in
// internal/slack and internal/telegram; the engine never imports them.
package gateway

import (
	"context"

	"github.com/arenabot/arenabot/internal/model"
)

// MessageRef is a handle to a message a gateway has posted, used for later
// edits. ID is transport-specific (Slack timestamp, Telegram message ID).
type MessageRef struct {
	Channel model.ChannelID
	ID      string
}

// Control is an interactive element rendered with a view. The gateway maps
// each control to its platform primitive (Block Kit button, inline keyboard
// button) and routes presses back to the engine.
type Control string

const (
	ControlJoin   Control = "join"
	ControlLeave  Control = "leave"
	ControlStart  Control = "start"
	ControlAbort  Control = "abort"
	ControlSubmit Control = "submit"
)

// Style hints how a view should be colored/accented where the platform
// supports it.
type Style string

const (
	StyleInfo    Style = "info"
	StyleAborted Style = "aborted"
)

// Field is one labeled section of a view.
type Field struct {
	Label string
	Value string
}

// View is a platform-neutral rendering of a roster or phase prompt.
type View struct {
	Title    string
	Body     string
	Fields   []Field
	Footer   string
	Controls []Control
	Style    Style
	// Phase is set on collection-phase views so gateways know which
	// submission form the submit control should open.
	Phase model.PhaseKind
}

// Gateway is the transport surface the engine drives. SendView returning an
// error is a hard failure that aborts the session (the roster view could not
// be established). UpdateView and Notify failures are best-effort.
type Gateway interface {
	// SendView posts a new interactive view to a channel.
	SendView(ctx context.Context, channel model.ChannelID, view View) (MessageRef, error)
	// UpdateView edits a previously posted view in place.
	UpdateView(ctx context.Context, ref MessageRef, view View) error
	// Post broadcasts plain text to a channel.
	Post(ctx context.Context, channel model.ChannelID, text string) error
	// Notify delivers text to a single user, privately where the platform
	// allows it (ephemeral message, callback answer).
	Notify(ctx context.Context, channel model.ChannelID, user model.User, text string) error
}

// Submission field keys used by gateways when delivering structured fields to
// the engine. The engine validates per phase; the gateway builds the form.
const (
	FieldEnvironment = "environment"
	FieldName        = "name"
	FieldDescription = "description"
	FieldStrategy    = "strategy"
)

// Handler is the event surface gateways deliver user actions into. The
// engine implements it; gateways hold only this interface so they don't
// depend on the full engine.
type Handler interface {
	OnJoin(channel model.ChannelID, user model.User) ActionResult
	OnLeave(channel model.ChannelID, user model.User) ActionResult
	OnForceStart(channel model.ChannelID, user model.User) ActionResult
	OnAbort(channel model.ChannelID, user model.User) ActionResult
	// SubmissionForm checks whether user may currently submit and returns
	// the active phase kind. Gateways call it before opening a modal.
	SubmissionForm(channel model.ChannelID, user model.User) (model.PhaseKind, SubmitResult)
	OnSubmit(channel model.ChannelID, user model.User, fields map[string]string) SubmitResult
}

// ActionResult is the outcome of a join/leave/start/abort request. Validation
// is resolved inside the engine and surfaced to the caller as a code; the
// gateway translates it into a localized reply.
type ActionResult string

const (
	ActionAccepted      ActionResult = "accepted"
	ActionNoSession     ActionResult = "no_session"
	ActionAlreadyJoined ActionResult = "already_joined"
	ActionNotJoined     ActionResult = "not_joined"
	ActionOwnerOnly     ActionResult = "owner_only"
	ActionOwnerLeave    ActionResult = "owner_leave"
	ActionClosed        ActionResult = "closed"
)

// SubmitResult is the outcome of a submission attempt.
type SubmitResult string

const (
	SubmitAccepted       SubmitResult = "accepted"
	SubmitNoSession      SubmitResult = "no_session"
	SubmitNotParticipant SubmitResult = "not_participant"
	SubmitDuplicate      SubmitResult = "duplicate"
	SubmitClosed         SubmitResult = "closed"
	SubmitInvalid        SubmitResult = "invalid"
)
