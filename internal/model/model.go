// Package model defines the core domain types shared across all arenabot packages.
// It has zero dependencies on other arenabot packages.
package model

import "time"

// UserID is an opaque platform user reference.
type UserID string

// ChannelID identifies the chat channel a battle runs in. It is opaque to the
// engine; gateways encode whatever they need (Slack channel ID, Telegram chat ID).
type ChannelID string

// User is a chat platform user as the engine sees it.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// SessionState represents the lifecycle state of a battle session.
type SessionState string

const (
	// StateForming means the roster is open: users may join and leave while
	// the countdown runs.
	StateForming SessionState = "forming"
	// StateStarting is the transition out of the countdown, before the first
	// collection phase opens.
	StateStarting SessionState = "starting"
	// StateCollecting means a collection phase is gathering submissions.
	StateCollecting SessionState = "collecting"
	StateCompleted  SessionState = "completed"
	StateAborted    SessionState = "aborted"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// PhaseKind identifies which collection phase is active.
type PhaseKind string

const (
	PhaseEnvironment PhaseKind = "environment"
	PhaseCombatant   PhaseKind = "combatant"
	PhaseStrategy    PhaseKind = "strategy"
)

// EnvironmentMode records whether the battle ran on a participant-written
// environment or a stock one.
type EnvironmentMode string

const (
	EnvironmentCustom  EnvironmentMode = "custom"
	EnvironmentGeneric EnvironmentMode = "generic"
)

// Fighter is one participant's combatant submission, enriched with the
// strategy collected in the later phase.
type Fighter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Strategy    string `json:"strategy,omitempty"`
	Player      User   `json:"player"`
}

// SessionConfig holds everything the engine needs to run one session.
// It is populated once at session creation; the platform objects themselves
// stay inside the gateways.
type SessionConfig struct {
	Channel           ChannelID
	Owner             User
	TimeoutSeconds    int
	CustomEnvironment bool
	SettingID         string
	Locale            string
	Credential        string // text-generation API key for this channel
	Model             string // text-generation model for this channel
}

// BattleResult is the final outcome of a successful session. Created once at
// the end of a non-aborted run, never mutated afterward.
type BattleResult struct {
	ID              string          `json:"id"`
	Channel         ChannelID       `json:"channel"`
	Category        string          `json:"category"`
	EnvironmentMode EnvironmentMode `json:"environment_mode"`
	Environment     string          `json:"environment,omitempty"`
	SettingID       string          `json:"setting_id"`
	Participants    []User          `json:"participants"`
	Fighters        []Fighter       `json:"fighters"`
	Narrative       string          `json:"narrative"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
