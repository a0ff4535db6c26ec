package domain

import "time"

// ChatMember tracks one user's standing in one chat: identity for mentions,
// role, activity timestamps, and retention state.
type ChatMember struct {
	ChatID         int64      `bson:"chat_id" json:"chat_id"`
	UserID         int64      `bson:"user_id" json:"user_id"`
	DisplayName    string     `bson:"display_name" json:"display_name"`
	Username       string     `bson:"username,omitempty" json:"username,omitempty"`
	Role           string     `bson:"role" json:"role"`
	JoinedAt       *time.Time `bson:"joined_at" json:"joined_at"`
	LastMessageAt  *time.Time `bson:"last_message_at" json:"last_message_at"`
	LastReactionAt *time.Time `bson:"last_reaction_at" json:"last_reaction_at"`
	LastActivityAt *time.Time `bson:"last_activity_at" json:"last_activity_at"`
	WarnedAt       *time.Time `bson:"warned_at" json:"warned_at"`
	Excluded       bool       `bson:"excluded" json:"excluded"`
}

// ActivityKind distinguishes the two activity sources the bot tracks.
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityReaction ActivityKind = "reaction"
)

// Protected reports whether the member may never be warned or removed,
// either by role or by manual exclusion.
func (m ChatMember) Protected() bool {
	return m.Excluded || IsProtectedRole(m.Role)
}

// InGrace reports whether the member's grace period is still running at now.
// Members with no recorded join time have no grace protection.
func (m ChatMember) InGrace(policy Policy, now time.Time) bool {
	if m.JoinedAt == nil {
		return false
	}
	return m.JoinedAt.After(policy.GraceCutoff(now))
}
