package domain

import (
	"errors"
	"fmt"
	"time"
)

// Policy bounds and defaults applied to every chat.
const (
	MinActivityWindowDays     = 7
	MaxActivityWindowDays     = 365
	DefaultActivityWindowDays = 60
	DefaultGraceDays          = 7
)

// ErrInvalidPolicy rejects out-of-bounds policy values before any state change.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// Chat represents a Telegram group under retention moderation.
type Chat struct {
	ChatID             int64     `bson:"chat_id" json:"chat_id"`
	Title              string    `bson:"title" json:"title"`
	ActivityWindowDays int       `bson:"activity_window_days" json:"activity_window_days"`
	GraceDays          int       `bson:"grace_days" json:"grace_days"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// Policy captures the retention rules of one chat: how many days of silence
// make a member removable, and how long new joiners are exempt.
type Policy struct {
	WindowDays int
	GraceDays  int
}

// DefaultPolicy returns the policy applied to chats that never configured one.
func DefaultPolicy() Policy {
	return Policy{
		WindowDays: DefaultActivityWindowDays,
		GraceDays:  DefaultGraceDays,
	}
}

// Policy resolves the chat's effective policy. A zero window falls back to
// the default; a zero grace period is a valid stored value and is honored.
func (c Chat) Policy() Policy {
	policy := Policy{
		WindowDays: c.ActivityWindowDays,
		GraceDays:  c.GraceDays,
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = DefaultActivityWindowDays
	}
	return policy
}

// ValidateWindowDays checks an activity window against the allowed bounds.
func ValidateWindowDays(days int) error {
	if days < MinActivityWindowDays || days > MaxActivityWindowDays {
		return fmt.Errorf("%w: activity window must be %d-%d days, got %d",
			ErrInvalidPolicy, MinActivityWindowDays, MaxActivityWindowDays, days)
	}
	return nil
}

// WarnCutoff is the latest activity instant that still lands a member in the
// warn set: one day short of the full window. Comparisons are inclusive.
func (p Policy) WarnCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -(p.WindowDays - 1))
}

// KickCutoff is the latest activity instant that still lands a warned member
// in the kick set.
func (p Policy) KickCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.WindowDays)
}

// GraceCutoff is the latest join instant whose grace period has elapsed.
// Members who joined after it are exempt from the sweep entirely.
func (p Policy) GraceCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.GraceDays)
}

// ProjectedRemoval computes the earliest date the member could be removed
// under this policy, or nil for protected members and members with no
// recorded activity or join time.
func (p Policy) ProjectedRemoval(member ChatMember) *time.Time {
	if member.Protected() {
		return nil
	}

	var projected time.Time
	if member.LastActivityAt != nil {
		projected = member.LastActivityAt.AddDate(0, 0, p.WindowDays)
	}
	if member.JoinedAt != nil {
		if graceEnd := member.JoinedAt.AddDate(0, 0, p.GraceDays); graceEnd.After(projected) {
			projected = graceEnd
		}
	}
	if projected.IsZero() {
		return nil
	}

	return &projected
}
