// Package activity converts observed platform events into idempotent member
// state updates.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/logging"
)

type upsertCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// ChatInfo carries the chat identity observed on an event.
type ChatInfo struct {
	ChatID int64
	Title  string
}

// UserInfo carries the user identity observed on an event.
type UserInfo struct {
	UserID      int64
	IsBot       bool
	DisplayName string
	Username    string
}

// Recorder ingests activity and role-change events. Every write is a single
// filtered upsert per row, so replaying an event (at-least-once delivery)
// cannot corrupt timestamps and a concurrent sweep write cannot shadow a
// fresh-activity write.
type Recorder struct {
	chats   upsertCollection
	members upsertCollection
	logger  *logrus.Entry
}

// NewRecorder constructs a Recorder over the chats and chat_members
// collections.
func NewRecorder(chats, members upsertCollection, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Recorder{
		chats:   chats,
		members: members,
		logger:  logger,
	}
}

// EnsureChat upserts the chat record with policy defaults on first contact and
// refreshes title/updated_at otherwise. An existing chat's policy is never
// changed here.
func (r *Recorder) EnsureChat(ctx context.Context, chat ChatInfo, at time.Time) (bool, error) {
	if r == nil || r.chats == nil {
		return false, errors.New("activity recorder is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if chat.ChatID == 0 {
		return false, errors.New("chat id is required")
	}

	setFields := bson.M{"updated_at": at}
	if title := strings.TrimSpace(chat.Title); title != "" {
		setFields["title"] = title
	}

	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"chat_id":              chat.ChatID,
			"activity_window_days": domain.DefaultActivityWindowDays,
			"grace_days":           domain.DefaultGraceDays,
			"created_at":           at,
		},
	}

	result, err := r.chats.UpdateOne(ctx,
		bson.M{"chat_id": chat.ChatID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("ensure chat: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "chat_registered",
			"chat_id": chat.ChatID,
			"title":   chat.Title,
		}).Info("registered new chat")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "chat_seen",
		"chat_id": chat.ChatID,
	}).Debug("refreshed chat record")

	return false, nil
}

// RecordActivity merges one activity observation into the member row. The
// activity timestamps are max-merged (an older-dated event never regresses a
// newer one), warned_at is cleared, and a left/kicked role reverts to member.
// Bot accounts are ignored.
func (r *Recorder) RecordActivity(ctx context.Context, chatID int64, user UserInfo, kind domain.ActivityKind, at time.Time) error {
	if r == nil || r.members == nil {
		return errors.New("activity recorder is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 || user.UserID == 0 {
		return errors.New("chat id and user id are required")
	}
	if user.IsBot {
		return nil
	}

	var timestampField string
	switch kind {
	case domain.ActivityMessage:
		timestampField = "last_message_at"
	case domain.ActivityReaction:
		timestampField = "last_reaction_at"
	default:
		return fmt.Errorf("unknown activity kind %q", kind)
	}

	update := bson.M{
		"$set": bson.M{
			"display_name": displayName(user),
			"username":     user.Username,
			"warned_at":    nil,
		},
		"$max": bson.M{
			timestampField:     at,
			"last_activity_at": at,
		},
		"$setOnInsert": bson.M{
			"chat_id":   chatID,
			"user_id":   user.UserID,
			"role":      domain.RoleMember,
			"joined_at": at,
			"excluded":  false,
		},
	}

	if _, err := r.members.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": user.UserID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("record %s activity: %w", kind, err)
	}

	// Rejoin-by-activity: the transition applies only to the roles in the
	// table, everything else keeps its role.
	if _, err := r.members.UpdateOne(ctx,
		bson.M{
			"chat_id": chatID,
			"user_id": user.UserID,
			"role":    bson.M{"$in": domain.RolesResetByActivity()},
		},
		bson.M{"$set": bson.M{"role": domain.RoleMember}},
	); err != nil {
		return fmt.Errorf("reset role on activity: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "member_activity",
		"chat_id": chatID,
		"user_id": user.UserID,
		"kind":    string(kind),
	}).Debug("recorded member activity")

	return nil
}

// RecordRoleChange upserts display identity and sets the member's role as
// reported by the platform. Activity timestamps and warned_at are untouched.
func (r *Recorder) RecordRoleChange(ctx context.Context, chatID int64, user UserInfo, newStatus string, at time.Time) error {
	if r == nil || r.members == nil {
		return errors.New("activity recorder is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 || user.UserID == 0 {
		return errors.New("chat id and user id are required")
	}
	if user.IsBot {
		return nil
	}
	if !domain.IsKnownRole(newStatus) {
		return fmt.Errorf("unknown member status %q", newStatus)
	}

	update := bson.M{
		"$set": bson.M{
			"display_name": displayName(user),
			"username":     user.Username,
			"role":         newStatus,
		},
		"$setOnInsert": bson.M{
			"chat_id":   chatID,
			"user_id":   user.UserID,
			"joined_at": at,
			"warned_at": nil,
			"excluded":  false,
		},
	}

	if _, err := r.members.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": user.UserID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("record role change: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "member_role_change",
		"chat_id": chatID,
		"user_id": user.UserID,
		"role":    newStatus,
	}).Info("recorded member role change")

	return nil
}

func displayName(user UserInfo) string {
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	if user.Username != "" {
		return user.Username
	}
	return strconv.FormatInt(user.UserID, 10)
}
