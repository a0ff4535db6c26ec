// Package policy holds and validates per-chat retention policy.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/logging"
)

type chatCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type policyReader interface {
	Get(ctx context.Context, chatID int64) (domain.Chat, error)
}

// Store validates and persists per-chat retention policy.
type Store struct {
	chats  chatCollection
	reader policyReader
	logger *logrus.Entry
}

// NewStore constructs a Store over the chats collection and a chat reader.
func NewStore(chats chatCollection, reader policyReader, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Store{
		chats:  chats,
		reader: reader,
		logger: logger,
	}
}

// SetActivityWindow updates the chat's activity window after bounds
// validation. Grace days are untouched; unknown chats are created with the
// default grace period so the setting is never lost.
func (s *Store) SetActivityWindow(ctx context.Context, chatID int64, days int, at time.Time) error {
	if s == nil || s.chats == nil {
		return errors.New("policy store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	if err := domain.ValidateWindowDays(days); err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"activity_window_days": days,
			"updated_at":           at,
		},
		"$setOnInsert": bson.M{
			"chat_id":    chatID,
			"grace_days": domain.DefaultGraceDays,
			"created_at": at,
		},
	}

	if _, err := s.chats.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("set activity window: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"event":       "policy_window_set",
		"chat_id":     chatID,
		"window_days": days,
	}).Info("updated activity window")

	return nil
}

// GetPolicy returns the chat's stored policy, or the documented defaults when
// the chat is unknown. Callers need not ensure the chat exists first.
func (s *Store) GetPolicy(ctx context.Context, chatID int64) (domain.Policy, error) {
	if s == nil || s.reader == nil {
		return domain.Policy{}, errors.New("policy store is not initialized")
	}
	if ctx == nil {
		return domain.Policy{}, errors.New("context is required")
	}

	chat, err := s.reader.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			return domain.DefaultPolicy(), nil
		}
		return domain.Policy{}, fmt.Errorf("get policy: %w", err)
	}

	return chat.Policy(), nil
}
