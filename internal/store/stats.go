// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_ghost_buster_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	chats   countCollection
	members countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided chats and
// chat_members collections.
func NewStatsProvider(chats, members countCollection) *StatsProvider {
	return &StatsProvider{
		chats:   chats,
		members: members,
	}
}

// CountChats returns the number of chats the bot has observed.
func (p *StatsProvider) CountChats(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.chats == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.chats.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}

	return count, nil
}

// CountTrackedMembers returns the number of members currently tracked in the
// given chat, excluding those recorded as departed.
func (p *StatsProvider) CountTrackedMembers(ctx context.Context, chatID int64) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.members == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	filter := bson.M{
		"chat_id": chatID,
		"role":    bson.M{"$nin": []string{domain.RoleLeft, domain.RoleKicked}},
	}

	count, err := p.members.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count tracked members: %w", err)
	}

	return count, nil
}
