package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrChatNotFound signals a lookup for a chat the bot has never observed.
var ErrChatNotFound = errors.New("chat not found")

type findCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type memberCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// ChatRepository reads chat rows and their retention policies.
type ChatRepository struct {
	chats findCollection
}

// NewChatRepository constructs a ChatRepository over the chats collection.
func NewChatRepository(chats findCollection) *ChatRepository {
	return &ChatRepository{chats: chats}
}

// List returns every chat the bot has observed.
func (r *ChatRepository) List(ctx context.Context) ([]Chat, error) {
	if r == nil || r.chats == nil {
		return nil, errors.New("chat repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.chats.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var chats []Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	return chats, nil
}

// Get fetches a chat by chat_id, returning ErrChatNotFound for unknown chats.
func (r *ChatRepository) Get(ctx context.Context, chatID int64) (Chat, error) {
	if r == nil || r.chats == nil {
		return Chat{}, errors.New("chat repository is not initialized")
	}
	if ctx == nil {
		return Chat{}, errors.New("context is required")
	}
	if chatID == 0 {
		return Chat{}, errors.New("chat id is required")
	}

	result := r.chats.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return Chat{}, errors.New("find chat returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Chat{}, ErrChatNotFound
		}
		return Chat{}, fmt.Errorf("find chat: %w", err)
	}

	var chat Chat
	if err := result.Decode(&chat); err != nil {
		return Chat{}, fmt.Errorf("decode chat: %w", err)
	}

	return chat, nil
}

// MemberRepository queries and mutates per-member retention state. All writes
// are single filtered updates so concurrent activity writes stay atomic per
// (chat_id, user_id) row.
type MemberRepository struct {
	members memberCollection
}

// NewMemberRepository constructs a MemberRepository over the chat_members
// collection.
func NewMemberRepository(members memberCollection) *MemberRepository {
	return &MemberRepository{members: members}
}

// eligibilityFilter selects members the sweep may act on at all: plain
// members, not excluded, and past their grace period.
func eligibilityFilter(chatID int64, policy Policy, now time.Time) bson.M {
	return bson.M{
		"chat_id":  chatID,
		"role":     RoleMember,
		"excluded": false,
		"$or": []bson.M{
			{"joined_at": nil},
			{"joined_at": bson.M{"$lte": policy.GraceCutoff(now)}},
		},
	}
}

// inactivityClause matches members whose last activity is at or before the
// cutoff, treating never-active members as maximally inactive.
func inactivityClause(cutoff time.Time) []bson.M {
	return []bson.M{
		{"last_activity_at": nil},
		{"last_activity_at": bson.M{"$lte": cutoff}},
	}
}

// ListWarnCandidates returns eligible members one day short of the removal
// threshold that have not been warned for the current inactivity episode.
func (r *MemberRepository) ListWarnCandidates(ctx context.Context, chatID int64, policy Policy, now time.Time) ([]ChatMember, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	filter := eligibilityFilter(chatID, policy, now)
	filter["warned_at"] = nil
	filter["$and"] = []bson.M{{"$or": inactivityClause(policy.WarnCutoff(now))}}

	members, err := r.find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list warn candidates: %w", err)
	}

	return members, nil
}

// ListKickCandidates returns eligible members that were warned in a previous
// pass and remain inactive at or beyond the full window.
func (r *MemberRepository) ListKickCandidates(ctx context.Context, chatID int64, policy Policy, now time.Time) ([]ChatMember, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	filter := eligibilityFilter(chatID, policy, now)
	filter["warned_at"] = bson.M{"$ne": nil}
	filter["$and"] = []bson.M{{"$or": inactivityClause(policy.KickCutoff(now))}}

	members, err := r.find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list kick candidates: %w", err)
	}

	return members, nil
}

// MarkWarned stamps warned_at=now on the given members. The filter re-checks
// warn eligibility so an activity write that cleared warned_at between the
// candidate read and this update wins the race: such rows no longer match and
// stay unwarned. Returns the number of members actually marked.
func (r *MemberRepository) MarkWarned(ctx context.Context, chatID int64, userIDs []int64, policy Policy, now time.Time) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	filter := eligibilityFilter(chatID, policy, now)
	filter["user_id"] = bson.M{"$in": userIDs}
	filter["warned_at"] = nil
	filter["$and"] = []bson.M{{"$or": inactivityClause(policy.WarnCutoff(now))}}

	result, err := r.members.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"warned_at": now},
	})
	if err != nil {
		return 0, fmt.Errorf("mark warned: %w", err)
	}
	if result == nil {
		return 0, nil
	}

	return result.ModifiedCount, nil
}

// MarkKicked records a completed removal by setting the member's role.
func (r *MemberRepository) MarkKicked(ctx context.Context, chatID, userID int64) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	_, err := r.members.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{"$set": bson.M{"role": RoleKicked}},
	)
	if err != nil {
		return fmt.Errorf("mark kicked: %w", err)
	}

	return nil
}

// ListRoster returns the chat's present members (including administrators and
// the creator) ordered with plain members first, then by display name.
func (r *MemberRepository) ListRoster(ctx context.Context, chatID int64) ([]ChatMember, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	filter := bson.M{
		"chat_id": chatID,
		"role":    bson.M{"$in": []string{RoleMember, RoleAdministrator, RoleCreator}},
	}

	members, err := r.find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}

	sort.SliceStable(members, func(i, j int) bool {
		if (members[i].Role == RoleMember) != (members[j].Role == RoleMember) {
			return members[i].Role == RoleMember
		}
		return members[i].DisplayName < members[j].DisplayName
	})

	return members, nil
}

// SetExcluded toggles manual removal protection for a member addressed by
// username. Returns false when no member with that username is known.
func (r *MemberRepository) SetExcluded(ctx context.Context, chatID int64, username string, excluded bool) (bool, error) {
	if err := r.ready(ctx); err != nil {
		return false, err
	}
	if username == "" {
		return false, errors.New("username is required")
	}

	result, err := r.members.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "username": username},
		bson.M{"$set": bson.M{"excluded": excluded}},
	)
	if err != nil {
		return false, fmt.Errorf("set excluded: %w", err)
	}

	return result != nil && result.MatchedCount > 0, nil
}

func (r *MemberRepository) ready(ctx context.Context) error {
	if r == nil || r.members == nil {
		return errors.New("member repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (r *MemberRepository) find(ctx context.Context, filter bson.M) ([]ChatMember, error) {
	cursor, err := r.members.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var members []ChatMember
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}

	return members, nil
}
