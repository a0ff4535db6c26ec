package store

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_ghost_buster_bot/internal/domain"
)

type fakeCountCollection struct {
	count      int64
	err        error
	lastFilter interface{}
}

func (f *fakeCountCollection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	f.lastFilter = filter
	return f.count, f.err
}

func TestCountChats(t *testing.T) {
	chats := &fakeCountCollection{count: 3}
	provider := NewStatsProvider(chats, &fakeCountCollection{})

	count, err := provider.CountChats(context.Background())
	if err != nil {
		t.Fatalf("expected count to succeed, got error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 chats, got %d", count)
	}
}

func TestCountTrackedMembersExcludesDeparted(t *testing.T) {
	members := &fakeCountCollection{count: 12}
	provider := NewStatsProvider(&fakeCountCollection{}, members)

	count, err := provider.CountTrackedMembers(context.Background(), -100)
	if err != nil {
		t.Fatalf("expected count to succeed, got error: %v", err)
	}
	if count != 12 {
		t.Fatalf("expected 12 members, got %d", count)
	}

	filter, ok := members.lastFilter.(bson.M)
	if !ok {
		t.Fatalf("expected bson.M filter, got %T", members.lastFilter)
	}
	if filter["chat_id"] != int64(-100) {
		t.Fatalf("expected chat filter, got %v", filter)
	}

	roleClause, ok := filter["role"].(bson.M)
	if !ok {
		t.Fatalf("expected role clause, got %v", filter["role"])
	}
	nin, ok := roleClause["$nin"].([]string)
	if !ok || len(nin) != 2 {
		t.Fatalf("expected $nin with departed roles, got %v", roleClause)
	}
	for _, role := range []string{domain.RoleLeft, domain.RoleKicked} {
		found := false
		for _, excluded := range nin {
			if excluded == role {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s in $nin clause, got %v", role, nin)
		}
	}
}

func TestStatsPropagateErrors(t *testing.T) {
	errCount := errors.New("count failed")
	provider := NewStatsProvider(
		&fakeCountCollection{err: errCount},
		&fakeCountCollection{err: errCount},
	)

	if _, err := provider.CountChats(context.Background()); !errors.Is(err, errCount) {
		t.Fatalf("expected wrapped count error, got %v", err)
	}
	if _, err := provider.CountTrackedMembers(context.Background(), -100); !errors.Is(err, errCount) {
		t.Fatalf("expected wrapped count error, got %v", err)
	}
}

func TestStatsValidateInputs(t *testing.T) {
	provider := NewStatsProvider(&fakeCountCollection{}, &fakeCountCollection{})

	if _, err := provider.CountChats(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := provider.CountTrackedMembers(nil, -100); err == nil {
		t.Fatalf("expected error for nil context")
	}

	var uninitialized *StatsProvider
	if _, err := uninitialized.CountChats(context.Background()); err == nil {
		t.Fatalf("expected error from nil provider")
	}
}
