package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_ghost_buster_bot/internal/domain"
)

var sweepNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func testChat(chatID int64) domain.Chat {
	return domain.Chat{ChatID: chatID, ActivityWindowDays: 60, GraceDays: 7}
}

// daysAgo returns a pointer to an instant the given number of days before
// sweepNow, slightly past the boundary so inclusive cutoffs are satisfied.
func daysAgo(days int) *time.Time {
	at := sweepNow.AddDate(0, 0, -days).Add(-time.Minute)
	return &at
}

type fakeChats struct {
	chats []domain.Chat
	err   error
}

func (f *fakeChats) List(context.Context) ([]domain.Chat, error) {
	return f.chats, f.err
}

// fakeMembers is a stateful store applying the same eligibility rules as the
// Mongo queries, so two-phase scenarios can be exercised end to end.
type fakeMembers struct {
	members []domain.ChatMember

	warnListErr error
	kickListErr error
	markErr     error
	errChatID   int64
}

func (f *fakeMembers) failingFor(chatID int64) bool {
	return f.errChatID != 0 && f.errChatID == chatID
}

func eligible(m domain.ChatMember, chatID int64, policy domain.Policy, now time.Time) bool {
	if m.ChatID != chatID || m.Role != domain.RoleMember || m.Excluded {
		return false
	}
	if m.InGrace(policy, now) {
		return false
	}
	return true
}

func (f *fakeMembers) ListWarnCandidates(_ context.Context, chatID int64, policy domain.Policy, now time.Time) ([]domain.ChatMember, error) {
	if f.warnListErr != nil && f.failingFor(chatID) {
		return nil, f.warnListErr
	}

	cutoff := policy.WarnCutoff(now)
	var out []domain.ChatMember
	for _, m := range f.members {
		if !eligible(m, chatID, policy, now) || m.WarnedAt != nil {
			continue
		}
		if m.LastActivityAt != nil && m.LastActivityAt.After(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMembers) ListKickCandidates(_ context.Context, chatID int64, policy domain.Policy, now time.Time) ([]domain.ChatMember, error) {
	if f.kickListErr != nil && f.failingFor(chatID) {
		return nil, f.kickListErr
	}

	cutoff := policy.KickCutoff(now)
	var out []domain.ChatMember
	for _, m := range f.members {
		if !eligible(m, chatID, policy, now) || m.WarnedAt == nil {
			continue
		}
		if m.LastActivityAt != nil && m.LastActivityAt.After(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMembers) MarkWarned(_ context.Context, chatID int64, userIDs []int64, policy domain.Policy, now time.Time) (int64, error) {
	if f.markErr != nil && f.failingFor(chatID) {
		return 0, f.markErr
	}

	cutoff := policy.WarnCutoff(now)
	var marked int64
	for i := range f.members {
		m := &f.members[i]
		if !contains(userIDs, m.UserID) {
			continue
		}
		if !eligible(*m, chatID, policy, now) || m.WarnedAt != nil {
			continue
		}
		if m.LastActivityAt != nil && m.LastActivityAt.After(cutoff) {
			continue
		}
		ts := now
		m.WarnedAt = &ts
		marked++
	}
	return marked, nil
}

func (f *fakeMembers) MarkKicked(_ context.Context, chatID, userID int64) error {
	for i := range f.members {
		m := &f.members[i]
		if m.ChatID == chatID && m.UserID == userID {
			m.Role = domain.RoleKicked
		}
	}
	return nil
}

func (f *fakeMembers) byID(t *testing.T, userID int64) domain.ChatMember {
	t.Helper()
	for _, m := range f.members {
		if m.UserID == userID {
			return m
		}
	}
	t.Fatalf("no member with user id %d", userID)
	return domain.ChatMember{}
}

func contains(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

type fakeGateway struct {
	warnedChats []int64
	warnedSets  [][]int64
	removed     []int64

	warnErr    error
	removeErrs map[int64]error
}

func (f *fakeGateway) SendWarning(_ context.Context, chatID int64, members []domain.ChatMember) error {
	if f.warnErr != nil {
		return f.warnErr
	}
	f.warnedChats = append(f.warnedChats, chatID)
	set := make([]int64, 0, len(members))
	for _, m := range members {
		set = append(set, m.UserID)
	}
	f.warnedSets = append(f.warnedSets, set)
	return nil
}

func (f *fakeGateway) Remove(_ context.Context, _ int64, userID int64) error {
	if err, ok := f.removeErrs[userID]; ok {
		return err
	}
	f.removed = append(f.removed, userID)
	return nil
}

func newSweeper(chats *fakeChats, members *fakeMembers, gateway *fakeGateway) *Sweeper {
	hookLogger, _ := logtest.NewNullLogger()
	return NewSweeper(chats, members, gateway, logrus.NewEntry(hookLogger))
}

func TestRunWarnsMembersPastWarnThreshold(t *testing.T) {
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(59)},
		{ChatID: -100, UserID: 2, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(10)},
	}}
	gateway := &fakeGateway{}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Warned != 1 || report.Kicked != 0 {
		t.Fatalf("expected 1 warned, 0 kicked, got %+v", report)
	}
	if members.byID(t, 1).WarnedAt == nil {
		t.Fatalf("expected user 1 to be marked warned")
	}
	if members.byID(t, 2).WarnedAt != nil {
		t.Fatalf("active user 2 must not be warned")
	}
	if len(gateway.warnedSets) != 1 || len(gateway.warnedSets[0]) != 1 || gateway.warnedSets[0][0] != 1 {
		t.Fatalf("expected one warning naming user 1, got %v", gateway.warnedSets)
	}
}

func TestRunKicksWarnedMembersPastFullWindow(t *testing.T) {
	warned := sweepNow.AddDate(0, 0, -1)
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(61), WarnedAt: &warned},
	}}
	gateway := &fakeGateway{}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Kicked != 1 {
		t.Fatalf("expected 1 kicked, got %+v", report)
	}
	if got := members.byID(t, 1).Role; got != domain.RoleKicked {
		t.Fatalf("expected role kicked after removal, got %s", got)
	}
	if len(gateway.removed) != 1 || gateway.removed[0] != 1 {
		t.Fatalf("expected removal of user 1, got %v", gateway.removed)
	}
}

func TestRunWarnsThenKicksVeryStaleMemberInOnePass(t *testing.T) {
	// Past the full window and never warned: the warn phase marks the member
	// and the kick phase, reading after the mark, removes them in the same
	// pass.
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(200), LastActivityAt: daysAgo(90)},
	}}
	gateway := &fakeGateway{}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Warned != 1 || report.Kicked != 1 {
		t.Fatalf("expected warn and kick in one pass, got %+v", report)
	}
}

func TestRunLeavesMembersUnwarnedWhenSendFails(t *testing.T) {
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(59)},
	}}
	gateway := &fakeGateway{warnErr: errors.New("telegram unavailable")}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Warned != 0 || report.Failed != 1 {
		t.Fatalf("expected 0 warned and 1 failed chat, got %+v", report)
	}
	if members.byID(t, 1).WarnedAt != nil {
		t.Fatalf("member must stay unwarned when the warning message fails")
	}

	// A retry with the gateway healthy reproduces the identical warn set.
	gateway.warnErr = nil
	report, err = sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("retry Run returned error: %v", err)
	}
	if report.Warned != 1 {
		t.Fatalf("expected retry to warn the same member, got %+v", report)
	}
}

func TestRunIsolatesKickFailuresPerMember(t *testing.T) {
	warned := sweepNow.AddDate(0, 0, -1)
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(61), WarnedAt: &warned},
		{ChatID: -100, UserID: 2, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(61), WarnedAt: &warned},
	}}
	gateway := &fakeGateway{removeErrs: map[int64]error{1: errors.New("forbidden")}}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Kicked != 1 {
		t.Fatalf("expected the healthy removal to proceed, got %+v", report)
	}
	if got := members.byID(t, 1).Role; got != domain.RoleMember {
		t.Fatalf("failed removal must leave state unchanged, got role %s", got)
	}
	if got := members.byID(t, 2).Role; got != domain.RoleKicked {
		t.Fatalf("expected user 2 removed, got role %s", got)
	}
	if report.Results[0].KickFailures != 1 {
		t.Fatalf("expected one recorded kick failure, got %+v", report.Results[0])
	}
}

func TestRunIsolatesChatFailures(t *testing.T) {
	members := &fakeMembers{
		members: []domain.ChatMember{
			{ChatID: -100, UserID: 1, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(59)},
			{ChatID: -200, UserID: 2, Role: domain.RoleMember, JoinedAt: daysAgo(100), LastActivityAt: daysAgo(59)},
		},
		warnListErr: errors.New("mongo timeout"),
		errChatID:   -100,
	}
	gateway := &fakeGateway{}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100), testChat(-200)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Chats != 2 || report.Failed != 1 {
		t.Fatalf("expected both chats processed with one failure, got %+v", report)
	}
	if report.Warned != 1 {
		t.Fatalf("healthy chat must still be swept, got %+v", report)
	}
	if members.byID(t, 2).WarnedAt == nil {
		t.Fatalf("expected user 2 in the healthy chat to be warned")
	}
}

func TestRunSkipsProtectedAndExcludedMembers(t *testing.T) {
	members := &fakeMembers{members: []domain.ChatMember{
		{ChatID: -100, UserID: 1, Role: domain.RoleAdministrator, JoinedAt: daysAgo(400), LastActivityAt: daysAgo(300)},
		{ChatID: -100, UserID: 2, Role: domain.RoleMember, Excluded: true, JoinedAt: daysAgo(400), LastActivityAt: daysAgo(300)},
		{ChatID: -100, UserID: 3, Role: domain.RoleMember, JoinedAt: daysAgo(3)},
	}}
	gateway := &fakeGateway{}
	sweeper := newSweeper(&fakeChats{chats: []domain.Chat{testChat(-100)}}, members, gateway)

	report, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Warned != 0 || report.Kicked != 0 || report.Failed != 0 {
		t.Fatalf("expected a no-op pass, got %+v", report)
	}
	if len(gateway.warnedChats) != 0 {
		t.Fatalf("no warning should be sent for an empty warn set")
	}
}

func TestRunReturnsErrorWhenChatListFails(t *testing.T) {
	chats := &fakeChats{err: errors.New("mongo down")}
	sweeper := newSweeper(chats, &fakeMembers{}, &fakeGateway{})

	if _, err := sweeper.Run(context.Background(), sweepNow); err == nil || !errors.Is(err, chats.err) {
		t.Fatalf("expected wrapped list error, got %v", err)
	}
}

func TestRunAssignsSweepID(t *testing.T) {
	sweeper := newSweeper(&fakeChats{}, &fakeMembers{}, &fakeGateway{})

	first, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	second, err := sweeper.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if first.SweepID == "" || first.SweepID == second.SweepID {
		t.Fatalf("expected distinct non-empty sweep ids, got %q and %q", first.SweepID, second.SweepID)
	}
}
