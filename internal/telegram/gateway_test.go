package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_ghost_buster_bot/internal/domain"
)

func newGateway(api *fakeAPI) *Gateway {
	hookLogger, _ := logtest.NewNullLogger()
	return NewGateway(api, 42, logrus.NewEntry(hookLogger))
}

func TestSendWarningPostsHTMLMessage(t *testing.T) {
	api := &fakeAPI{}
	gateway := newGateway(api)

	members := []domain.ChatMember{{UserID: 1, DisplayName: "Alice"}}
	if err := gateway.SendWarning(context.Background(), -100, members); err != nil {
		t.Fatalf("SendWarning returned error: %v", err)
	}

	if len(api.sentMessages) != 1 {
		t.Fatalf("expected one message, got %d", len(api.sentMessages))
	}

	sent := api.sentMessages[0]
	if sent.ChatID != int64(-100) {
		t.Fatalf("expected chat -100, got %v", sent.ChatID)
	}
	if sent.ParseMode != models.ParseModeHTML {
		t.Fatalf("expected HTML parse mode, got %q", sent.ParseMode)
	}
	if sent.LinkPreviewOptions == nil || sent.LinkPreviewOptions.IsDisabled == nil || !*sent.LinkPreviewOptions.IsDisabled {
		t.Fatalf("expected link previews disabled")
	}
	if !strings.Contains(sent.Text, "tg://user?id=1") {
		t.Fatalf("expected mention link in warning, got %q", sent.Text)
	}
}

func TestSendWarningSkipsEmptySet(t *testing.T) {
	api := &fakeAPI{}
	gateway := newGateway(api)

	if err := gateway.SendWarning(context.Background(), -100, nil); err != nil {
		t.Fatalf("SendWarning returned error: %v", err)
	}
	if len(api.sentMessages) != 0 {
		t.Fatalf("expected no message for an empty set, got %d", len(api.sentMessages))
	}
}

func TestSendWarningPropagatesSendError(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("telegram unavailable")}
	gateway := newGateway(api)

	err := gateway.SendWarning(context.Background(), -100, []domain.ChatMember{{UserID: 1}})
	if err == nil || !errors.Is(err, api.sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestRemoveBansMember(t *testing.T) {
	api := &fakeAPI{}
	gateway := newGateway(api)

	if err := gateway.Remove(context.Background(), -100, 7); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	if len(api.banned) != 1 || api.banned[0].ChatID != int64(-100) || api.banned[0].UserID != 7 {
		t.Fatalf("expected ban for user 7 in chat -100, got %v", api.banned)
	}
}

func TestRemovePropagatesBanError(t *testing.T) {
	api := &fakeAPI{banErr: errors.New("not enough rights")}
	gateway := newGateway(api)

	if err := gateway.Remove(context.Background(), -100, 7); err == nil || !errors.Is(err, api.banErr) {
		t.Fatalf("expected wrapped ban error, got %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	api := &fakeAPI{chatMembers: map[int64]*models.ChatMember{
		1: {Type: models.ChatMemberTypeOwner, Owner: &models.ChatMemberOwner{User: &models.User{ID: 1}}},
		2: {Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{User: models.User{ID: 2}}},
		3: {Type: models.ChatMemberTypeMember, Member: &models.ChatMemberMember{User: &models.User{ID: 3}}},
	}}
	gateway := newGateway(api)

	for userID, want := range map[int64]bool{1: true, 2: true, 3: false, 4: false} {
		got, err := gateway.IsAdmin(context.Background(), -100, userID)
		if err != nil {
			t.Fatalf("user %d: IsAdmin returned error: %v", userID, err)
		}
		if got != want {
			t.Fatalf("user %d: expected admin=%v, got %v", userID, want, got)
		}
	}
}

func TestIsAdminPropagatesLookupError(t *testing.T) {
	api := &fakeAPI{getMemberErr: errors.New("lookup failed")}
	gateway := newGateway(api)

	isAdmin, err := gateway.IsAdmin(context.Background(), -100, 1)
	if err == nil {
		t.Fatalf("expected lookup error")
	}
	if isAdmin {
		t.Fatalf("a failed lookup must never grant access")
	}
}

func TestBotStanding(t *testing.T) {
	tests := []struct {
		name   string
		member *models.ChatMember
		want   BotStanding
	}{
		{
			name:   "owner",
			member: &models.ChatMember{Type: models.ChatMemberTypeOwner, Owner: &models.ChatMemberOwner{User: &models.User{ID: 42}}},
			want:   BotStanding{Status: domain.RoleCreator, CanRestrict: true},
		},
		{
			name: "admin with restrict right",
			member: &models.ChatMember{Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{
				User:               models.User{ID: 42},
				CanRestrictMembers: true,
			}},
			want: BotStanding{Status: domain.RoleAdministrator, CanRestrict: true},
		},
		{
			name: "admin without restrict right",
			member: &models.ChatMember{Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{
				User: models.User{ID: 42},
			}},
			want: BotStanding{Status: domain.RoleAdministrator, CanRestrict: false},
		},
		{
			name:   "plain member",
			member: &models.ChatMember{Type: models.ChatMemberTypeMember, Member: &models.ChatMemberMember{User: &models.User{ID: 42}}},
			want:   BotStanding{Status: domain.RoleMember, CanRestrict: false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{chatMembers: map[int64]*models.ChatMember{42: tc.member}}
			gateway := newGateway(api)

			got, err := gateway.BotStanding(context.Background(), -100)
			if err != nil {
				t.Fatalf("BotStanding returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestGatewayNilGuards(t *testing.T) {
	var gateway *Gateway

	if err := gateway.Remove(context.Background(), -100, 7); err == nil {
		t.Fatalf("expected error from nil gateway")
	}
	if err := gateway.SendWarning(context.Background(), -100, nil); err == nil {
		t.Fatalf("expected error from nil gateway")
	}
	if _, err := gateway.IsAdmin(context.Background(), -100, 7); err == nil {
		t.Fatalf("expected error from nil gateway")
	}
}
