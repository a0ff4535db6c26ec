package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/logging"
)

// Gateway performs the outbound Telegram actions the core consumes: posting
// warning messages, removing members, and answering admin checks.
type Gateway struct {
	api    botAPI
	botID  int64
	logger *logrus.Entry
}

// BotStanding describes the bot's own membership in a chat.
type BotStanding struct {
	Status      string
	CanRestrict bool
}

// NewGateway constructs a Gateway over the bot API.
func NewGateway(api botAPI, botID int64, logger *logrus.Entry) *Gateway {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Gateway{
		api:    api,
		botID:  botID,
		logger: logger,
	}
}

// SendWarning posts one chat-wide warning naming every member about to be
// removed. Long member lists are split across messages.
func (g *Gateway) SendWarning(ctx context.Context, chatID int64, members []domain.ChatMember) error {
	if g == nil || g.api == nil {
		return errors.New("gateway is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if len(members) == 0 {
		return nil
	}

	for _, text := range warningMessages(members) {
		if err := g.send(ctx, chatID, text); err != nil {
			return fmt.Errorf("send warning: %w", err)
		}
	}

	return nil
}

// Remove bans a single member from the chat.
func (g *Gateway) Remove(ctx context.Context, chatID, userID int64) error {
	if g == nil || g.api == nil {
		return errors.New("gateway is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := g.api.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("ban chat member: %w", err)
	}

	return nil
}

// IsAdmin reports whether the user is the chat's creator or an administrator.
// Lookup failures resolve to false so a flaky API call never grants access.
func (g *Gateway) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if g == nil || g.api == nil {
		return false, errors.New("gateway is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	member, err := g.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	if member == nil {
		return false, nil
	}

	_, status := memberInfo(*member)
	return domain.IsProtectedRole(status), nil
}

// BotStanding returns the bot's own role in the chat and whether it holds the
// can_restrict_members right needed to remove members.
func (g *Gateway) BotStanding(ctx context.Context, chatID int64) (BotStanding, error) {
	if g == nil || g.api == nil {
		return BotStanding{}, errors.New("gateway is not initialized")
	}
	if ctx == nil {
		return BotStanding{}, errors.New("context is required")
	}

	member, err := g.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: g.botID,
	})
	if err != nil {
		return BotStanding{}, fmt.Errorf("get bot chat member: %w", err)
	}
	if member == nil {
		return BotStanding{}, errors.New("get bot chat member returned no result")
	}

	_, status := memberInfo(*member)
	standing := BotStanding{Status: status}

	switch member.Type {
	case models.ChatMemberTypeOwner:
		standing.CanRestrict = true
	case models.ChatMemberTypeAdministrator:
		standing.CanRestrict = member.Administrator != nil && member.Administrator.CanRestrictMembers
	}

	return standing, nil
}

func (g *Gateway) send(ctx context.Context, chatID int64, text string) error {
	_, err := g.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	return err
}
