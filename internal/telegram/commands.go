package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/logging"
)

// dispatchCommand parses a slash command out of a group message and routes it.
// Unknown commands are ignored; anything admin-gated fails silently for
// non-admins, matching how the bot behaves in busy groups.
func (c *Client) dispatchCommand(ctx context.Context, msg *models.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}

	command, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch command {
	case "/set_window":
		c.handleSetWindow(ctx, msg, args)
	case "/preview":
		c.handlePreview(ctx, msg)
	case "/status":
		c.handleStatus(ctx, msg)
	case "/protect":
		c.handleProtect(ctx, msg, args, true)
	case "/unprotect":
		c.handleProtect(ctx, msg, args, false)
	case "/help", "/start":
		c.reply(ctx, msg.Chat.ID, helpText)
	}
}

func (c *Client) handleSetWindow(ctx context.Context, msg *models.Message, args []string) {
	if c.policies == nil || !c.fromAdmin(ctx, msg) {
		return
	}

	usage := fmt.Sprintf("ℹ️ Provide a number of days between %d and %d. Example: /set_window %d",
		domain.MinActivityWindowDays, domain.MaxActivityWindowDays, domain.DefaultActivityWindowDays)

	if len(args) == 0 {
		c.reply(ctx, msg.Chat.ID, usage)
		return
	}

	days, err := strconv.Atoi(args[0])
	if err != nil {
		c.reply(ctx, msg.Chat.ID, usage)
		return
	}

	if err := c.policies.SetActivityWindow(ctx, msg.Chat.ID, days, eventTime(msg.Date)); err != nil {
		if errors.Is(err, domain.ErrInvalidPolicy) {
			c.reply(ctx, msg.Chat.ID, usage)
			return
		}

		c.logger.WithFields(logging.Fields{
			"event":   "set_window_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Error("failed to update activity window")
		c.reply(ctx, msg.Chat.ID, "⚠️ Could not update the activity window, try again later.")
		return
	}

	c.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Activity window set to <b>%d d</b>", days))
}

func (c *Client) handlePreview(ctx context.Context, msg *models.Message) {
	if c.policies == nil || c.members == nil || !c.fromAdmin(ctx, msg) {
		return
	}

	policy, err := c.policies.GetPolicy(ctx, msg.Chat.ID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "preview_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Error("failed to load chat policy")
		return
	}

	roster, err := c.members.ListRoster(ctx, msg.Chat.ID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "preview_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Error("failed to load chat roster")
		return
	}

	if len(roster) == 0 {
		c.reply(ctx, msg.Chat.ID, "ℹ️ No members tracked yet.")
		return
	}

	for _, text := range previewMessages(roster, policy) {
		c.reply(ctx, msg.Chat.ID, text)
	}
}

func (c *Client) handleStatus(ctx context.Context, msg *models.Message) {
	standing, err := c.gateway.BotStanding(ctx, msg.Chat.ID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "status_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Warn("failed to fetch bot standing")
		c.reply(ctx, msg.Chat.ID, "⚠️ Could not check the bot's status. Make sure the bot is in this group.")
		return
	}

	canRestrict := "no"
	if standing.CanRestrict {
		canRestrict = "yes"
	}

	lines := []string{
		fmt.Sprintf("Bot status: %s", standing.Status),
		fmt.Sprintf("Can remove members (can_restrict_members): %s", canRestrict),
	}

	if c.stats != nil {
		if tracked, err := c.stats.CountTrackedMembers(ctx, msg.Chat.ID); err == nil {
			lines = append(lines, fmt.Sprintf("Tracked members: %d", tracked))
		}
	}

	c.reply(ctx, msg.Chat.ID, strings.Join(lines, "\n"))
}

func (c *Client) handleProtect(ctx context.Context, msg *models.Message, args []string, excluded bool) {
	if c.members == nil || !c.fromAdmin(ctx, msg) {
		return
	}

	verb := "/protect"
	if !excluded {
		verb = "/unprotect"
	}

	if len(args) == 0 {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("ℹ️ Usage: %s @username", verb))
		return
	}

	username := strings.TrimPrefix(args[0], "@")
	found, err := c.members.SetExcluded(ctx, msg.Chat.ID, username, excluded)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "protect_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Error("failed to update member exclusion")
		return
	}

	if !found {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("ℹ️ No tracked member with username @%s.", htmlEscape(username)))
		return
	}

	if excluded {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ @%s is now protected from removal.", htmlEscape(username)))
		return
	}
	c.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ @%s is no longer protected.", htmlEscape(username)))
}

// fromAdmin checks the sender against Telegram's live chat membership. A
// failed lookup denies access rather than guessing.
func (c *Client) fromAdmin(ctx context.Context, msg *models.Message) bool {
	if msg.From == nil {
		return false
	}

	isAdmin, err := c.gateway.IsAdmin(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "admin_check_error",
			"chat_id": msg.Chat.ID,
			"user_id": msg.From.ID,
		}).WithError(err).Warn("admin check failed, denying command")
		return false
	}

	return isAdmin
}

func (c *Client) reply(ctx context.Context, chatID int64, text string) {
	if err := c.gateway.send(ctx, chatID, text); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "reply_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}
