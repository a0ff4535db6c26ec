// Package telegram hosts the Telegram client, update routing, and the admin
// command handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_ghost_buster_bot/internal/config"
	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/feature/activity"
	"tg_ghost_buster_bot/internal/logging"
)

// botAPI captures the subset of bot.Bot behavior the client and gateway rely
// on, allowing lightweight stubbing in tests.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
}

type activityRecorder interface {
	EnsureChat(ctx context.Context, chat activity.ChatInfo, at time.Time) (bool, error)
	RecordActivity(ctx context.Context, chatID int64, user activity.UserInfo, kind domain.ActivityKind, at time.Time) error
	RecordRoleChange(ctx context.Context, chatID int64, user activity.UserInfo, newStatus string, at time.Time) error
}

type policyStore interface {
	SetActivityWindow(ctx context.Context, chatID int64, days int, at time.Time) error
	GetPolicy(ctx context.Context, chatID int64) (domain.Policy, error)
}

type memberDirectory interface {
	ListRoster(ctx context.Context, chatID int64) ([]domain.ChatMember, error)
	SetExcluded(ctx context.Context, chatID int64, username string, excluded bool) (bool, error)
}

type statsReader interface {
	CountTrackedMembers(ctx context.Context, chatID int64) (int64, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"message_reaction",
		"chat_member",
		"my_chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance, routes incoming updates into the
// activity recorder, and serves the admin commands.
type Client struct {
	bot      botAPI
	gateway  *Gateway
	recorder activityRecorder
	policies policyStore
	members  memberDirectory
	stats    statsReader
	logger   *logrus.Entry
}

// Option customizes the Client during construction.
type Option func(*Client)

// WithRecorder wires the activity recorder handling observed events.
func WithRecorder(recorder activityRecorder) Option {
	return func(c *Client) { c.recorder = recorder }
}

// WithPolicyStore wires the per-chat policy store used by /set_window.
func WithPolicyStore(policies policyStore) Option {
	return func(c *Client) { c.policies = policies }
}

// WithMemberDirectory wires the member queries used by /preview and /protect.
func WithMemberDirectory(members memberDirectory) Option {
	return func(c *Client) { c.members = members }
}

// WithStats wires the diagnostics counters used by /status.
func WithStats(stats statsReader) Option {
	return func(c *Client) { c.stats = stats }
}

// NewClient initializes the Telegram bot with long polling and the update
// router. Reaction updates require the bot to be a chat administrator and are
// requested explicitly via allowed updates.
func NewClient(cfg config.Config, logger *logrus.Entry, options ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{logger: logger}
	for _, option := range options {
		option(client)
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	client.gateway = NewGateway(tgBot, botIDFromToken(cfg.TelegramToken), logger)

	return client, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// Gateway returns the outbound gateway backed by this client's bot instance.
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// handleUpdate routes one update. Only group and supergroup chats are
// tracked; everything else is dropped silently.
func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	case update.MessageReaction != nil:
		c.handleReaction(ctx, update.MessageReaction)
	case update.ChatMember != nil:
		c.handleChatMember(ctx, update.ChatMember)
	case update.MyChatMember != nil:
		c.handleMyChatMember(ctx, update.MyChatMember)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || !isGroupChat(msg.Chat) {
		return
	}

	at := eventTime(msg.Date)
	c.ensureChat(ctx, msg.Chat, at)

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		c.dispatchCommand(ctx, msg)
	}

	// Any message counts as activity, commands included.
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordActivity(ctx, msg.Chat.ID, userInfo(msg.From), domain.ActivityMessage, at); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "record_activity_error",
			"chat_id": msg.Chat.ID,
			"user_id": msg.From.ID,
		}).WithError(err).Error("failed to record message activity")
	}
}

func (c *Client) handleReaction(ctx context.Context, reaction *models.MessageReactionUpdated) {
	if reaction.User == nil || !isGroupChat(reaction.Chat) {
		return
	}

	at := eventTime(reaction.Date)
	c.ensureChat(ctx, reaction.Chat, at)

	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordActivity(ctx, reaction.Chat.ID, userInfo(reaction.User), domain.ActivityReaction, at); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "record_activity_error",
			"chat_id": reaction.Chat.ID,
			"user_id": reaction.User.ID,
		}).WithError(err).Error("failed to record reaction activity")
	}
}

func (c *Client) handleChatMember(ctx context.Context, change *models.ChatMemberUpdated) {
	if !isGroupChat(change.Chat) {
		return
	}

	at := eventTime(change.Date)
	c.ensureChat(ctx, change.Chat, at)

	member, status := memberInfo(change.NewChatMember)
	if member == nil || c.recorder == nil {
		return
	}

	if err := c.recorder.RecordRoleChange(ctx, change.Chat.ID, userInfo(member), status, at); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "record_role_error",
			"chat_id": change.Chat.ID,
			"user_id": member.ID,
		}).WithError(err).Error("failed to record role change")
	}
}

func (c *Client) handleMyChatMember(ctx context.Context, change *models.ChatMemberUpdated) {
	if !isGroupChat(change.Chat) {
		return
	}

	c.ensureChat(ctx, change.Chat, eventTime(change.Date))
}

func (c *Client) ensureChat(ctx context.Context, chat models.Chat, at time.Time) {
	if c.recorder == nil {
		return
	}

	info := activity.ChatInfo{ChatID: chat.ID, Title: chatTitle(chat)}
	if _, err := c.recorder.EnsureChat(ctx, info, at); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "ensure_chat_error",
			"chat_id": chat.ID,
		}).WithError(err).Error("failed to ensure chat record")
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func isGroupChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}

func eventTime(unixSeconds int) time.Time {
	return time.Unix(int64(unixSeconds), 0).UTC()
}

func chatTitle(chat models.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Username != "" {
		return chat.Username
	}
	return strconv.FormatInt(chat.ID, 10)
}

func userInfo(user *models.User) activity.UserInfo {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))

	return activity.UserInfo{
		UserID:      user.ID,
		IsBot:       user.IsBot,
		DisplayName: name,
		Username:    user.Username,
	}
}

// memberInfo unwraps the go-telegram chat member variant into the affected
// user and its role string.
func memberInfo(member models.ChatMember) (*models.User, string) {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		if member.Owner == nil {
			return nil, ""
		}
		return member.Owner.User, domain.RoleCreator
	case models.ChatMemberTypeAdministrator:
		if member.Administrator == nil {
			return nil, ""
		}
		return &member.Administrator.User, domain.RoleAdministrator
	case models.ChatMemberTypeMember:
		if member.Member == nil {
			return nil, ""
		}
		return member.Member.User, domain.RoleMember
	case models.ChatMemberTypeRestricted:
		if member.Restricted == nil {
			return nil, ""
		}
		return member.Restricted.User, domain.RoleRestricted
	case models.ChatMemberTypeLeft:
		if member.Left == nil {
			return nil, ""
		}
		return member.Left.User, domain.RoleLeft
	case models.ChatMemberTypeBanned:
		if member.Banned == nil {
			return nil, ""
		}
		return member.Banned.User, domain.RoleKicked
	default:
		return nil, ""
	}
}

// botIDFromToken extracts the bot's own user id from the numeric token prefix.
func botIDFromToken(token string) int64 {
	prefix, _, _ := strings.Cut(token, ":")
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
