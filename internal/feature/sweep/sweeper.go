// Package sweep implements the retention state machine: the periodic pass
// that warns inactive members one day ahead of the removal threshold and
// removes the ones already warned.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/logging"
)

// gatewayCallTimeout bounds each outbound Telegram call so one stuck chat or
// member cannot stall the rest of the pass.
const gatewayCallTimeout = 30 * time.Second

// Gateway is the outbound contract the sweeper consumes: it posts the warning
// text and performs the removal. Calls may fail; the sweeper never retries
// within a pass because unchanged state retries naturally next period.
type Gateway interface {
	SendWarning(ctx context.Context, chatID int64, members []domain.ChatMember) error
	Remove(ctx context.Context, chatID, userID int64) error
}

type chatLister interface {
	List(ctx context.Context) ([]domain.Chat, error)
}

type memberStore interface {
	ListWarnCandidates(ctx context.Context, chatID int64, policy domain.Policy, now time.Time) ([]domain.ChatMember, error)
	ListKickCandidates(ctx context.Context, chatID int64, policy domain.Policy, now time.Time) ([]domain.ChatMember, error)
	MarkWarned(ctx context.Context, chatID int64, userIDs []int64, policy domain.Policy, now time.Time) (int64, error)
	MarkKicked(ctx context.Context, chatID, userID int64) error
}

// Sweeper runs the warn/kick decision pass across all chats.
type Sweeper struct {
	chats   chatLister
	members memberStore
	gateway Gateway
	logger  *logrus.Entry
}

// NewSweeper constructs a Sweeper.
func NewSweeper(chats chatLister, members memberStore, gateway Gateway, logger *logrus.Entry) *Sweeper {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Sweeper{
		chats:   chats,
		members: members,
		gateway: gateway,
		logger:  logger,
	}
}

// ChatResult records how one chat fared during a pass.
type ChatResult struct {
	ChatID         int64
	Warned         int
	Kicked         int
	KickFailures   int
	WarnSendFailed bool
	Err            error
}

// Failed reports whether anything in the chat's pass went wrong.
func (r ChatResult) Failed() bool {
	return r.Err != nil || r.WarnSendFailed || r.KickFailures > 0
}

// Report aggregates one full sweep pass.
type Report struct {
	SweepID string
	Chats   int
	Warned  int
	Kicked  int
	Failed  int
	Results []ChatResult
}

// Run executes one sweep pass at the given reference time. Chats are
// processed independently: a failure in one chat is recorded in its result
// and never aborts the others. Run only returns an error when the chat list
// itself cannot be read.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	if s == nil || s.chats == nil || s.members == nil || s.gateway == nil {
		return Report{}, errors.New("sweeper is not initialized")
	}
	if ctx == nil {
		return Report{}, errors.New("context is required")
	}

	report := Report{SweepID: uuid.NewString()}
	logger := s.logger.WithField("sweep_id", report.SweepID)

	logger.WithFields(logging.Fields{
		"event": "sweep_start",
		"now":   now.Format(time.RFC3339),
	}).Info("starting retention sweep")

	chats, err := s.chats.List(ctx)
	if err != nil {
		logger.WithField("event", "sweep_abort").WithError(err).Error("failed to list chats")
		return report, fmt.Errorf("list chats for sweep: %w", err)
	}

	for _, chat := range chats {
		result := s.sweepChat(ctx, logger, chat, now)

		report.Chats++
		report.Warned += result.Warned
		report.Kicked += result.Kicked
		if result.Failed() {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	logger.WithFields(logging.Fields{
		"event":  "sweep_complete",
		"chats":  report.Chats,
		"warned": report.Warned,
		"kicked": report.Kicked,
		"failed": report.Failed,
	}).Info("retention sweep complete")

	return report, nil
}

// sweepChat runs the warn phase, then the kick phase, for one chat. The warn
// phase must finish before the kick candidates are read because kick
// eligibility depends on warned_at having been recorded.
func (s *Sweeper) sweepChat(ctx context.Context, logger *logrus.Entry, chat domain.Chat, now time.Time) ChatResult {
	result := ChatResult{ChatID: chat.ChatID}
	policy := chat.Policy()
	chatLogger := logger.WithField("chat_id", chat.ChatID)

	if err := s.warnPhase(ctx, chatLogger, chat.ChatID, policy, now, &result); err != nil {
		result.Err = err
		chatLogger.WithField("event", "sweep_chat_error").WithError(err).Error("warn phase failed, skipping chat")
		return result
	}

	if err := s.kickPhase(ctx, chatLogger, chat.ChatID, policy, now, &result); err != nil {
		result.Err = err
		chatLogger.WithField("event", "sweep_chat_error").WithError(err).Error("kick phase failed")
	}

	return result
}

// warnPhase sends one warning message naming every warn candidate, then marks
// them warned. On a send failure nothing is marked, so the same warn set is
// reproduced next pass.
func (s *Sweeper) warnPhase(ctx context.Context, logger *logrus.Entry, chatID int64, policy domain.Policy, now time.Time, result *ChatResult) error {
	candidates, err := s.members.ListWarnCandidates(ctx, chatID, policy, now)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	sendErr := s.gateway.SendWarning(sendCtx, chatID, candidates)
	cancel()

	if sendErr != nil {
		result.WarnSendFailed = true
		logger.WithFields(logging.Fields{
			"event":      "warn_send_failed",
			"candidates": len(candidates),
		}).WithError(sendErr).Warn("warning message failed, members stay unwarned for retry next pass")
		return nil
	}

	userIDs := make([]int64, 0, len(candidates))
	for _, member := range candidates {
		userIDs = append(userIDs, member.UserID)
	}

	// The mark re-checks eligibility in its filter: members who became
	// active between the candidate read and this write are left unwarned.
	marked, err := s.members.MarkWarned(ctx, chatID, userIDs, policy, now)
	if err != nil {
		return err
	}

	result.Warned = int(marked)
	logger.WithFields(logging.Fields{
		"event":      "members_warned",
		"candidates": len(candidates),
		"marked":     marked,
	}).Info("warned inactive members")

	return nil
}

// kickPhase removes each warned member still past the full window. Failures
// are isolated per member: a failed removal is logged and skipped, leaving
// the member's state unchanged for the next pass.
func (s *Sweeper) kickPhase(ctx context.Context, logger *logrus.Entry, chatID int64, policy domain.Policy, now time.Time, result *ChatResult) error {
	candidates, err := s.members.ListKickCandidates(ctx, chatID, policy, now)
	if err != nil {
		return err
	}

	for _, member := range candidates {
		memberLogger := logger.WithField("user_id", member.UserID)

		removeCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
		removeErr := s.gateway.Remove(removeCtx, chatID, member.UserID)
		cancel()

		if removeErr != nil {
			result.KickFailures++
			memberLogger.WithField("event", "kick_failed").WithError(removeErr).Warn("removal failed, member retried next pass")
			continue
		}

		if err := s.members.MarkKicked(ctx, chatID, member.UserID); err != nil {
			result.KickFailures++
			memberLogger.WithField("event", "kick_record_failed").WithError(err).Error("removal succeeded but recording role failed")
			continue
		}

		result.Kicked++
		memberLogger.WithField("event", "member_kicked").Info("removed inactive member")
	}

	return nil
}
