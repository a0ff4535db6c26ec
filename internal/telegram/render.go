package telegram

import (
	"fmt"
	"strings"
	"time"

	"tg_ghost_buster_bot/internal/domain"
)

// maxMessageLength keeps rendered messages safely under Telegram's 4096-char
// limit, leaving headroom for HTML markup.
const maxMessageLength = 3500

const helpText = `👋 <b>Ghost Buster Bot</b>
Tracks member activity and removes members who go silent.

• Messages and reactions count as activity
• A warning is posted one day before removal
• New members get a grace period after joining

<b>Admin commands</b>
/set_window N — activity window in days (7-365)
/preview — members with their projected removal date
/protect @username — exempt a member from removal
/unprotect @username — lift the exemption
/status — bot permissions check (needs can_restrict_members)`

func htmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// mention renders an inline-mention link that notifies the user even without
// a public username.
func mention(member domain.ChatMember) string {
	name := member.DisplayName
	if name == "" && member.Username != "" {
		name = "@" + member.Username
	}
	if name == "" {
		name = fmt.Sprintf("id%d", member.UserID)
	}

	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, member.UserID, htmlEscape(name))
}

// warningMessages renders the chat-wide removal warning, split into chunks
// when the mention list is long.
func warningMessages(members []domain.ChatMember) []string {
	mentions := make([]string, 0, len(members))
	for _, member := range members {
		mentions = append(mentions, mention(member))
	}

	header := "⚠️ <b>Inactivity warning</b>\n" +
		"The following members will be removed tomorrow: %s.\n" +
		"Send a message or add a reaction today to stay."

	var messages []string
	var batch []string
	batchLen := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		messages = append(messages, fmt.Sprintf(header, strings.Join(batch, ", ")))
		batch = nil
		batchLen = 0
	}

	for _, m := range mentions {
		if batchLen+len(m) > maxMessageLength && len(batch) > 0 {
			flush()
		}
		batch = append(batch, m)
		batchLen += len(m) + 2
	}
	flush()

	return messages
}

// previewMessages renders the roster with each member's projected removal
// date, chunked under the message size limit.
func previewMessages(members []domain.ChatMember, policy domain.Policy) []string {
	header := fmt.Sprintf("📋 <b>Removal preview</b>\nWindow: <b>%d d</b>, grace: <b>%d d</b>\nTracked: <b>%d</b>\n",
		policy.WindowDays, policy.GraceDays, len(members))

	lines := make([]string, 0, len(members))
	for _, member := range members {
		lines = append(lines, previewLine(member, policy))
	}

	return chunkLines(header, lines)
}

func previewLine(member domain.ChatMember, policy domain.Policy) string {
	name := mention(member)
	if member.Username != "" {
		name = "@" + htmlEscape(member.Username)
	}

	status := "no data"
	if member.Protected() {
		status = "protected"
	} else if projected := policy.ProjectedRemoval(member); projected != nil {
		status = formatDate(*projected)
	}

	return fmt.Sprintf("• 👤 %s — 🗓 %s", name, status)
}

// chunkLines joins lines under the header, starting a new message whenever
// the running length would exceed the limit.
func chunkLines(header string, lines []string) []string {
	var messages []string
	acc := header + "\n"

	for _, line := range lines {
		if len(acc)+len(line)+1 > maxMessageLength {
			messages = append(messages, strings.TrimRight(acc, "\n"))
			acc = ""
		}
		acc += line + "\n"
	}
	if strings.TrimSpace(acc) != "" {
		messages = append(messages, strings.TrimRight(acc, "\n"))
	}

	return messages
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
