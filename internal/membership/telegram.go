package membership

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"checkin-bot/internal/ledger"
)

// TelegramChecker asks the Bot API for the user's status in a chat. The bot
// must be a member of the chat for getChatMember to answer.
type TelegramChecker struct {
	bot *telego.Bot
}

func NewTelegramChecker(bot *telego.Bot) *TelegramChecker {
	return &TelegramChecker{bot: bot}
}

// chatID accepts "@username" or a numeric chat id.
func chatID(group string) telego.ChatID {
	if id, err := strconv.ParseInt(group, 10, 64); err == nil {
		return tu.ID(id)
	}
	return tu.Username(group)
}

func (c *TelegramChecker) IsMember(ctx context.Context, group string, userID int64) (bool, error) {
	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: chatID(group),
		UserID: userID,
	})
	if err != nil {
		return false, fmt.Errorf("get chat member %s: %w: %v", group, ledger.ErrCollaboratorUnavailable, err)
	}
	return IsMemberStatus(member.MemberStatus()), nil
}

func IsMemberStatus(status string) bool {
	switch status {
	case telego.MemberStatusCreator, telego.MemberStatusAdministrator, telego.MemberStatusMember:
		return true
	}
	return false
}
