package bot

import (
	"strings"

	"checkin-bot/internal/account"
	"checkin-bot/internal/deposit"
)

type action int

const (
	actNone action = iota
	actProfile
	actDailyBonus
	actReferral
	actBalance
	actMore
	actCommunity
	actSwap
	actMainBack
	actPointsToCrypto
	actCryptoToPoints
	actTopup
	actSetWallet
	actSwapBack
	actWithdraw
	actDepositProof
	actWalletCommand
	actAdmin
)

var buttons = map[string]action{
	ButtonProfile:      actProfile,
	ButtonDailyBonus:   actDailyBonus,
	ButtonReferral:     actReferral,
	ButtonBalance:      actBalance,
	ButtonMore:         actMore,
	ButtonCommunity:    actCommunity,
	ButtonSwap:         actSwap,
	ButtonMainBack:     actMainBack,
	ButtonCheckinToTon: actPointsToCrypto,
	ButtonTonToCheckin: actCryptoToPoints,
	ButtonTopup:        actTopup,
	ButtonSetWallet:    actSetWallet,
	ButtonSwapBack:     actSwapBack,
	ButtonWithdraw:     actWithdraw,
}

var adminCommands = map[string]bool{
	"pending":            true,
	"approve_deposit":    true,
	"reject_deposit":     true,
	"approve_withdrawal": true,
	"reject_withdrawal":  true,
	"reset_daily":        true,
}

// route decides what a private text message asks for.
func route(text string) action {
	if a, ok := buttons[strings.TrimSpace(text)]; ok {
		return a
	}
	trimmed := strings.TrimSpace(text)
	switch {
	case deposit.IsProof(trimmed):
		return actDepositProof
	case account.IsWalletCommand(trimmed):
		return actWalletCommand
	case adminCommands[commandOf(trimmed)]:
		return actAdmin
	}
	return actNone
}

// commandOf returns the lower-cased command name of "/name@bot args", or "".
func commandOf(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

// isCheckInCommand matches the community bonus command sent in the group.
func isCheckInCommand(text string) bool {
	return commandOf(strings.TrimSpace(text)) == "checkin"
}
