package bot

import (
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"checkin-bot/internal/balance"
)

// Reply keyboard labels. Incoming text is matched against them exactly.
const (
	ButtonProfile      = "🛠️ PROFILE"
	ButtonDailyBonus   = "🎉 CLAIM DAILY BONUS"
	ButtonReferral     = "🔗 REFERRAL"
	ButtonBalance      = "BALANCE 💰"
	ButtonMore         = "➕ MORE"
	ButtonCommunity    = "💰 COMMUNITY BONUS"
	ButtonSwap         = "SWAP 🔄"
	ButtonMainBack     = "🔙 BACK"
	ButtonCheckinToTon = "CHECKIN 🔄 TON"
	ButtonTonToCheckin = "TON 🔄 CHECKIN"
	ButtonTopup        = "TOPUP TON 💎"
	ButtonSetWallet    = "SET TON 💎 WALLET"
	ButtonSwapBack     = "BACK 🔙"
	ButtonWithdraw     = "WITHDRAW TON 💎"
)

func mainKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(ButtonProfile)),
		tu.KeyboardRow(tu.KeyboardButton(ButtonDailyBonus), tu.KeyboardButton(ButtonReferral)),
		tu.KeyboardRow(tu.KeyboardButton(ButtonBalance), tu.KeyboardButton(ButtonMore)),
	).WithResizeKeyboard()
}

func moreKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(ButtonCommunity), tu.KeyboardButton(ButtonSwap)),
		tu.KeyboardRow(tu.KeyboardButton(ButtonMainBack)),
	).WithResizeKeyboard()
}

func swapKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(ButtonCheckinToTon), tu.KeyboardButton(ButtonTonToCheckin)),
		tu.KeyboardRow(tu.KeyboardButton(ButtonTopup), tu.KeyboardButton(ButtonSetWallet)),
		tu.KeyboardRow(tu.KeyboardButton(ButtonSwapBack), tu.KeyboardButton(ButtonWithdraw)),
	).WithResizeKeyboard()
}

// Step is one screen of the onboarding sequence.
type Step struct {
	Text   string
	Button string
	URL    string
	Next   string
}

// Links are the external pages the onboarding steps point at.
type Links struct {
	Community string
	Channel   string
	Twitter   string
}

func onboardingSteps(l Links) []Step {
	return []Step{
		{Text: "STEP 1️⃣ OF 3️⃣\n\n📍Kindly Join CheckIn Community:", Button: "Join Community", URL: l.Community, Next: cbJoinedCommunity},
		{Text: "STEP 2️⃣ OF 3️⃣\n\n📍Now, Join CheckIn Telegram Channel:", Button: "Join Channel", URL: l.Channel, Next: cbJoinedChannel},
		{Text: "STEP 3️⃣ OF 3️⃣\n\n📍Finally, Follow Us On Twitter:", Button: "Follow on Twitter", URL: l.Twitter, Next: cbFollowedTwitter},
	}
}

func stepKeyboard(s Step) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(s.Button).WithURL(s.URL),
			tu.InlineKeyboardButton("Next🟢").WithCallbackData(s.Next),
		),
	)
}

func continueKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("Continue").WithCallbackData(cbContinue)),
	)
}

func retryKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("Retry Steps").WithCallbackData(cbRetrySteps)),
	)
}

func confirmKeyboard(yes, no string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Yes ✅").WithCallbackData(yes),
			tu.InlineKeyboardButton("No ❌").WithCallbackData(no),
		),
	)
}

func depositKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("I have sent ✅").WithCallbackData(cbDepositSent)),
	)
}

// tierKeyboard lists the withdrawal tiers three per row, with a cancel row.
func tierKeyboard(requestID string) *telego.InlineKeyboardMarkup {
	var rows [][]telego.InlineKeyboardButton
	var row []telego.InlineKeyboardButton
	for _, tier := range balance.WithdrawalTiers {
		row = append(row, tu.InlineKeyboardButton(fmt.Sprintf("%s TON", tier)).WithCallbackData(tierData(requestID, tier)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("Cancel ❌").WithCallbackData(cbWithdrawNo+requestID),
	))
	return tu.InlineKeyboard(rows...)
}
