package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"checkin-bot/internal/balance"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

const (
	msgChooseOption   = "👇 Choose an option below 👇"
	msgGenericFailure = "Sorry, there was an error. Try again later."
	msgRateLimited    = "Slow down a little, please try again in a moment."
	msgDepositSaved   = "Transaction verification request submitted successfully.\n\nKindly wait up to 8 hours for the admin to verify your transaction."
	msgWalletSaved    = "TON wallet address updated successfully."
	msgCancelled      = "Transaction cancelled."
	msgProcessingTon  = "Please wait while we are converting your CheckIn to TON."
	msgProcessingPts  = "Please wait while we are converting your TON to CheckIn."
	msgAlmostDone     = "Hold on, almost done!"
	msgPickTier       = "Please select the TON amount to withdraw"

	proofTemplate  = "VERIFYTRANSACTION\nTransaction Hash:\n<hash>\nAmount:\n<amount>"
	walletTemplate = "SETTONWALLET\n<your TON wallet address>"
)

const intro = "CheckIn is a platform that provides users with various ways to earn. " +
	"Here's how you can earn on CheckIn:\n\n" +
	"1. Claim a bonus every 24 hours.\n" +
	"2. Refer new users and earn %d CheckIn Tokens each.\n" +
	"3. Claim a one-time %d CheckIn Token bonus after joining our community and channel."

// Texts renders user facing replies. Rate is the display rate of one point in TON.
type Texts struct {
	BotUsername    string
	DepositAddress string
	CommunityGroup string
	Rate           decimal.Decimal
}

func (t Texts) approxTon(points int64) string {
	return decimal.NewFromInt(points).Mul(t.Rate).StringFixed(2)
}

func (t Texts) ReferralLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", t.BotUsername, userID)
}

func (t Texts) Welcome(firstName string, referrerID *int64, referralPoints, startupPoints int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s", firstName)
	if referrerID != nil {
		fmt.Fprintf(&b, ", referred by %d", *referrerID)
	}
	b.WriteString(",\n\n")
	fmt.Fprintf(&b, intro, referralPoints, startupPoints)
	b.WriteString("\n\nReady to proceed? Click continue below 👇")
	return b.String()
}

func (t Texts) WelcomeBack(name string, referralPoints, startupPoints int64) string {
	return fmt.Sprintf("Dear %s, you already have an account.\n\n"+intro+"\n\nBelow are the available options for you 👇",
		name, referralPoints, startupPoints)
}

func (t Texts) Profile(acc *models.Account) string {
	return fmt.Sprintf("Your Profile Details:\n\n"+
		"👤 Name: %s %s\n"+
		"🆔 User ID: %d\n"+
		"💰 CheckIn Balance: %d CheckIn Tokens (≈%s TON)\n"+
		"💎 TON Balance: %s TON\n"+
		"👥 Referrals: %d\n"+
		"🔗 Referral Link: %s",
		acc.FirstName, acc.LastName, acc.UserID,
		acc.PointBalance, t.approxTon(acc.PointBalance),
		acc.CryptoBalance, acc.DownlineCount, t.ReferralLink(acc.UserID))
}

func (t Texts) Balance(acc *models.Account) string {
	return fmt.Sprintf("Your current balance is: %d CheckIn Tokens (≈%s TON)\nTON Balance: %s TON",
		acc.PointBalance, t.approxTon(acc.PointBalance), acc.CryptoBalance)
}

func (t Texts) Referral(userID int64, referralPoints, startupPoints int64) string {
	return fmt.Sprintf("🔥 CheckIn Airdrop Is Live!\n\n🎁 Joining Reward: %d CheckIn Tokens\n\n"+
		"👨‍👨‍👦 Per Refer: %d CheckIn Tokens\n\n🔗 Your Referral Link: %s",
		startupPoints, referralPoints, t.ReferralLink(userID))
}

func (t Texts) DailyBonus(points int64) string {
	return fmt.Sprintf("Congratulations🎉! You have claimed your daily bonus of %d CheckIn Tokens.", points)
}

func (t Texts) CommunityHowTo() string {
	return fmt.Sprintf("To claim this bonus, kindly send /CheckIn in this group: %s\n\nYou can claim this bonus every hour.", t.CommunityGroup)
}

func (t Texts) CommunityClaimed(username string, points int64) string {
	return fmt.Sprintf("👋 Hello @%s! You just claimed %d CheckIn Tokens from %s", username, points, t.CommunityGroup)
}

func (t Texts) ConfirmPointsToCrypto() string {
	return fmt.Sprintf("Are you sure you want to convert your CheckIn to TON? Clicking Yes will deduct %d CheckIn Tokens "+
		"from your balance and credit %s TON.", balance.PointsToCryptoCost, balance.PointsToCryptoCredit)
}

func (t Texts) ConfirmCryptoToPoints(acc *models.Account) string {
	return fmt.Sprintf("Are you sure you want to convert your TON to CheckIn? Clicking Yes will deduct %s TON "+
		"from your balance and credit %d CheckIn Tokens.\n\nCURRENT TON BALANCE: %s TON\nCURRENT CHECKIN BALANCE: %d CheckIn",
		balance.CryptoToPointsCost, balance.CryptoToPointsCredit, acc.CryptoBalance, acc.PointBalance)
}

func (t Texts) Converted(kind balance.Kind, acc *models.Account) string {
	if kind == balance.KindPointsToCrypto {
		return fmt.Sprintf("Congratulations! Your TON has been credited.\n\nTON Balance: %s TON", acc.CryptoBalance)
	}
	return fmt.Sprintf("Congratulations! Your CheckIn has been credited.\n\nCheckIn Balance: %d CheckIn Tokens", acc.PointBalance)
}

func (t Texts) Topup(acc *models.Account) string {
	return fmt.Sprintf("Your TON Balance: %s TON\n\n"+
		"To top up your TON, kindly send TON to the address below and you will be credited after verification:\n%s\n\n"+
		"After sending, kindly send the transaction hash here in this format:\n\n%s",
		acc.CryptoBalance, t.DepositAddress, proofTemplate)
}

func (t Texts) ProofHowTo() string {
	return "Please send your transaction hash here in this format:\n\n" + proofTemplate
}

func (t Texts) WalletHowTo() string {
	return "Kindly update your TON wallet address by sending it in this format:\n\n" + walletTemplate
}

func (t Texts) ConfirmWithdrawal(acc *models.Account) string {
	return fmt.Sprintf("Are you sure you want to withdraw your TON into this wallet address?\n%s\n\nCURRENT TON BALANCE: %s TON",
		acc.WalletAddress, acc.CryptoBalance)
}

func (t Texts) WithdrawalSubmitted(rec *models.TransactionRecord, acc *models.Account) string {
	return fmt.Sprintf("WITHDRAWAL REQUEST SUBMITTED.\n\nAmount: %s TON\nWallet: %s\nReference: %s\n\nRemaining TON Balance: %s TON",
		rec.Amount, rec.Wallet, rec.Reference, acc.CryptoBalance)
}

func (t Texts) Verified(name string, points int64) string {
	return fmt.Sprintf("Welcome %s!\n\nYou have been verified and your account has been credited with %d CheckIn Tokens.\n\n"+
		"Explore more to earn additional rewards!", name, points)
}

func (t Texts) StepsIncomplete(name string) string {
	return fmt.Sprintf("Hello %s\n\nYou need to join both the community and channel to receive the rewards. Please complete the steps.", name)
}

func (t Texts) AlreadyRewarded() string {
	return "You have already received your reward."
}

func pendingList(recs []*models.TransactionRecord) string {
	if len(recs) == 0 {
		return "No pending deposits."
	}
	var b strings.Builder
	b.WriteString("PENDING DEPOSITS\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "\n#%d user %d: %s TON\n%s\n/approve_deposit %d  /reject_deposit %d\n",
			r.ID, r.UserID, r.Amount, r.Reference, r.ID, r.ID)
	}
	return b.String()
}

// depositExistsText answers a proof whose reference was already submitted.
func depositExistsText(rec *models.TransactionRecord) string {
	return fmt.Sprintf("Transaction already exists.\n\nStatus: %s\nTransaction Hash: %s\nAmount: %s TON",
		rec.Status, rec.Reference, rec.Amount)
}

func resolvedText(rec *models.TransactionRecord) string {
	return fmt.Sprintf("%s #%d is now %s (%s TON, user %d).", rec.Kind, rec.ID, rec.Status, rec.Amount, rec.UserID)
}

// errorMessage turns a domain error into the reply shown to the user.
func errorMessage(err error) string {
	var ie *ledger.InsufficientError
	if errors.As(err, &ie) {
		switch ie.Floor {
		case ledger.FloorPoints:
			return fmt.Sprintf("You need at least %d CheckIn Tokens to swap.\n\nCURRENT BALANCE: %d CheckIn Tokens", ie.Need, ie.Have)
		case ledger.FloorDownlines:
			return fmt.Sprintf("You need at least %d downlines before you can swap CheckIn to TON.", ie.Need)
		case ledger.FloorCryptoHoldings:
			return fmt.Sprintf("Sorry! A minimum of %s TON should be available in your wallet before swapping. Kindly deposit more TON.", money.Amount(ie.Need))
		case ledger.FloorWithdrawalMinimum:
			return fmt.Sprintf("You need at least %s TON to withdraw.", money.Amount(ie.Need))
		case ledger.FloorCrypto:
			return fmt.Sprintf("Sorry, you don't have enough TON. You need %s TON.", money.Amount(ie.Need))
		}
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return "You need to create an account first. Send /start to begin."
	case errors.Is(err, ledger.ErrAlreadyClaimedToday):
		return "You have already claimed your daily bonus. Please try again tomorrow."
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return "You have already received your reward."
	case errors.Is(err, balance.ErrCooldown):
		return "You can claim this bonus once every hour. Please try again later."
	case errors.Is(err, balance.ErrWalletNotSet):
		return "Kindly set your TON wallet address first."
	case errors.Is(err, balance.ErrInvalidTier):
		return "Please pick one of the listed amounts."
	case errors.Is(err, balance.ErrInvalidState):
		return "This request has expired or was already handled."
	case errors.Is(err, ledger.ErrDuplicateReference):
		return "Transaction already exists."
	case errors.Is(err, ledger.ErrInvalidFormat):
		return "Invalid format. Please send it exactly in the requested format."
	case errors.Is(err, ledger.ErrSelfReferral), errors.Is(err, ledger.ErrReferralCycle):
		return "This referral link cannot be used for your account."
	case errors.Is(err, ledger.ErrForbidden):
		return "This command is for admins only."
	case errors.Is(err, ledger.ErrAlreadyResolved):
		return "This transaction was already resolved."
	}
	return msgGenericFailure
}

// requestErrorMessage is errorMessage for callbacks on staged requests, where
// a missing request means it expired.
func requestErrorMessage(err error) string {
	if errors.Is(err, ledger.ErrNotFound) {
		return errorMessage(balance.ErrInvalidState)
	}
	return errorMessage(err)
}
