package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/money"
)

const (
	cbContinue        = "continue"
	cbJoinedCommunity = "joined_community"
	cbJoinedChannel   = "joined_channel"
	cbFollowedTwitter = "followed_twitter"
	cbRetrySteps      = "retry_steps"
	cbDepositSent     = "deposit_sent"

	// Prefixes followed by a request id.
	cbConvertYes   = "conv_yes:"
	cbConvertNo    = "conv_no:"
	cbWithdrawYes  = "wd_yes:"
	cbWithdrawNo   = "wd_no:"
	cbWithdrawTier = "wd_tier:"
)

// stepIndex maps the onboarding callbacks to the next step to show. Past the
// last step the membership evaluation runs.
var stepIndex = map[string]int{
	cbContinue:        0,
	cbRetrySteps:      0,
	cbJoinedCommunity: 1,
	cbJoinedChannel:   2,
	cbFollowedTwitter: 3,
}

// requestAction is a parsed callback that refers to a staged request.
type requestAction struct {
	Prefix    string
	RequestID string
	Tier      money.Amount
}

func tierData(requestID string, tier money.Amount) string {
	return fmt.Sprintf("%s%s:%d", cbWithdrawTier, requestID, tier.Whole())
}

func parseRequestAction(data string) (requestAction, error) {
	for _, prefix := range []string{cbConvertYes, cbConvertNo, cbWithdrawYes, cbWithdrawNo, cbWithdrawTier} {
		rest, ok := strings.CutPrefix(data, prefix)
		if !ok {
			continue
		}
		a := requestAction{Prefix: prefix, RequestID: rest}
		if prefix == cbWithdrawTier {
			id, n, ok := strings.Cut(rest, ":")
			if !ok {
				return requestAction{}, ledger.ErrInvalidFormat
			}
			coins, err := strconv.ParseInt(n, 10, 64)
			if err != nil || coins <= 0 {
				return requestAction{}, ledger.ErrInvalidFormat
			}
			a.RequestID = id
			a.Tier = money.Coins(coins)
		}
		if _, err := uuid.Parse(a.RequestID); err != nil {
			return requestAction{}, ledger.ErrInvalidFormat
		}
		return a, nil
	}
	return requestAction{}, ledger.ErrInvalidFormat
}

// parseStartReferrer reads the deep-link payload of "/start <id>". Anything
// that is not a positive user id means no referrer.
func parseStartReferrer(text string) int64 {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// parseRecordID reads "/command <id>".
func parseRecordID(text string) (uint, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, ledger.ErrInvalidFormat
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil || id == 0 {
		return 0, ledger.ErrInvalidFormat
	}
	return uint(id), nil
}
