package notify

import (
	"fmt"
	"strings"
	"time"

	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

// Notification describes a deposit submission or a withdrawal request for the
// admins who settle it by hand.
type Notification struct {
	Kind      models.TransactionKind
	RecordID  uint
	UserID    int64
	Username  string
	Reference string
	Amount    money.Amount
	Wallet    string
	At        time.Time
}

func (n Notification) Text() string {
	var b strings.Builder
	switch n.Kind {
	case models.KindDeposit:
		b.WriteString("📥 New TON deposit claim\n\n")
	case models.KindWithdrawal:
		b.WriteString("📤 New TON withdrawal request\n\n")
	default:
		fmt.Fprintf(&b, "New %s\n\n", strings.ToLower(string(n.Kind)))
	}
	fmt.Fprintf(&b, "Record: #%d\n", n.RecordID)
	if n.Username != "" {
		fmt.Fprintf(&b, "User: @%s (%d)\n", n.Username, n.UserID)
	} else {
		fmt.Fprintf(&b, "User: %d\n", n.UserID)
	}
	fmt.Fprintf(&b, "Amount: %s TON\n", n.Amount)
	if n.Kind == models.KindDeposit {
		fmt.Fprintf(&b, "Transaction Hash: %s\n", n.Reference)
	} else {
		fmt.Fprintf(&b, "Reference: %s\n", n.Reference)
	}
	if n.Wallet != "" {
		fmt.Fprintf(&b, "Wallet: %s\n", n.Wallet)
	}
	fmt.Fprintf(&b, "Time: %s\n", n.At.UTC().Format(time.RFC3339))

	switch n.Kind {
	case models.KindDeposit:
		fmt.Fprintf(&b, "\n/approve_deposit %d\n/reject_deposit %d", n.RecordID, n.RecordID)
	case models.KindWithdrawal:
		fmt.Fprintf(&b, "\n/approve_withdrawal %d\n/reject_withdrawal %d", n.RecordID, n.RecordID)
	}
	return b.String()
}
