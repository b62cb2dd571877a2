package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry
type EntryKind uint8

const (
	KindDeposit EntryKind = iota
	KindWithdrawal
	KindBet
	KindPayout
	KindTip
	KindAirdrop
)

func (k EntryKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindBet:
		return "bet"
	case KindPayout:
		return "payout"
	case KindTip:
		return "tip"
	case KindAirdrop:
		return "airdrop"
	default:
		return "unknown"
	}
}

// ParseEntryKind maps a stored kind string back to its EntryKind.
func ParseEntryKind(s string) (EntryKind, error) {
	switch s {
	case "deposit":
		return KindDeposit, nil
	case "withdrawal":
		return KindWithdrawal, nil
	case "bet":
		return KindBet, nil
	case "payout":
		return KindPayout, nil
	case "tip":
		return KindTip, nil
	case "airdrop":
		return KindAirdrop, nil
	default:
		return 0, fmt.Errorf("ledger: unknown entry kind %q", s)
	}
}

// Entry is one immutable ledger record. Entries are append-only; the
// account balance equals the sum of Delta over all its entries, and
// BalanceAfter snapshots that sum at commit time for auditing.
//
// (Kind, Correlation) is unique per account: replaying an operation with
// a correlation already recorded is rejected rather than applied twice.
type Entry struct {
	ID           uuid.UUID
	Seq          int64 // store-assigned, monotonic, used as pagination cursor
	Account      uuid.UUID
	Delta        int64 // mQC, signed
	Kind         EntryKind
	Correlation  string
	BalanceAfter int64
	CreatedAt    time.Time
}

// EntryPage is a cursor-paginated slice of entries, newest first.
// NextCursor is zero when no older entries remain.
type EntryPage struct {
	Entries    []Entry
	NextCursor int64
}
