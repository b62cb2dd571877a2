package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountKind represents the account namespace
type AccountKind uint8

const (
	// AccountUser is a player balance account
	AccountUser AccountKind = iota

	// AccountHouse is the operator account that banks game flow
	AccountHouse

	// AccountReserve holds funds set aside for promotions and airdrops
	AccountReserve
)

func (k AccountKind) String() string {
	switch k {
	case AccountUser:
		return "user"
	case AccountHouse:
		return "house"
	case AccountReserve:
		return "reserve"
	default:
		return "unknown"
	}
}

// ParseAccountKind maps a stored kind string back to its AccountKind.
func ParseAccountKind(s string) (AccountKind, error) {
	switch s {
	case "user":
		return AccountUser, nil
	case "house":
		return AccountHouse, nil
	case "reserve":
		return AccountReserve, nil
	default:
		return 0, fmt.Errorf("ledger: unknown account kind %q", s)
	}
}

// Account is a balance-holding entity. Balance is int64 mQC and is only
// ever mutated through Store.ApplyEntry / Store.ApplyTransfer, never
// written directly.
type Account struct {
	ID        uuid.UUID
	Kind      AccountKind
	Balance   int64 // mQC
	Version   int64 // bumped on every balance mutation
	CreatedAt time.Time
}

// Unit conversions. Balances are stored in mQC (milli-QC), the smallest
// internal unit. The peg is 1 QC = 0.001 SOL, so 1 mQC = 1000 lamports.
const (
	MQCPerQC       = 1_000
	LamportsPerMQC = 1_000
	LamportsPerSOL = 1_000_000_000
	MQCPerSOL      = LamportsPerSOL / LamportsPerMQC
)

// LamportsToMQC converts an on-chain lamport amount to mQC, discarding
// dust below one mQC. The boolean reports whether the conversion was exact.
func LamportsToMQC(lamports int64) (int64, bool) {
	return lamports / LamportsPerMQC, lamports%LamportsPerMQC == 0
}

// MQCToLamports converts an internal mQC amount to lamports. Always exact.
func MQCToLamports(mqc int64) int64 {
	return mqc * LamportsPerMQC
}
