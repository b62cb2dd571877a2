// Package game implements the casino round lifecycle: stake debit, fairness
// resolution, payout settlement. Each game variant plugs in as a Resolver;
// the engine owns the shared placed -> resolved -> settled pipeline and the
// timeout refund path.
package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a game variant.
type Kind string

const (
	Dice      Kind = "dice"
	Coinflip  Kind = "coinflip"
	Blackjack Kind = "blackjack"
	Roulette  Kind = "roulette"
	Limbo     Kind = "limbo"
	Keno      Kind = "keno"
	Hilo      Kind = "hilo"
	Slots     Kind = "slots"
	Wheel     Kind = "wheel"
	Mines     Kind = "mines"
	TicTacToe Kind = "tictactoe"
)

// RoundState is the round lifecycle position.
type RoundState uint8

const (
	// StatePlaced: stake debited, outcome not yet resolved.
	StatePlaced RoundState = iota
	// StateResolved: outcome and payout fixed, payout not yet credited.
	StateResolved
	// StateSettled: payout credited (or zero); terminal.
	StateSettled
	// StateRefunded: abandoned before resolution, stake returned; terminal.
	StateRefunded
)

func (s RoundState) String() string {
	switch s {
	case StatePlaced:
		return "placed"
	case StateResolved:
		return "resolved"
	case StateSettled:
		return "settled"
	case StateRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// ParseRoundState maps a stored state string back to its RoundState.
func ParseRoundState(s string) (RoundState, error) {
	switch s {
	case "placed":
		return StatePlaced, nil
	case "resolved":
		return StateResolved, nil
	case "settled":
		return StateSettled, nil
	case "refunded":
		return StateRefunded, nil
	default:
		return 0, fmt.Errorf("game: unknown round state %q", s)
	}
}

// Params carries the player's per-game choices. Unused fields stay zero.
type Params struct {
	Target     int    `json:"target,omitempty"`      // dice: win when roll <= target
	Pick       string `json:"pick,omitempty"`        // coinflip face, hilo direction, roulette bet
	TargetX100 int64  `json:"target_x100,omitempty"` // limbo: multiplier in hundredths
	Picks      []int  `json:"picks,omitempty"`       // keno numbers
	MinePicks  int    `json:"mine_picks,omitempty"`  // mines: cells to uncover
}

// Round is one bet from placement to settlement. Immutable once settled
// or refunded; kept forever for fairness audits.
type Round struct {
	ID         uuid.UUID
	Account    uuid.UUID
	Game       Kind
	StakeMQC   int64
	Params     Params
	State      RoundState
	SeedPairID uuid.UUID
	SeedHash   string
	ClientSeed string
	Nonce      int64
	Outcome    uint64 // primary 52-bit fairness value
	Win        bool
	Push       bool
	PayoutMQC  int64
	Detail     map[string]interface{} // per-game display data (roll, cards, pockets)
	CreatedAt  time.Time
	SettledAt  *time.Time
}

// Result is what callers get back from a settled bet.
type Result struct {
	RoundID      uuid.UUID              `json:"round_id"`
	Game         Kind                   `json:"game"`
	StakeMQC     int64                  `json:"stake_mqc"`
	PayoutMQC    int64                  `json:"payout_mqc"`
	Win          bool                   `json:"win"`
	Push         bool                   `json:"push"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	BalanceAfter int64                  `json:"balance_after"`
	SeedHash     string                 `json:"server_seed_hash"`
	ClientSeed   string                 `json:"client_seed"`
	Nonce        int64                  `json:"nonce"`
	Outcome      uint64                 `json:"outcome"`
}
