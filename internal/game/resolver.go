package game

import (
	"QuantaCasino/internal/fairness"
)

// houseEdgeOver100: winnings are paid at 99/100 of the gross multiplier.
const (
	edgeNum = 99
	edgeDen = 100
)

// Resolution is a resolver's verdict for one round. PayoutMQC is the full
// amount credited back to the player (stake included when it returns).
type Resolution struct {
	Win       bool
	Push      bool
	PayoutMQC int64
	Detail    map[string]interface{}
}

// Resolver is the per-game rule set. Resolve must be a pure function of
// the draw, the stake and the params: no clocks, no randomness of its own,
// so that a revealed seed reproduces the round bit for bit.
type Resolver interface {
	Kind() Kind
	ValidateParams(p Params) error
	Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error)
}

// payout applies the house edge to a gross multiplier expressed in
// hundredths (centiMult 200 = 2.00x): stake * centi * 99 / 10000, floored.
func payout(stakeMQC, centiMult int64) int64 {
	return stakeMQC * centiMult * edgeNum / (edgeDen * 100)
}

// lost is the common losing resolution.
func lost(detail map[string]interface{}) Resolution {
	return Resolution{Detail: detail}
}

// builtinResolvers returns one resolver per house-banked game. Tic-tac-toe
// is player-versus-player and runs through the match flow instead.
func builtinResolvers() []Resolver {
	return []Resolver{
		diceResolver{},
		coinflipResolver{},
		blackjackResolver{},
		rouletteResolver{},
		limboResolver{},
		kenoResolver{},
		hiloResolver{},
		slotsResolver{},
		wheelResolver{},
		minesResolver{},
	}
}
