package game

import (
	"fmt"
	"strconv"

	"QuantaCasino/internal/fairness"
)

// European wheel red pockets. 0 is green; everything else not red is black.
var redPockets = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// rouletteResolver: single-zero wheel, pocket = outcome % 37. Even-money
// bets (red/black/even/odd) pay 2x gross and always lose on zero; a
// straight number bet 0..36 pays 36x gross.
type rouletteResolver struct{}

func (rouletteResolver) Kind() Kind { return Roulette }

func (rouletteResolver) ValidateParams(p Params) error {
	switch p.Pick {
	case "red", "black", "even", "odd":
		return nil
	}
	n, err := strconv.Atoi(p.Pick)
	if err != nil || n < 0 || n > 36 {
		return fmt.Errorf("%w: roulette bet must be red/black/even/odd or 0..36", ErrInvalidParams)
	}
	return nil
}

func (rouletteResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	pocket := int(d.Outcome % 37)

	color := "green"
	if redPockets[pocket] {
		color = "red"
	} else if pocket != 0 {
		color = "black"
	}
	parity := "zero"
	if pocket != 0 {
		if pocket%2 == 0 {
			parity = "even"
		} else {
			parity = "odd"
		}
	}

	detail := map[string]interface{}{
		"pocket": pocket,
		"color":  color,
		"parity": parity,
		"pick":   p.Pick,
	}

	var win bool
	var centi int64
	switch p.Pick {
	case "red", "black":
		win, centi = p.Pick == color, 200
	case "even", "odd":
		win, centi = p.Pick == parity, 200
	default:
		n, _ := strconv.Atoi(p.Pick)
		win, centi = n == pocket, 3600
	}

	if !win {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, centi),
		Detail:    detail,
	}, nil
}
