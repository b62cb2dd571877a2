package game

import (
	"fmt"

	"QuantaCasino/internal/fairness"
)

// coinflipResolver: even outcome is heads, odd is tails. Wins pay 2x gross.
type coinflipResolver struct{}

func (coinflipResolver) Kind() Kind { return Coinflip }

func (coinflipResolver) ValidateParams(p Params) error {
	if p.Pick != "heads" && p.Pick != "tails" {
		return fmt.Errorf("%w: coinflip pick must be heads or tails", ErrInvalidParams)
	}
	return nil
}

func (coinflipResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	face := "heads"
	if d.Outcome%2 == 1 {
		face = "tails"
	}
	detail := map[string]interface{}{
		"face": face,
		"pick": p.Pick,
	}
	if face != p.Pick {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, 200),
		Detail:    detail,
	}, nil
}
