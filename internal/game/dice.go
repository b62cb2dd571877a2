package game

import (
	"fmt"

	"QuantaCasino/internal/fairness"
)

// diceResolver: roll-under. The roll is uniform in 1..100; the player wins
// when roll <= target. Gross multiplier is 100/target, so the payout is
// stake * 99 / target after the edge.
type diceResolver struct{}

func (diceResolver) Kind() Kind { return Dice }

func (diceResolver) ValidateParams(p Params) error {
	if p.Target < 2 || p.Target > 100 {
		return fmt.Errorf("%w: dice target must be 2..100, got %d", ErrInvalidParams, p.Target)
	}
	return nil
}

func (diceResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	roll := int(d.Outcome%100) + 1
	detail := map[string]interface{}{
		"roll":   roll,
		"target": p.Target,
	}
	if roll > p.Target {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: stakeMQC * edgeNum / int64(p.Target),
		Detail:    detail,
	}, nil
}
