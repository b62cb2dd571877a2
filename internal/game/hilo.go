package game

import (
	"fmt"

	"QuantaCasino/internal/fairness"
)

// hiloResolver: a raw card 1..13 against the pivot 7. A 7 always loses;
// otherwise the player wins when the card lands strictly on the guessed
// side. Wins pay 2x gross.
type hiloResolver struct{}

func (hiloResolver) Kind() Kind { return Hilo }

func (hiloResolver) ValidateParams(p Params) error {
	if p.Pick != "higher" && p.Pick != "lower" {
		return fmt.Errorf("%w: hilo pick must be higher or lower", ErrInvalidParams)
	}
	return nil
}

func (hiloResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	card := int(d.Outcome%13) + 1
	detail := map[string]interface{}{
		"card": card,
		"pick": p.Pick,
	}
	win := card != 7 && ((p.Pick == "higher" && card > 7) || (p.Pick == "lower" && card < 7))
	if !win {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, 200),
		Detail:    detail,
	}, nil
}
