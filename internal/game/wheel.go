package game

import (
	"QuantaCasino/internal/fairness"
)

// Segment multipliers in hundredths. Uniform segments averaging 1.00x,
// so the 1% cut on payouts yields the standard house return. Every
// segment pays something; small segments return less than the stake.
var wheelCenti = [6]int64{20, 40, 70, 100, 160, 210}

type wheelResolver struct{}

func (wheelResolver) Kind() Kind { return Wheel }

func (wheelResolver) ValidateParams(Params) error { return nil }

func (wheelResolver) Resolve(d *fairness.Draw, stakeMQC int64, _ Params) (Resolution, error) {
	idx := int(d.Outcome % uint64(len(wheelCenti)))
	centi := wheelCenti[idx]

	detail := map[string]interface{}{
		"segment":         idx,
		"multiplier_x100": centi,
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, centi),
		Detail:    detail,
	}, nil
}
