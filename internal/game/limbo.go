package game

import (
	"fmt"
	"math/bits"

	"QuantaCasino/internal/fairness"
)

const (
	limboMinX100 = 102   // 1.02x
	limboMaxX100 = 10000 // 100.00x
)

// limboWinBound is 99 * 2^52: the round wins when
// outcome * targetX100 <= 99 * 2^52, which makes P(win) exactly
// 99/targetX100 over the 52-bit outcome space.
const limboWinBound = uint64(99) << fairness.OutcomeBits

// limboResolver: player names a target multiplier; the chance of
// hitting it scales inversely so expected return stays at 99%.
type limboResolver struct{}

func (limboResolver) Kind() Kind { return Limbo }

func (limboResolver) ValidateParams(p Params) error {
	if p.TargetX100 < limboMinX100 || p.TargetX100 > limboMaxX100 {
		return fmt.Errorf("%w: limbo target must be between 1.02 and 100.00", ErrInvalidParams)
	}
	return nil
}

func (limboResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	// outcome * targetX100 can exceed 64 bits (2^52 * 10000), so the
	// comparison runs over the full 128-bit product.
	hi, lo := bits.Mul64(d.Outcome, uint64(p.TargetX100))
	win := hi == 0 && lo <= limboWinBound

	detail := map[string]interface{}{
		"target_x100": p.TargetX100,
	}
	if !win {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, p.TargetX100),
		Detail:    detail,
	}, nil
}
