package game

import (
	"fmt"
	"math/bits"

	"QuantaCasino/internal/fairness"
)

const (
	minesCells    = 25
	minesCount    = 5
	minesMinPicks = 1
	minesMaxPicks = 10
)

// minesResolver: five mines hide on a 5x5 board, the player uncovers
// 1..10 cells. Clearing them all pays the exact inverse of the survival
// odds, minus the house cut.
type minesResolver struct{}

func (minesResolver) Kind() Kind { return Mines }

func (minesResolver) ValidateParams(p Params) error {
	if p.MinePicks < minesMinPicks || p.MinePicks > minesMaxPicks {
		return fmt.Errorf("%w: mines picks must be between %d and %d", ErrInvalidParams, minesMinPicks, minesMaxPicks)
	}
	return nil
}

func (minesResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	stream := d.Stream()

	mines := stream.NextUnique(minesCells, minesCount)
	mined := make(map[int]bool, minesCount)
	for _, c := range mines {
		mined[c] = true
	}

	// Picks are distinct among themselves but may land on mines.
	picks := stream.NextUnique(minesCells, p.MinePicks)
	safe := 0
	for _, c := range picks {
		if !mined[c] {
			safe++
		}
	}

	detail := map[string]interface{}{
		"mines": mines,
		"picks": picks,
		"safe":  safe,
	}

	if safe != p.MinePicks {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: minesPayout(stakeMQC, p.MinePicks),
		Detail:    detail,
	}, nil
}

// minesPayout computes stake * (1/odds) * 99/100 exactly, where
// odds = prod (20-i)/(25-i) over the picks. The numerator
// stake * 99 * prod(25-i) can exceed 64 bits, so the multiply and
// divide run at 128-bit width.
func minesPayout(stakeMQC int64, picks int) int64 {
	num := uint64(edgeNum)
	den := uint64(edgeDen)
	for i := 0; i < picks; i++ {
		num *= uint64(minesCells - i)
		den *= uint64(minesCells - minesCount - i)
	}
	hi, lo := bits.Mul64(uint64(stakeMQC), num)
	q, _ := bits.Div64(hi, lo, den)
	return int64(q)
}
