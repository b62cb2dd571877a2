package game

import (
	"fmt"

	"QuantaCasino/internal/fairness"
)

const (
	kenoBoard = 40
	kenoPicks = 6
	kenoDraws = 8
)

// Multiplier in hundredths by match count (0..6). One or fewer matches
// pay nothing; six of six pays 800x gross.
var kenoCenti = [kenoPicks + 1]int64{0, 0, 120, 250, 1000, 10000, 80000}

// kenoResolver: player picks six numbers on a 40-spot board, the house
// draws eight without replacement, payout scales with matches.
type kenoResolver struct{}

func (kenoResolver) Kind() Kind { return Keno }

func (kenoResolver) ValidateParams(p Params) error {
	if len(p.Picks) != kenoPicks {
		return fmt.Errorf("%w: keno needs exactly %d picks", ErrInvalidParams, kenoPicks)
	}
	seen := make(map[int]bool, kenoPicks)
	for _, n := range p.Picks {
		if n < 1 || n > kenoBoard {
			return fmt.Errorf("%w: keno picks must be between 1 and %d", ErrInvalidParams, kenoBoard)
		}
		if seen[n] {
			return fmt.Errorf("%w: keno picks must be distinct", ErrInvalidParams)
		}
		seen[n] = true
	}
	return nil
}

func (kenoResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	drawn := d.Stream().NextUnique(kenoBoard, kenoDraws)
	hit := make(map[int]bool, kenoDraws)
	numbers := make([]int, kenoDraws)
	for i, v := range drawn {
		n := int(v) + 1 // 0..39 -> 1..40
		hit[n] = true
		numbers[i] = n
	}

	matches := 0
	for _, n := range p.Picks {
		if hit[n] {
			matches++
		}
	}

	detail := map[string]interface{}{
		"drawn":   numbers,
		"picks":   p.Picks,
		"matches": matches,
	}

	centi := kenoCenti[matches]
	if centi == 0 {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, centi),
		Detail:    detail,
	}, nil
}
