package game

import (
	"QuantaCasino/internal/fairness"
)

// Reel strip in draw order: the stream picks an index 0..5 per reel.
var slotsSymbols = [6]string{"cherry", "lemon", "bell", "diamond", "star", "seven"}

// Three-of-a-kind multiplier in hundredths, indexed like slotsSymbols.
var slotsTripleCenti = [6]int64{400, 400, 500, 1600, 900, 3600}

const slotsPairCenti = 150

// slotsResolver: three uniform reels; triples pay by symbol, any exact
// pair pays 1.5x gross, otherwise the stake is lost.
type slotsResolver struct{}

func (slotsResolver) Kind() Kind { return Slots }

func (slotsResolver) ValidateParams(Params) error { return nil }

func (slotsResolver) Resolve(d *fairness.Draw, stakeMQC int64, _ Params) (Resolution, error) {
	stream := d.Stream()
	var idx [3]int
	reels := make([]string, 3)
	for i := range idx {
		idx[i] = stream.NextIn(len(slotsSymbols))
		reels[i] = slotsSymbols[idx[i]]
	}

	detail := map[string]interface{}{
		"reels": reels,
	}

	var centi int64
	switch {
	case idx[0] == idx[1] && idx[1] == idx[2]:
		centi = slotsTripleCenti[idx[0]]
	case idx[0] == idx[1] || idx[1] == idx[2] || idx[0] == idx[2]:
		centi = slotsPairCenti
	}

	if centi == 0 {
		return lost(detail), nil
	}
	return Resolution{
		Win:       true,
		PayoutMQC: payout(stakeMQC, centi),
		Detail:    detail,
	}, nil
}
