package game

import (
	"QuantaCasino/internal/fairness"
)

// blackjackResolver: simplified auto-play. Cards come from the round's
// value stream as v%13+1 counted at min(card, 10); the player hand draws
// to 17 or more, then the dealer hand continues from the same stream.
// Totals are clamped at 21, which folds busts into a 21; equal totals
// push and return the stake. Wins pay 2x gross.
type blackjackResolver struct{}

func (blackjackResolver) Kind() Kind { return Blackjack }

func (blackjackResolver) ValidateParams(Params) error { return nil }

func (blackjackResolver) Resolve(d *fairness.Draw, stakeMQC int64, p Params) (Resolution, error) {
	stream := d.Stream()
	playerCards, playerScore := drawHand(stream)
	dealerCards, dealerScore := drawHand(stream)

	detail := map[string]interface{}{
		"player_cards": playerCards,
		"player_score": playerScore,
		"dealer_cards": dealerCards,
		"dealer_score": dealerScore,
	}

	switch {
	case playerScore == dealerScore:
		return Resolution{Push: true, PayoutMQC: stakeMQC, Detail: detail}, nil
	case playerScore > dealerScore:
		return Resolution{Win: true, PayoutMQC: payout(stakeMQC, 200), Detail: detail}, nil
	default:
		return lost(detail), nil
	}
}

// drawHand deals until the hand's value reaches 17, returning the face
// values (10 for any court card) and the total clamped at 21.
func drawHand(stream *fairness.Stream) ([]int, int) {
	var cards []int
	sum := 0
	for sum < 17 {
		card := stream.NextIn(13) + 1
		if card > 10 {
			card = 10
		}
		cards = append(cards, card)
		sum += card
	}
	if sum > 21 {
		sum = 21
	}
	return cards, sum
}
