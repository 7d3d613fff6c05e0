package game

// Payout is one participant's outcome for a round.
type Payout struct {
	Name  string `json:"name"`
	Bid   int    `json:"bid"`
	Share int    `json:"share"`
}

// PayoutResult is the derived output of one closed round. It is broadcast in
// the round-end message and folded into scores, never stored past the round.
type PayoutResult struct {
	Round         uint64            `json:"round"`
	TotalBid      int               `json:"total_bid"`
	ExceededLimit bool              `json:"exceeded_limit"`
	Payouts       map[string]Payout `json:"payouts"`
}

// Treasure is the fixed pool available each round.
type Treasure struct {
	Amount int
}

// ValidBid reports whether a bid is inside [0, Amount].
func (t Treasure) ValidBid(bid int) bool {
	return bid >= 0 && bid <= t.Amount
}

// Payouts applies the payout rule to a complete set of verified bids:
//
//   - total bid 0: the pool splits evenly (integer division; the remainder
//     is dropped, a known rounding loss).
//   - total bid within the pool: everyone receives exactly their bid. Any
//     unclaimed remainder is not distributed.
//   - total bid over the pool: only participants whose bid is at most
//     amount/participants qualify, and the pool splits evenly among them.
//     Everyone else gets zero. If nobody qualifies, nobody is paid.
func (t Treasure) Payouts(bids map[string]int) PayoutResult {
	totalBid := 0
	for _, bid := range bids {
		totalBid += bid
	}

	result := PayoutResult{
		TotalBid: totalBid,
		Payouts:  make(map[string]Payout, len(bids)),
	}

	switch {
	case totalBid == 0:
		share := t.Amount / len(bids)
		for id := range bids {
			result.Payouts[id] = Payout{Bid: 0, Share: share}
		}

	case totalBid <= t.Amount:
		for id, bid := range bids {
			result.Payouts[id] = Payout{Bid: bid, Share: bid}
		}

	default:
		result.ExceededLimit = true

		// bid <= amount/count, compared without truncation.
		var qualifying []string
		for id, bid := range bids {
			if bid*len(bids) <= t.Amount {
				qualifying = append(qualifying, id)
			}
		}

		share := 0
		if len(qualifying) > 0 {
			share = t.Amount / len(qualifying)
		}
		for id, bid := range bids {
			result.Payouts[id] = Payout{Bid: bid}
		}
		for _, id := range qualifying {
			p := result.Payouts[id]
			p.Share = share
			result.Payouts[id] = p
		}
	}

	return result
}
