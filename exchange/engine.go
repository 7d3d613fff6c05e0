package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinWeiss1995/GreedyPirates/crypto"
)

var (
	// ErrInvalidBidRange indicates a bid outside [0, treasure amount],
	// caught before encryption on the way out and after decryption on the
	// way in.
	ErrInvalidBidRange = errors.New("exchange: bid out of range")

	// ErrInconsistentBid indicates two decrypted copies of the same
	// originator's bid for the same round that disagree. The originator's
	// bid is rejected for the round.
	ErrInconsistentBid = errors.New("exchange: inconsistent bid copies")

	// ErrWrongRound indicates a bid share addressed to a round other than
	// the one in progress.
	ErrWrongRound = errors.New("exchange: bid for a different round")
)

// bidState tracks one originator's accumulator for the current round.
type bidState int

const (
	statePending bidState = iota
	stateVerified
	stateRejected
)

// Engine runs one participant's side of the bid exchange for one round at a
// time. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	selfID string
	maxBid int
	round  uint64
	bids   map[string]*accumulator
}

type accumulator struct {
	state bidState
	value int
}

// NewEngine creates an engine for a participant. maxBid is the round's
// treasure amount, the upper bound of a valid bid.
func NewEngine(selfID string, maxBid int) *Engine {
	return &Engine{
		selfID: selfID,
		maxBid: maxBid,
		bids:   make(map[string]*accumulator),
	}
}

// BeginRound resets all accumulators for a new round.
func (e *Engine) BeginRound(round uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = round
	e.bids = make(map[string]*accumulator)
}

// CreateBidPayload encrypts the bid once per recipient under that
// recipient's session key. The GCM additional data binds each ciphertext to
// (originator, recipient, round) so shares cannot be replayed across peers
// or rounds. The local copy is recorded as verified immediately.
func (e *Engine) CreateBidPayload(bid int, peerKeys map[string]crypto.SessionKey) (map[string][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bid < 0 || bid > e.maxBid {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidBidRange, bid, e.maxBid)
	}

	plaintext := encodeBid(bid)
	payload := make(map[string][]byte, len(peerKeys))
	for peerID, key := range peerKeys {
		ciphertext, err := crypto.EncryptWithSessionKey(key, plaintext, shareContext(e.selfID, peerID, e.round))
		if err != nil {
			return nil, fmt.Errorf("encrypt bid for %s: %w", peerID, err)
		}
		payload[peerID] = ciphertext
	}

	e.accumulate(e.selfID, bid)
	return payload, nil
}

// IngestEncryptedBid decrypts, range-checks and accumulates the copy of a
// peer's bid addressed to this participant. Returns the verified value.
// A copy that disagrees with an earlier verified copy rejects the
// originator's bid for the round with ErrInconsistentBid.
func (e *Engine) IngestEncryptedBid(from string, round uint64, ciphertext []byte, key crypto.SessionKey) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if round != e.round {
		return 0, fmt.Errorf("%w: got %d, current %d", ErrWrongRound, round, e.round)
	}

	plaintext, err := crypto.DecryptWithSessionKey(key, ciphertext, shareContext(from, e.selfID, round))
	if err != nil {
		return 0, fmt.Errorf("bid share from %s: %w", from, err)
	}

	bid, err := decodeBid(plaintext)
	if err != nil {
		return 0, fmt.Errorf("bid share from %s: %w", from, err)
	}
	if bid < 0 || bid > e.maxBid {
		return 0, fmt.Errorf("%w: %d from %s", ErrInvalidBidRange, bid, from)
	}

	if err := e.accumulate(from, bid); err != nil {
		return 0, err
	}
	return bid, nil
}

// IsBidVerified reports whether a participant's bid is verified for the
// current round.
func (e *Engine) IsBidVerified(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.bids[id]
	return ok && acc.state == stateVerified
}

// VerifiedValue returns a participant's verified bid for the current round.
func (e *Engine) VerifiedValue(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.bids[id]
	if !ok || acc.state != stateVerified {
		return 0, false
	}
	return acc.value, true
}

// VerifiedBids returns all verified bids for the current round.
func (e *Engine) VerifiedBids() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int, len(e.bids))
	for id, acc := range e.bids {
		if acc.state == stateVerified {
			out[id] = acc.value
		}
	}
	return out
}

// Round returns the round the engine is currently accumulating for.
func (e *Engine) Round() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// accumulate folds one decrypted copy into the originator's accumulator.
// Caller holds the lock.
func (e *Engine) accumulate(from string, bid int) error {
	acc, ok := e.bids[from]
	if !ok {
		e.bids[from] = &accumulator{state: stateVerified, value: bid}
		return nil
	}
	switch acc.state {
	case stateRejected:
		return fmt.Errorf("%w: %s already rejected this round", ErrInconsistentBid, from)
	case stateVerified:
		if acc.value != bid {
			acc.state = stateRejected
			return fmt.Errorf("%w: %s sent %d and %d", ErrInconsistentBid, from, acc.value, bid)
		}
		// Redundant copy agrees; idempotent.
		return nil
	default:
		acc.state = stateVerified
		acc.value = bid
		return nil
	}
}

func encodeBid(bid int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(bid))
	return buf
}

func decodeBid(plaintext []byte) (int, error) {
	if len(plaintext) != 8 {
		return 0, fmt.Errorf("%w: bid encoding must be 8 bytes, got %d", ErrInvalidBidRange, len(plaintext))
	}
	v := binary.BigEndian.Uint64(plaintext)
	if v > uint64(1)<<62 {
		return 0, fmt.Errorf("%w: bid does not fit", ErrInvalidBidRange)
	}
	return int(v), nil
}

// shareContext is the GCM additional data for one addressed share.
func shareContext(from, to string, round uint64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", from, to, round))
}
