package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinWeiss1995/GreedyPirates/game"
)

// ErrMalformedMessage indicates a protocol framing or shape violation.
var ErrMalformedMessage = errors.New("protocol: malformed message")

// Kind tags the six message kinds.
type Kind string

const (
	KindJoin         Kind = "join"
	KindBid          Kind = "bid"
	KindRoundStarted Kind = "start_round"
	KindRoundEnded   Kind = "end_round"
	KindGameOver     Kind = "game_over"
	KindError        Kind = "error"
)

// Valid reports whether the tag is one of the six kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindJoin, KindBid, KindRoundStarted, KindRoundEnded, KindGameOver, KindError:
		return true
	}
	return false
}

// ServerID is the reserved player id used by orchestrator-originated
// messages. Clients may not join under it.
const ServerID = "server"

// Message is the wire envelope: {type, player_id, data, round_num?}.
type Message struct {
	Type     Kind            `json:"type"`
	PlayerID string          `json:"player_id"`
	Data     json.RawMessage `json:"data"`
	RoundNum *uint64         `json:"round_num,omitempty"`
}

// JoinData announces a player and their public key.
type JoinData struct {
	PlayerName string `json:"player_name"`
	PublicKey  string `json:"public_key"` // hex, uncompressed P-256 point
}

// BidShare is one recipient's encrypted copy of a bid. Key carries the
// ECIES-wrapped session key until the sender has shipped it to that
// recipient once; Payload is the AES-GCM ciphertext of the bid value.
type BidShare struct {
	Key     []byte `json:"key,omitempty"`
	Payload []byte `json:"payload"`
}

// BidData maps recipient id to that recipient's encrypted share.
type BidData struct {
	Shares map[string]BidShare `json:"shares"`
}

// RoundEndedData carries the authoritative payout result for a round.
type RoundEndedData struct {
	Results game.PayoutResult `json:"results"`
}

// GameOverData carries the final cumulative scores.
type GameOverData struct {
	FinalScores map[string]int `json:"final_scores"`
}

// ErrorData carries a human-readable reason.
type ErrorData struct {
	Error string `json:"error"`
}

// NewJoin builds a join message.
func NewJoin(playerID, playerName, publicKey string) *Message {
	return mustMessage(KindJoin, playerID, nil, JoinData{PlayerName: playerName, PublicKey: publicKey})
}

// NewBid builds a bid message carrying peer-addressed encrypted shares.
func NewBid(playerID string, round uint64, shares map[string]BidShare) *Message {
	return mustMessage(KindBid, playerID, &round, BidData{Shares: shares})
}

// NewRoundStarted builds the round announcement broadcast.
func NewRoundStarted(round uint64) *Message {
	return mustMessage(KindRoundStarted, ServerID, &round, struct{}{})
}

// NewRoundEnded builds the round result broadcast.
func NewRoundEnded(round uint64, results game.PayoutResult) *Message {
	return mustMessage(KindRoundEnded, ServerID, &round, RoundEndedData{Results: results})
}

// NewGameOver builds the terminal broadcast.
func NewGameOver(finalScores map[string]int) *Message {
	return mustMessage(KindGameOver, ServerID, nil, GameOverData{FinalScores: finalScores})
}

// NewError builds an error message.
func NewError(reason string) *Message {
	return mustMessage(KindError, ServerID, nil, ErrorData{Error: reason})
}

func mustMessage(kind Kind, playerID string, round *uint64, data any) *Message {
	raw, err := json.Marshal(data)
	if err != nil {
		// All payload types above marshal unconditionally.
		panic(err)
	}
	return &Message{Type: kind, PlayerID: playerID, Data: raw, RoundNum: round}
}

// Join decodes and validates a join payload.
func (m *Message) Join() (*JoinData, error) {
	if err := m.expectKind(KindJoin); err != nil {
		return nil, err
	}
	var data JoinData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: join payload: %v", ErrMalformedMessage, err)
	}
	if data.PlayerName == "" {
		return nil, fmt.Errorf("%w: join missing player_name", ErrMalformedMessage)
	}
	if data.PublicKey == "" {
		return nil, fmt.Errorf("%w: join missing public_key", ErrMalformedMessage)
	}
	return &data, nil
}

// Bid decodes and validates a bid payload.
func (m *Message) Bid() (*BidData, error) {
	if err := m.expectKind(KindBid); err != nil {
		return nil, err
	}
	if m.RoundNum == nil {
		return nil, fmt.Errorf("%w: bid missing round_num", ErrMalformedMessage)
	}
	var data BidData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: bid payload: %v", ErrMalformedMessage, err)
	}
	if len(data.Shares) == 0 {
		return nil, fmt.Errorf("%w: bid has no shares", ErrMalformedMessage)
	}
	for to, share := range data.Shares {
		if to == "" || len(share.Payload) == 0 {
			return nil, fmt.Errorf("%w: bid share for %q has no payload", ErrMalformedMessage, to)
		}
	}
	return &data, nil
}

// Round returns the round number, required for round-scoped kinds.
func (m *Message) Round() (uint64, error) {
	if m.RoundNum == nil {
		return 0, fmt.Errorf("%w: %s missing round_num", ErrMalformedMessage, m.Type)
	}
	return *m.RoundNum, nil
}

// RoundEnded decodes and validates a round result payload.
func (m *Message) RoundEnded() (*RoundEndedData, error) {
	if err := m.expectKind(KindRoundEnded); err != nil {
		return nil, err
	}
	if m.RoundNum == nil {
		return nil, fmt.Errorf("%w: end_round missing round_num", ErrMalformedMessage)
	}
	var data RoundEndedData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: end_round payload: %v", ErrMalformedMessage, err)
	}
	if data.Results.Payouts == nil {
		return nil, fmt.Errorf("%w: end_round missing results", ErrMalformedMessage)
	}
	return &data, nil
}

// GameOver decodes and validates a game-over payload.
func (m *Message) GameOver() (*GameOverData, error) {
	if err := m.expectKind(KindGameOver); err != nil {
		return nil, err
	}
	var data GameOverData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: game_over payload: %v", ErrMalformedMessage, err)
	}
	if data.FinalScores == nil {
		return nil, fmt.Errorf("%w: game_over missing final_scores", ErrMalformedMessage)
	}
	return &data, nil
}

// ErrorReason decodes an error payload.
func (m *Message) ErrorReason() (string, error) {
	if err := m.expectKind(KindError); err != nil {
		return "", err
	}
	var data ErrorData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return "", fmt.Errorf("%w: error payload: %v", ErrMalformedMessage, err)
	}
	return data.Error, nil
}

func (m *Message) expectKind(kind Kind) error {
	if m.Type != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, kind, m.Type)
	}
	return nil
}
