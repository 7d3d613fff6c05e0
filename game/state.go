package game

import (
	"fmt"
	"sync"
)

// Phase is the round lifecycle state.
type Phase int

const (
	// Forming waits for the roster to reach the configured minimum.
	Forming Phase = iota
	// Active collects verified bids for the current round.
	Active
	// Closed means payouts for the current round have been computed.
	Closed
	// GameOver is terminal; entered after the final round closes.
	GameOver
)

func (p Phase) String() string {
	switch p {
	case Forming:
		return "forming"
	case Active:
		return "active"
	case Closed:
		return "closed"
	case GameOver:
		return "game_over"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Participant is one player in the roster. Scores accumulate payouts across
// rounds and never decrease.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// PlayerStatus is the per-player slice of a status snapshot.
type PlayerStatus struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	HasBid bool   `json:"has_bid"`
}

// Status is a read-only snapshot of the game for the admin surface.
type Status struct {
	Phase        string                  `json:"phase"`
	CurrentRound uint64                  `json:"current_round"`
	TotalRounds  int                     `json:"total_rounds"`
	ClosedRounds int                     `json:"closed_rounds"`
	Players      map[string]PlayerStatus `json:"players"`
	GameComplete bool                    `json:"game_complete"`
}

// State is the round state machine. It is safe for concurrent use; every
// mutation takes the single internal lock, so a bid submission and a round
// close are observed atomically.
type State struct {
	mu sync.Mutex

	minPlayers int
	maxPlayers int
	maxRounds  int
	treasure   Treasure

	phase        Phase
	round        uint64 // 1-based, monotonic across starts
	closedRounds int    // only closed rounds count toward maxRounds

	participants map[string]*Participant
	bids         map[string]int // verified bids for the current round

	// mirror marks a follower state: it never owns the round's completion
	// condition, so joins are accepted even while a round is active and
	// transitions come only from BeginRound and AdoptResult.
	mirror bool
}

// NewState creates a state machine in the Forming phase.
func NewState(minPlayers, maxPlayers, maxRounds, treasureAmount int) *State {
	return &State{
		minPlayers:   minPlayers,
		maxPlayers:   maxPlayers,
		maxRounds:    maxRounds,
		treasure:     Treasure{Amount: treasureAmount},
		phase:        Forming,
		participants: make(map[string]*Participant),
		bids:         make(map[string]int),
	}
}

// AddParticipant registers a player. The orchestrator accepts joins while
// Forming and between rounds (Closed) and refuses them during an active round
// so an arrival cannot hang the round's completion condition; a mirror
// accepts joins in any phase short of GameOver, since it only follows
// broadcasts. Returns true when the join brought a forming roster to the
// minimum and the first round has started.
func (s *State) AddParticipant(id, name string) (started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == GameOver {
		return false, ErrGameOver
	}
	if s.phase == Active && !s.mirror {
		return false, ErrGameInProgress
	}
	if _, ok := s.participants[id]; ok {
		return false, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
	}
	if len(s.participants) >= s.maxPlayers {
		return false, ErrRosterFull
	}

	s.participants[id] = &Participant{ID: id, Name: name}

	if s.phase == Forming && len(s.participants) >= s.minPlayers {
		s.startRoundLocked()
		return true, nil
	}
	return false, nil
}

// NewMirror creates a follower state for a peer that replays the
// orchestrator's broadcasts. A mirror never starts rounds on its own: roster
// thresholds are disabled and transitions come from BeginRound and
// AdoptResult.
func NewMirror(maxRounds, treasureAmount int) *State {
	const unreachable = int(^uint(0) >> 1)
	return &State{
		minPlayers:   unreachable,
		maxPlayers:   unreachable,
		maxRounds:    maxRounds,
		treasure:     Treasure{Amount: treasureAmount},
		phase:        Forming,
		participants: make(map[string]*Participant),
		bids:         make(map[string]int),
		mirror:       true,
	}
}

// RemovalOutcome reports how a mid-game removal affected the current round.
type RemovalOutcome struct {
	// Removed is false when the id was not in the roster.
	Removed bool
	// Abandoned is true when the removal dropped an active round below the
	// minimum roster; the round's bids are discarded and the phase is back
	// to Forming.
	Abandoned bool
	// Closeable is true when the remaining participants have all bid and
	// the round can now close.
	Closeable bool
}

// RemoveParticipant drops a player and their verified bid for the current
// round. Mid-round removal never leaves the round hung: either the remaining
// bids complete it (Closeable) or the roster fell below the minimum and the
// round is abandoned.
func (s *State) RemoveParticipant(id string) RemovalOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[id]; !ok {
		return RemovalOutcome{}
	}
	delete(s.participants, id)
	delete(s.bids, id)

	out := RemovalOutcome{Removed: true}
	if s.phase != Active {
		return out
	}

	if len(s.participants) < s.minPlayers {
		s.abandonRoundLocked()
		out.Abandoned = true
		return out
	}
	out.Closeable = s.allBidsInLocked()
	return out
}

// SubmitVerifiedBid records a verified bid for the current round. At most one
// bid per participant per round. Returns true once every current participant
// has a verified bid.
func (s *State) SubmitVerifiedBid(id string, bid int) (complete bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Active {
		return false, ErrRoundNotActive
	}
	if _, ok := s.participants[id]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if _, ok := s.bids[id]; ok {
		return false, fmt.Errorf("%w: %s", ErrDuplicateBid, id)
	}
	if !s.treasure.ValidBid(bid) {
		return false, fmt.Errorf("%w: %d not in [0, %d]", ErrBidOutOfRange, bid, s.treasure.Amount)
	}

	s.bids[id] = bid
	return s.allBidsInLocked(), nil
}

// HasBid reports whether a participant's bid is verified for this round.
func (s *State) HasBid(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bids[id]
	return ok
}

// AllBidsIn reports whether every current participant has a verified bid.
func (s *State) AllBidsIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allBidsInLocked()
}

// CloseRound computes payouts, folds them into scores and moves the round to
// Closed. A round cannot close with fewer verified bids than the roster.
func (s *State) CloseRound() (*PayoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Active {
		return nil, ErrRoundNotActive
	}
	if !s.allBidsInLocked() {
		return nil, fmt.Errorf("%w: %d of %d", ErrRoundIncomplete, len(s.bids), len(s.participants))
	}

	result := s.treasure.Payouts(s.bids)
	result.Round = s.round
	for id, payout := range result.Payouts {
		p := s.participants[id]
		p.Score += payout.Share
		payout.Name = p.Name
		result.Payouts[id] = payout
	}

	s.phase = Closed
	s.closedRounds++
	return &result, nil
}

// Advance moves a Closed round forward: to a fresh Active round, or to
// GameOver once the configured number of rounds has closed.
func (s *State) Advance() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case GameOver:
		return GameOver, ErrGameOver
	case Closed:
	default:
		return s.phase, fmt.Errorf("advance from %s", s.phase)
	}

	if s.closedRounds >= s.maxRounds {
		s.phase = GameOver
		return GameOver, nil
	}
	s.startRoundLocked()
	return Active, nil
}

// AbandonRound discards the current round's bids and returns to Forming.
// Used when a round can no longer complete (deadline, roster collapse). The
// abandoned sequence number is skipped; abandoned rounds do not count toward
// the game's round limit.
func (s *State) AbandonRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Active {
		return ErrRoundNotActive
	}
	s.abandonRoundLocked()
	return nil
}

// Restart begins a new round from Forming when the roster already meets the
// minimum (re-forming after an abandoned round). Returns true if started.
func (s *State) Restart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Forming || len(s.participants) < s.minPlayers {
		return false
	}
	s.startRoundLocked()
	return true
}

// BeginRound aligns a mirror to an externally announced round. The mirror
// never decides transitions itself; it follows the orchestrator's broadcasts.
func (s *State) BeginRound(round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == GameOver {
		return ErrGameOver
	}
	if round <= s.round {
		return fmt.Errorf("round %d is not after %d", round, s.round)
	}
	s.round = round
	s.bids = make(map[string]int)
	s.phase = Active
	return nil
}

// AdoptResult folds an authoritative payout result into a mirror's scores
// and closes the round locally. The payout map names every participant of the
// closed round, so it also reconciles the roster: ids the mirror has never
// seen are adopted, and ids absent from the map left before the round closed
// and are pruned.
func (s *State) AdoptResult(result *PayoutResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, payout := range result.Payouts {
		p, ok := s.participants[id]
		if !ok {
			p = &Participant{ID: id, Name: payout.Name}
			s.participants[id] = p
		}
		p.Score += payout.Share
	}
	for id := range s.participants {
		if _, ok := result.Payouts[id]; !ok {
			delete(s.participants, id)
		}
	}
	s.bids = make(map[string]int)
	s.phase = Closed
	s.closedRounds++
}

// IsGameOver reports whether the terminal phase has been reached.
func (s *State) IsGameOver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == GameOver
}

// FinalScores returns a copy of the cumulative scores.
func (s *State) FinalScores() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores := make(map[string]int, len(s.participants))
	for id, p := range s.participants {
		scores[id] = p.Score
	}
	return scores
}

// CurrentRound returns the 1-based round sequence number (0 before the first
// round starts).
func (s *State) CurrentRound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// CurrentPhase returns the lifecycle phase.
func (s *State) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RosterSize returns the number of joined participants.
func (s *State) RosterSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Participants returns a snapshot of the roster.
func (s *State) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, *p)
	}
	return roster
}

// ParticipantName returns the display name for an id.
func (s *State) ParticipantName(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return "", false
	}
	return p.Name, true
}

// TreasureAmount returns the per-round pool size.
func (s *State) TreasureAmount() int {
	return s.treasure.Amount
}

// MinPlayers returns the configured roster minimum.
func (s *State) MinPlayers() int {
	return s.minPlayers
}

// Snapshot returns the admin status view.
func (s *State) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make(map[string]PlayerStatus, len(s.participants))
	for id, p := range s.participants {
		_, hasBid := s.bids[id]
		players[id] = PlayerStatus{Name: p.Name, Score: p.Score, HasBid: hasBid}
	}
	return Status{
		Phase:        s.phase.String(),
		CurrentRound: s.round,
		TotalRounds:  s.maxRounds,
		ClosedRounds: s.closedRounds,
		Players:      players,
		GameComplete: s.phase == GameOver,
	}
}

func (s *State) startRoundLocked() {
	s.round++
	s.bids = make(map[string]int)
	s.phase = Active
}

func (s *State) abandonRoundLocked() {
	s.bids = make(map[string]int)
	s.phase = Forming
}

func (s *State) allBidsInLocked() bool {
	return len(s.participants) > 0 && len(s.bids) == len(s.participants)
}
