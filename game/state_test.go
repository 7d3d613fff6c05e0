package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *State {
	return NewState(3, 8, 2, 100)
}

func fillRoster(t *testing.T, s *State) {
	t.Helper()
	for _, p := range []struct{ id, name string }{
		{"p1", "Anne"}, {"p2", "Blackbeard"},
	} {
		started, err := s.AddParticipant(p.id, p.name)
		require.NoError(t, err)
		require.False(t, started)
	}
	started, err := s.AddParticipant("p3", "Calico")
	require.NoError(t, err)
	require.True(t, started, "third join should start the round")
}

func TestState_FormingToActive(t *testing.T) {
	s := newTestState()
	assert.Equal(t, Forming, s.CurrentPhase())
	assert.EqualValues(t, 0, s.CurrentRound())

	fillRoster(t, s)

	assert.Equal(t, Active, s.CurrentPhase())
	assert.EqualValues(t, 1, s.CurrentRound())
}

func TestState_JoinRejectedMidGame(t *testing.T) {
	s := newTestState()
	fillRoster(t, s)

	_, err := s.AddParticipant("p4", "Latecomer")
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestState_RosterCapacity(t *testing.T) {
	s := NewState(10, 3, 2, 100)
	for i, id := range []string{"p1", "p2", "p3"} {
		_, err := s.AddParticipant(id, id)
		require.NoError(t, err, "join %d", i)
	}
	_, err := s.AddParticipant("p4", "p4")
	assert.ErrorIs(t, err, ErrRosterFull)

	_, err = s.AddParticipant("p1", "again")
	assert.ErrorIs(t, err, ErrDuplicateParticipant)
}

func TestState_BidValidation(t *testing.T) {
	s := newTestState()

	_, err := s.SubmitVerifiedBid("p1", 10)
	assert.ErrorIs(t, err, ErrRoundNotActive)

	fillRoster(t, s)

	_, err = s.SubmitVerifiedBid("ghost", 10)
	assert.ErrorIs(t, err, ErrUnknownParticipant)

	_, err = s.SubmitVerifiedBid("p1", 101)
	assert.ErrorIs(t, err, ErrBidOutOfRange)

	complete, err := s.SubmitVerifiedBid("p1", 10)
	require.NoError(t, err)
	assert.False(t, complete)

	// At most one verified bid per participant per round.
	_, err = s.SubmitVerifiedBid("p1", 20)
	assert.ErrorIs(t, err, ErrDuplicateBid)
}

func TestState_CloseRound(t *testing.T) {
	s := newTestState()
	fillRoster(t, s)

	_, err := s.CloseRound()
	assert.ErrorIs(t, err, ErrRoundIncomplete)

	for _, bid := range []struct {
		id string
		v  int
	}{{"p1", 30}, {"p2", 40}} {
		complete, err := s.SubmitVerifiedBid(bid.id, bid.v)
		require.NoError(t, err)
		assert.False(t, complete)
	}
	complete, err := s.SubmitVerifiedBid("p3", 20)
	require.NoError(t, err)
	assert.True(t, complete)

	result, err := s.CloseRound()
	require.NoError(t, err)
	assert.Equal(t, Closed, s.CurrentPhase())
	assert.EqualValues(t, 1, result.Round)
	assert.Equal(t, 90, result.TotalBid)
	assert.Equal(t, 30, result.Payouts["p1"].Share)
	assert.Equal(t, "Anne", result.Payouts["p1"].Name)

	scores := s.FinalScores()
	assert.Equal(t, 30, scores["p1"])
	assert.Equal(t, 40, scores["p2"])
	assert.Equal(t, 20, scores["p3"])
}

func TestState_GameOverAfterMaxRounds(t *testing.T) {
	s := newTestState() // maxRounds = 2
	fillRoster(t, s)

	playRound := func() {
		for _, id := range []string{"p1", "p2", "p3"} {
			_, err := s.SubmitVerifiedBid(id, 10)
			require.NoError(t, err)
		}
		_, err := s.CloseRound()
		require.NoError(t, err)
	}

	playRound()
	phase, err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, Active, phase)
	assert.EqualValues(t, 2, s.CurrentRound())

	playRound()
	phase, err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, GameOver, phase)
	assert.True(t, s.IsGameOver())

	// A further Active transition is refused.
	_, err = s.Advance()
	assert.ErrorIs(t, err, ErrGameOver)
	_, err = s.AddParticipant("p9", "too late")
	assert.ErrorIs(t, err, ErrGameOver)

	scores := s.FinalScores()
	assert.Equal(t, 20, scores["p1"])
}

func TestState_DisconnectAtMinimumAbandonsRound(t *testing.T) {
	// Scenario: roster at exactly the minimum, one participant leaves
	// mid-round. The round is abandoned, not left hanging.
	s := newTestState()
	fillRoster(t, s)

	_, err := s.SubmitVerifiedBid("p1", 10)
	require.NoError(t, err)

	out := s.RemoveParticipant("p2")
	assert.True(t, out.Removed)
	assert.True(t, out.Abandoned)
	assert.False(t, out.Closeable)
	assert.Equal(t, Forming, s.CurrentPhase())
	assert.False(t, s.HasBid("p1"), "abandoned round discards bids")
}

func TestState_DisconnectAboveMinimumClosesRound(t *testing.T) {
	s := NewState(3, 8, 5, 100)
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := s.AddParticipant(id, id)
		require.NoError(t, err)
	}

	// Play round 1 to completion, then admit a fourth player between rounds.
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := s.SubmitVerifiedBid(id, 10)
		require.NoError(t, err)
	}
	_, err := s.CloseRound()
	require.NoError(t, err)

	started, err := s.AddParticipant("p4", "p4")
	require.NoError(t, err)
	assert.False(t, started)

	phase, err := s.Advance()
	require.NoError(t, err)
	require.Equal(t, Active, phase)

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := s.SubmitVerifiedBid(id, 10)
		require.NoError(t, err)
	}

	// p4 leaves without bidding; roster stays above the minimum and the
	// remaining bids complete the round.
	out := s.RemoveParticipant("p4")
	assert.True(t, out.Removed)
	assert.False(t, out.Abandoned)
	assert.True(t, out.Closeable)

	result, err := s.CloseRound()
	require.NoError(t, err)
	assert.Len(t, result.Payouts, 3)
}

func TestState_RestartAfterAbandon(t *testing.T) {
	s := NewState(3, 8, 5, 100)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		if _, err := s.AddParticipant(id, id); err != nil {
			// Fourth join is rejected once the game started; re-form below.
			break
		}
	}
	require.Equal(t, Active, s.CurrentPhase())
	require.EqualValues(t, 1, s.CurrentRound())

	require.NoError(t, s.AbandonRound())
	assert.Equal(t, Forming, s.CurrentPhase())

	// Roster still meets the minimum: re-forming starts a new round and the
	// abandoned sequence number is skipped.
	assert.True(t, s.Restart())
	assert.Equal(t, Active, s.CurrentPhase())
	assert.EqualValues(t, 2, s.CurrentRound())
}

func TestState_MirrorFollowsBroadcasts(t *testing.T) {
	mirror := NewMirror(2, 100)
	for _, id := range []string{"p1", "p2", "p3"} {
		started, err := mirror.AddParticipant(id, id)
		require.NoError(t, err)
		require.False(t, started, "a mirror never starts rounds itself")
	}
	require.Equal(t, Forming, mirror.CurrentPhase())

	// The mirror follows announced round numbers, monotonic only.
	require.NoError(t, mirror.BeginRound(2))
	assert.Error(t, mirror.BeginRound(2))
	assert.Error(t, mirror.BeginRound(1))

	mirror.AdoptResult(&PayoutResult{
		Round:   2,
		Payouts: map[string]Payout{"p1": {Bid: 5, Share: 5}, "p2": {Bid: 5, Share: 5}},
	})
	assert.Equal(t, Closed, mirror.CurrentPhase())
	assert.Equal(t, 5, mirror.FinalScores()["p1"])
}

func TestState_MirrorAcceptsJoinsDuringRound(t *testing.T) {
	// A replacement player can arrive while the mirror still thinks a round
	// is active (an abandoned round announces no transition). The follower
	// never owns the completion condition, so the join cannot hang anything.
	mirror := NewMirror(2, 100)
	_, err := mirror.AddParticipant("p1", "Anne")
	require.NoError(t, err)

	require.NoError(t, mirror.BeginRound(1))
	started, err := mirror.AddParticipant("p3", "Calico")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Len(t, mirror.Participants(), 2)
}

func TestState_AdoptResultReconcilesRoster(t *testing.T) {
	mirror := NewMirror(3, 100)
	_, err := mirror.AddParticipant("p1", "Anne")
	require.NoError(t, err)
	_, err = mirror.AddParticipant("p2", "Blackbeard")
	require.NoError(t, err)
	require.NoError(t, mirror.BeginRound(1))

	// p2 left before the round closed; p3's join broadcast was missed. The
	// authoritative payout map settles both.
	mirror.AdoptResult(&PayoutResult{
		Round:    1,
		TotalBid: 30,
		Payouts: map[string]Payout{
			"p1": {Name: "Anne", Bid: 10, Share: 10},
			"p3": {Name: "Calico", Bid: 20, Share: 20},
		},
	})

	assert.Equal(t, map[string]int{"p1": 10, "p3": 20}, mirror.FinalScores())
	names := make(map[string]string)
	for _, p := range mirror.Participants() {
		names[p.ID] = p.Name
	}
	assert.Equal(t, map[string]string{"p1": "Anne", "p3": "Calico"}, names)
}
