package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinWeiss1995/GreedyPirates/crypto"
	"github.com/KevinWeiss1995/GreedyPirates/exchange"
	"github.com/KevinWeiss1995/GreedyPirates/game"
	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// handleJoin admits a player, or queues them until the active round closes.
// On success the new client has received the full roster replay and everyone
// else has received the new join.
func (s *Server) handleJoin(sess *session, msg *protocol.Message) error {
	data, err := msg.Join()
	if err != nil {
		return err
	}
	id := msg.PlayerID
	if id == protocol.ServerID {
		return fmt.Errorf("player id %q is reserved", protocol.ServerID)
	}
	key, err := crypto.NewPublicKeyFromString(data.PublicKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("%w: %s", game.ErrDuplicateParticipant, id)
	}
	for _, p := range s.pending {
		if p.sess.id == id {
			return fmt.Errorf("%w: %s", game.ErrDuplicateParticipant, id)
		}
	}

	sess.id, sess.name = id, data.PlayerName

	started, err := s.state.AddParticipant(id, data.PlayerName)
	if errors.Is(err, game.ErrGameInProgress) {
		// A round is collecting bids. Hold the join; it is replayed when
		// the round closes.
		s.pending = append(s.pending, &pendingJoin{sess: sess, name: data.PlayerName, pubkey: key.Bytes()})
		s.log.Info("join queued until round closes", "player", id, "round", s.state.CurrentRound())
		return nil
	}
	if err != nil {
		return err
	}

	s.admitLocked(sess, key.Bytes())
	s.log.Info("player joined", "player", id, "name", data.PlayerName, "roster", s.state.RosterSize())

	if started {
		s.announceRoundLocked()
	}
	return nil
}

// admitLocked wires an accepted player in: key table, session table, roster
// replay to the newcomer and a join broadcast to everyone else.
func (s *Server) admitLocked(sess *session, pubkey []byte) {
	if err := s.keys.RegisterPeerKey(sess.id, pubkey); err != nil {
		// The key was validated at parse time.
		s.log.Error("register peer key", "player", sess.id, "err", err)
	}
	s.sessions[sess.id] = sess
	s.replayRosterLocked(sess)

	if key, ok := s.keys.PeerKey(sess.id); ok {
		s.broadcastLocked(protocol.NewJoin(sess.id, sess.name, key.String()), sess.id)
	}
}

// replayRosterLocked sends the newcomer a join for the server and for every
// player already in the roster, so it can register their public keys.
func (s *Server) replayRosterLocked(sess *session) {
	sess.send(protocol.NewJoin(protocol.ServerID, protocol.ServerID, s.keys.PublicKey().String()))
	for _, p := range s.state.Participants() {
		if p.ID == sess.id {
			continue
		}
		if key, ok := s.keys.PeerKey(p.ID); ok {
			sess.send(protocol.NewJoin(p.ID, p.Name, key.String()))
		}
	}
}

// handleBid verifies the server-addressed share of a bid, relays the shares
// to the other players and closes the round once every bid is in.
func (s *Server) handleBid(sess *session, msg *protocol.Message) error {
	if msg.PlayerID != sess.id {
		return fmt.Errorf("bid under player id %q from %q", msg.PlayerID, sess.id)
	}
	round, err := msg.Round()
	if err != nil {
		return err
	}
	data, err := msg.Bid()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.ParticipantName(sess.id); !ok {
		return fmt.Errorf("%w: %s", game.ErrUnknownParticipant, sess.id)
	}

	share, ok := data.Shares[protocol.ServerID]
	if !ok {
		return fmt.Errorf("bid from %s has no server share", sess.id)
	}
	if len(share.Key) > 0 {
		key, err := s.keys.UnwrapSessionKey(share.Key)
		if err != nil {
			return fmt.Errorf("session key from %s: %w", sess.id, err)
		}
		s.keys.SetSessionKey(sess.id, key)
	}
	key, ok := s.keys.SessionKeyFor(sess.id)
	if !ok {
		return fmt.Errorf("%s has not shipped a session key", sess.id)
	}

	bid, err := s.engine.IngestEncryptedBid(sess.id, round, share.Payload, key)
	if err != nil {
		if errors.Is(err, exchange.ErrInconsistentBid) {
			// Detectable cheating. The removal retracts the earlier verified
			// value, so it never reaches the payout, and resolves the round
			// with the remaining bids.
			s.log.Warn("inconsistent bid", "player", sess.id, "round", round)
			s.broadcastLocked(protocol.NewError(
				fmt.Sprintf("inconsistent bid from %s; excluded from round %d", sess.id, round)), "")
			s.removePlayerLocked(sess.id)
		}
		return err
	}
	complete, err := s.state.SubmitVerifiedBid(sess.id, bid)
	if err != nil {
		return err
	}

	// Peer-addressed shares are relayed verbatim; only each recipient can
	// open its own copy.
	s.broadcastLocked(msg, sess.id)
	s.log.Debug("bid verified", "player", sess.id, "round", round)

	if complete {
		s.finishRoundLocked()
	}
	return nil
}

// disconnect runs when a connection's reader ends, for any reason. Safe to
// call twice for the same session (reader teardown after a deadline drop).
func (s *Server) disconnect(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.close()

	if sess.id == "" {
		return
	}
	if cur, ok := s.sessions[sess.id]; !ok || cur != sess {
		s.removePendingLocked(sess)
		return
	}
	s.log.Info("player disconnected", "player", sess.id)
	s.removePlayerLocked(sess.id)
}

// removePlayerLocked drops a roster member and resolves the round it may
// have left behind: close it if the remaining bids complete it, abandon it
// if the roster fell below the minimum.
func (s *Server) removePlayerLocked(id string) {
	if sess, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		sess.close()
	}
	s.keys.ForgetPeer(id)

	name, _ := s.state.ParticipantName(id)
	outcome := s.state.RemoveParticipant(id)
	if !outcome.Removed {
		return
	}
	s.broadcastLocked(protocol.NewError(fmt.Sprintf("%s left the game", name)), "")

	switch {
	case outcome.Abandoned:
		s.abandonLocked("round abandoned: roster below minimum")
	case outcome.Closeable:
		s.finishRoundLocked()
	}
}

func (s *Server) removePendingLocked(sess *session) {
	for i, p := range s.pending {
		if p.sess == sess {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// announceRoundLocked broadcasts the freshly started round and arms the bid
// deadline.
func (s *Server) announceRoundLocked() {
	round := s.state.CurrentRound()
	s.engine.BeginRound(round)
	s.broadcastLocked(protocol.NewRoundStarted(round), "")
	s.log.Info("round started", "round", round, "roster", s.state.RosterSize())

	if d := s.cfg.Game.RoundTimeout(); d > 0 {
		s.roundTimer = time.AfterFunc(d, func() { s.roundDeadlineExpired(round) })
	}
}

// finishRoundLocked closes a completed round: payout broadcast, queued joins,
// then either the next round or the end of the game.
func (s *Server) finishRoundLocked() {
	s.stopRoundTimerLocked()

	result, err := s.state.CloseRound()
	if err != nil {
		s.log.Error("close round", "err", err)
		return
	}
	s.metrics.RoundsClosed.Inc()
	s.broadcastLocked(protocol.NewRoundEnded(result.Round, *result), "")
	s.log.Info("round closed",
		"round", result.Round,
		"total_bid", result.TotalBid,
		"exceeded_limit", result.ExceededLimit)

	s.drainPendingLocked()

	phase, err := s.state.Advance()
	if err != nil {
		s.log.Error("advance", "err", err)
		return
	}
	if phase == game.GameOver {
		s.metrics.GamesCompleted.Inc()
		scores := s.state.FinalScores()
		s.broadcastLocked(protocol.NewGameOver(scores), "")
		s.log.Info("game over", "rounds", s.cfg.Game.MaxRounds)
		return
	}
	s.announceRoundLocked()
}

// abandonLocked tells everyone the round was discarded and gives queued
// joins a chance to bring the roster back to strength.
func (s *Server) abandonLocked(reason string) {
	s.stopRoundTimerLocked()
	s.metrics.RoundsAbandoned.Inc()
	s.broadcastLocked(protocol.NewError(reason), "")
	s.log.Warn("round abandoned", "reason", reason)
	s.drainPendingLocked()
}

// drainPendingLocked admits the players who joined mid-round. Runs only
// while no round is active (Closed or Forming).
func (s *Server) drainPendingLocked() {
	queued := s.pending
	s.pending = nil
	for _, p := range queued {
		started, err := s.state.AddParticipant(p.sess.id, p.name)
		if err != nil {
			s.log.Info("queued join refused", "player", p.sess.id, "err", err)
			// Written directly: nothing else targets a pending session, and
			// the queued close would race the writer away before delivery.
			protocol.WriteMessage(p.sess.conn, protocol.NewError(err.Error()))
			p.sess.close()
			continue
		}
		s.admitLocked(p.sess, p.pubkey)
		s.log.Info("queued player admitted", "player", p.sess.id, "roster", s.state.RosterSize())
		if started {
			s.announceRoundLocked()
		}
	}
}

// roundDeadlineExpired drops every player who failed to bid before the
// deadline. The removals either complete the round or abandon it.
func (s *Server) roundDeadlineExpired(round uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentPhase() != game.Active || s.state.CurrentRound() != round {
		return
	}
	s.log.Warn("round deadline expired", "round", round)
	s.broadcastLocked(protocol.NewError(fmt.Sprintf("round %d timed out waiting for bids", round)), "")

	var laggards []string
	for _, p := range s.state.Participants() {
		if !s.state.HasBid(p.ID) {
			laggards = append(laggards, p.ID)
		}
	}
	for _, id := range laggards {
		if s.state.CurrentPhase() != game.Active {
			break
		}
		s.log.Info("dropping player for missing the deadline", "player", id, "round", round)
		s.removePlayerLocked(id)
	}
}

func (s *Server) stopRoundTimerLocked() {
	if s.roundTimer != nil {
		s.roundTimer.Stop()
		s.roundTimer = nil
	}
}
