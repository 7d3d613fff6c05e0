package client

import (
	"github.com/KevinWeiss1995/GreedyPirates/crypto"
	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// dispatch applies one server message to the agent's mirrors and surfaces
// the matching event. Messages that fail validation are logged and dropped;
// a bad broadcast must not kill the connection.
func (c *Client) dispatch(msg *protocol.Message) {
	switch msg.Type {
	case protocol.KindJoin:
		c.onJoin(msg)
	case protocol.KindRoundStarted:
		c.onRoundStarted(msg)
	case protocol.KindBid:
		c.onPeerBid(msg)
	case protocol.KindRoundEnded:
		c.onRoundEnded(msg)
	case protocol.KindGameOver:
		c.onGameOver(msg)
	case protocol.KindError:
		c.onServerError(msg)
	}
}

// onJoin registers a roster member's public key. The server replays the
// existing roster (itself included) on connect, then broadcasts each later
// join.
func (c *Client) onJoin(msg *protocol.Message) {
	data, err := msg.Join()
	if err != nil {
		c.log.Warn("join broadcast", "err", err)
		return
	}
	if msg.PlayerID == c.id {
		return
	}

	key, err := crypto.NewPublicKeyFromString(data.PublicKey)
	if err != nil {
		c.log.Warn("join broadcast", "player", msg.PlayerID, "err", err)
		return
	}
	if err := c.keys.RegisterPeerKey(msg.PlayerID, key.Bytes()); err != nil {
		c.log.Warn("register peer", "player", msg.PlayerID, "err", err)
		return
	}

	if msg.PlayerID == protocol.ServerID {
		return
	}
	if _, err := c.mirror.AddParticipant(msg.PlayerID, data.PlayerName); err != nil {
		c.log.Debug("mirror join", "player", msg.PlayerID, "err", err)
	}
	c.emit(Event{Kind: EventPlayerJoined, PlayerID: msg.PlayerID, PlayerName: data.PlayerName})
}

func (c *Client) onRoundStarted(msg *protocol.Message) {
	round, err := msg.Round()
	if err != nil {
		c.log.Warn("round announcement", "err", err)
		return
	}
	if err := c.mirror.BeginRound(round); err != nil {
		c.log.Warn("mirror round", "round", round, "err", err)
		return
	}
	c.engine.BeginRound(round)
	c.emit(Event{Kind: EventRoundStarted, Round: round})
}

// onPeerBid opens the share addressed to this player and records the peer's
// verified bid in the mirror. The shares for other recipients ride the same
// message but are opaque here.
func (c *Client) onPeerBid(msg *protocol.Message) {
	round, err := msg.Round()
	if err != nil {
		c.log.Warn("peer bid", "err", err)
		return
	}
	data, err := msg.Bid()
	if err != nil {
		c.log.Warn("peer bid", "from", msg.PlayerID, "err", err)
		return
	}
	from := msg.PlayerID

	share, ok := data.Shares[c.id]
	if !ok {
		c.log.Debug("peer bid carries no share for us", "from", from)
		return
	}
	if len(share.Key) > 0 {
		key, err := c.keys.UnwrapSessionKey(share.Key)
		if err != nil {
			c.log.Warn("session key from peer", "from", from, "err", err)
			return
		}
		c.keys.SetSessionKey(from, key)
	}
	key, ok := c.keys.SessionKeyFor(from)
	if !ok {
		c.log.Warn("peer bid without a session key", "from", from)
		return
	}

	bid, err := c.engine.IngestEncryptedBid(from, round, share.Payload, key)
	if err != nil {
		c.log.Warn("peer bid rejected", "from", from, "round", round, "err", err)
		return
	}
	if _, err := c.mirror.SubmitVerifiedBid(from, bid); err != nil {
		c.log.Debug("mirror bid", "from", from, "err", err)
	}
}

func (c *Client) onRoundEnded(msg *protocol.Message) {
	data, err := msg.RoundEnded()
	if err != nil {
		c.log.Warn("round result", "err", err)
		return
	}
	c.mirror.AdoptResult(&data.Results)
	c.emit(Event{Kind: EventRoundEnded, Round: data.Results.Round, Result: &data.Results})
}

func (c *Client) onGameOver(msg *protocol.Message) {
	data, err := msg.GameOver()
	if err != nil {
		c.log.Warn("game over", "err", err)
		return
	}
	c.emit(Event{Kind: EventGameOver, FinalScores: data.FinalScores})
}

func (c *Client) onServerError(msg *protocol.Message) {
	reason, err := msg.ErrorReason()
	if err != nil {
		c.log.Warn("server error message", "err", err)
		return
	}
	c.emit(Event{Kind: EventServerError, Reason: reason})
}
