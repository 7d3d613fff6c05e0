package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/KevinWeiss1995/GreedyPirates/config"
	"github.com/KevinWeiss1995/GreedyPirates/crypto"
	"github.com/KevinWeiss1995/GreedyPirates/exchange"
	"github.com/KevinWeiss1995/GreedyPirates/game"
	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// EventKind tags the events the agent surfaces to its caller.
type EventKind int

const (
	// EventPlayerJoined announces another player entering the roster.
	EventPlayerJoined EventKind = iota
	// EventRoundStarted announces a new round accepting bids.
	EventRoundStarted
	// EventRoundEnded carries the authoritative payout result.
	EventRoundEnded
	// EventGameOver carries the final scores.
	EventGameOver
	// EventServerError relays an error broadcast, including round
	// abandonment notices.
	EventServerError
	// EventDisconnected is the last event before the stream closes.
	EventDisconnected
)

// Event is one game observation.
type Event struct {
	Kind        EventKind
	Round       uint64
	PlayerID    string
	PlayerName  string
	Result      *game.PayoutResult
	FinalScores map[string]int
	Reason      string
}

// Client is a connected peer agent.
type Client struct {
	id   string
	name string
	log  *slog.Logger

	keys   *crypto.Manager
	engine *exchange.Engine
	mirror *game.State

	mu      sync.Mutex
	conn    net.Conn
	shipped map[string]bool // outbound session key already sent to peer

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// New creates an agent with a fresh keypair. The game config must match the
// server's bid bounds.
func New(id, name string, cfg config.GameConfig, log *slog.Logger) (*Client, error) {
	if id == "" || id == protocol.ServerID {
		return nil, fmt.Errorf("invalid player id %q", id)
	}
	keys, err := crypto.NewManager()
	if err != nil {
		return nil, fmt.Errorf("player keypair: %w", err)
	}

	mirror := game.NewMirror(cfg.MaxRounds, cfg.TreasureAmount)
	if _, err := mirror.AddParticipant(id, name); err != nil {
		return nil, err
	}

	return &Client{
		id:      id,
		name:    name,
		log:     log,
		keys:    keys,
		engine:  exchange.NewEngine(id, cfg.TreasureAmount),
		mirror:  mirror,
		shipped: make(map[string]bool),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the orchestrator, announces the player and starts the read
// loop. Events flow on Events() until the connection drops.
func (c *Client) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn

	join := protocol.NewJoin(c.id, c.name, c.keys.PublicKey().String())
	if err := protocol.WriteMessage(conn, join); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	return nil
}

// Events returns the observation stream. The channel closes after
// EventDisconnected.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close hangs up. The read loop emits EventDisconnected and closes the
// event stream.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SubmitBid encrypts the bid for every known peer and the server and sends
// it for the current round. First-time recipients get the wrapped session
// key alongside their share.
func (c *Client) SubmitBid(bid int) error {
	if c.mirror.CurrentPhase() != game.Active {
		return game.ErrRoundNotActive
	}
	round := c.engine.Round()

	c.mu.Lock()
	defer c.mu.Unlock()

	recipients := c.keys.KnownPeers()
	if len(recipients) == 0 {
		return errors.New("no peers known yet")
	}

	sessionKeys := make(map[string]crypto.SessionKey, len(recipients))
	for _, peer := range recipients {
		key, _, err := c.keys.EnsureSessionKey(peer)
		if err != nil {
			return err
		}
		sessionKeys[peer] = key
	}

	payload, err := c.engine.CreateBidPayload(bid, sessionKeys)
	if err != nil {
		return err
	}

	shares := make(map[string]protocol.BidShare, len(payload))
	for peer, ciphertext := range payload {
		share := protocol.BidShare{Payload: ciphertext}
		if !c.shipped[peer] {
			wrapped, err := c.keys.WrapSessionKeyFor(peer, sessionKeys[peer])
			if err != nil {
				return err
			}
			share.Key = wrapped
		}
		shares[peer] = share
	}

	if err := protocol.WriteMessage(c.conn, protocol.NewBid(c.id, round, shares)); err != nil {
		return err
	}
	for peer := range payload {
		c.shipped[peer] = true
	}
	if _, err := c.mirror.SubmitVerifiedBid(c.id, bid); err != nil {
		c.log.Debug("mirror bid", "err", err)
	}
	return nil
}

// Round returns the round currently accepting bids (0 before the first).
func (c *Client) Round() uint64 {
	return c.engine.Round()
}

// VerifiedBids returns the bids this agent has verified for the current
// round, its own included. Recipients learn bid values as shares arrive;
// only the payout ruling waits for the round to close.
func (c *Client) VerifiedBids() map[string]int {
	return c.engine.VerifiedBids()
}

// Roster returns the known players, this one included.
func (c *Client) Roster() []game.Participant {
	return c.mirror.Participants()
}

// Scores returns the mirrored cumulative scores.
func (c *Client) Scores() map[string]int {
	return c.mirror.FinalScores()
}

func (c *Client) readLoop() {
	lr := protocol.NewLineReader(c.conn)
	for {
		msg, err := lr.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				c.log.Warn("malformed message from server", "err", err)
				continue
			}
			if err != io.EOF {
				c.log.Debug("read loop ended", "err", err)
			}
			break
		}
		c.dispatch(msg)
	}

	c.emit(Event{Kind: EventDisconnected})
	close(c.events)
	c.Close()
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}
