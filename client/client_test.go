package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinWeiss1995/GreedyPirates/config"
	"github.com/KevinWeiss1995/GreedyPirates/crypto"
	"github.com/KevinWeiss1995/GreedyPirates/exchange"
	"github.com/KevinWeiss1995/GreedyPirates/game"
	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// stubServer scripts the orchestrator's side of one connection.
type stubServer struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	lr   *protocol.LineReader
	keys *crypto.Manager
}

func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	keys, err := crypto.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return &stubServer{t: t, ln: ln, keys: keys}
}

func (s *stubServer) addr() string { return s.ln.Addr().String() }

// accept waits for the client connection and consumes its join.
func (s *stubServer) accept() *protocol.JoinData {
	s.t.Helper()
	conn, err := s.ln.Accept()
	require.NoError(s.t, err)
	s.t.Cleanup(func() { conn.Close() })
	s.conn = conn
	s.lr = protocol.NewLineReader(conn)

	msg, err := s.lr.ReadMessage()
	require.NoError(s.t, err)
	require.Equal(s.t, protocol.KindJoin, msg.Type)
	join, err := msg.Join()
	require.NoError(s.t, err)

	require.NoError(s.t, s.keys.RegisterPeerKey(msg.PlayerID, mustKeyBytes(s.t, join.PublicKey)))
	return join
}

func (s *stubServer) send(m *protocol.Message) {
	s.t.Helper()
	require.NoError(s.t, protocol.WriteMessage(s.conn, m))
}

func (s *stubServer) readBid() *protocol.Message {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := s.lr.ReadMessage()
	require.NoError(s.t, err)
	require.Equal(s.t, protocol.KindBid, msg.Type)
	return msg
}

func mustKeyBytes(t *testing.T, hexKey string) []byte {
	t.Helper()
	key, err := crypto.NewPublicKeyFromString(hexKey)
	require.NoError(t, err)
	return key.Bytes()
}

func testGameConfig() config.GameConfig {
	cfg := config.Default()
	return cfg.Game
}

func newTestClient(t *testing.T, id, name string) *Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(id, name, testGameConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func awaitKind(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for kind %d", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestClient_JoinAndRosterReplay(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))

	join := stub.accept()
	assert.Equal(t, "Anne", join.PlayerName)

	peer, err := crypto.NewManager()
	require.NoError(t, err)

	stub.send(protocol.NewJoin(protocol.ServerID, protocol.ServerID, stub.keys.PublicKey().String()))
	stub.send(protocol.NewJoin("p2", "Blackbeard", peer.PublicKey().String()))

	e := awaitKind(t, c, EventPlayerJoined)
	assert.Equal(t, "p2", e.PlayerID)
	assert.Equal(t, "Blackbeard", e.PlayerName)

	roster := c.Roster()
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"c1", "p2"}, ids)
}

func TestClient_RejectsReservedID(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(protocol.ServerID, "Impostor", testGameConfig(), log)
	assert.Error(t, err)
	_, err = New("", "Nameless", testGameConfig(), log)
	assert.Error(t, err)
}

func TestClient_SubmitBidRequiresActiveRound(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))
	stub.accept()

	assert.ErrorIs(t, c.SubmitBid(10), game.ErrRoundNotActive)
}

func TestClient_SubmitBidShipsKeysOnce(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))
	stub.accept()

	peer, err := crypto.NewManager()
	require.NoError(t, err)
	stub.send(protocol.NewJoin(protocol.ServerID, protocol.ServerID, stub.keys.PublicKey().String()))
	stub.send(protocol.NewJoin("p2", "Blackbeard", peer.PublicKey().String()))
	awaitKind(t, c, EventPlayerJoined)

	stub.send(protocol.NewRoundStarted(1))
	e := awaitKind(t, c, EventRoundStarted)
	assert.EqualValues(t, 1, e.Round)

	require.NoError(t, c.SubmitBid(42))

	msg := stub.readBid()
	round, err := msg.Round()
	require.NoError(t, err)
	assert.EqualValues(t, 1, round)
	data, err := msg.Bid()
	require.NoError(t, err)
	require.Contains(t, data.Shares, protocol.ServerID)
	require.Contains(t, data.Shares, "p2")

	// First bid to each recipient carries the wrapped session key, and the
	// server share opens to the bid value.
	serverShare := data.Shares[protocol.ServerID]
	require.NotEmpty(t, serverShare.Key)
	sessionKey, err := stub.keys.UnwrapSessionKey(serverShare.Key)
	require.NoError(t, err)

	engine := exchange.NewEngine(protocol.ServerID, testGameConfig().TreasureAmount)
	engine.BeginRound(1)
	bid, err := engine.IngestEncryptedBid("c1", 1, serverShare.Payload, sessionKey)
	require.NoError(t, err)
	assert.Equal(t, 42, bid)

	// Second round: same recipients, keys already shipped.
	stub.send(protocol.NewRoundStarted(2))
	awaitKind(t, c, EventRoundStarted)
	require.NoError(t, c.SubmitBid(7))

	msg = stub.readBid()
	data, err = msg.Bid()
	require.NoError(t, err)
	assert.Empty(t, data.Shares[protocol.ServerID].Key)
	assert.Empty(t, data.Shares["p2"].Key)

	engine.BeginRound(2)
	bid, err = engine.IngestEncryptedBid("c1", 2, data.Shares[protocol.ServerID].Payload, sessionKey)
	require.NoError(t, err)
	assert.Equal(t, 7, bid)
}

func TestClient_IngestsPeerBid(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))
	stub.accept()

	peerKeys, err := crypto.NewManager()
	require.NoError(t, err)
	stub.send(protocol.NewJoin(protocol.ServerID, protocol.ServerID, stub.keys.PublicKey().String()))
	stub.send(protocol.NewJoin("p2", "Blackbeard", peerKeys.PublicKey().String()))
	awaitKind(t, c, EventPlayerJoined)

	stub.send(protocol.NewRoundStarted(1))
	awaitKind(t, c, EventRoundStarted)

	// Craft p2's bid addressed to c1, wrapped key riding along.
	require.NoError(t, peerKeys.RegisterPeerKey("c1", c.keys.PublicKey().Bytes()))
	sessionKey, _, err := peerKeys.EnsureSessionKey("c1")
	require.NoError(t, err)
	wrapped, err := peerKeys.WrapSessionKeyFor("c1", sessionKey)
	require.NoError(t, err)

	peerEngine := exchange.NewEngine("p2", testGameConfig().TreasureAmount)
	peerEngine.BeginRound(1)
	payload, err := peerEngine.CreateBidPayload(25, map[string]crypto.SessionKey{"c1": sessionKey})
	require.NoError(t, err)

	stub.send(protocol.NewBid("p2", 1, map[string]protocol.BidShare{
		"c1": {Key: wrapped, Payload: payload["c1"]},
	}))

	require.Eventually(t, func() bool {
		bid, ok := c.VerifiedBids()["p2"]
		return ok && bid == 25
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_AdoptsRoundResultAndGameOver(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))
	stub.accept()

	stub.send(protocol.NewJoin(protocol.ServerID, protocol.ServerID, stub.keys.PublicKey().String()))
	stub.send(protocol.NewRoundStarted(1))
	awaitKind(t, c, EventRoundStarted)

	result := game.PayoutResult{
		Round:    1,
		TotalBid: 90,
		Payouts: map[string]game.Payout{
			"c1": {Name: "Anne", Bid: 30, Share: 30},
			"p2": {Name: "Blackbeard", Bid: 60, Share: 60},
		},
	}
	stub.send(protocol.NewRoundEnded(1, result))

	e := awaitKind(t, c, EventRoundEnded)
	require.NotNil(t, e.Result)
	assert.Equal(t, 90, e.Result.TotalBid)
	assert.Equal(t, 30, c.Scores()["c1"])

	stub.send(protocol.NewGameOver(map[string]int{"c1": 30, "p2": 60}))
	e = awaitKind(t, c, EventGameOver)
	assert.Equal(t, map[string]int{"c1": 30, "p2": 60}, e.FinalScores)
}

func TestClient_SurfacesServerErrorsAndDisconnect(t *testing.T) {
	stub := newStubServer(t)
	c := newTestClient(t, "c1", "Anne")
	require.NoError(t, c.Connect(context.Background(), stub.addr()))
	stub.accept()

	stub.send(protocol.NewError("round abandoned: roster below minimum"))
	e := awaitKind(t, c, EventServerError)
	assert.Contains(t, e.Reason, "abandoned")

	stub.conn.Close()
	awaitKind(t, c, EventDisconnected)
}
