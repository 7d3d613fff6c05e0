package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/KevinWeiss1995/GreedyPirates/config"
	"github.com/KevinWeiss1995/GreedyPirates/crypto"
	"github.com/KevinWeiss1995/GreedyPirates/exchange"
	"github.com/KevinWeiss1995/GreedyPirates/game"
	"github.com/KevinWeiss1995/GreedyPirates/metrics"
	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// joinWindow bounds how long a fresh connection may sit silent before its
// first message.
const joinWindow = 30 * time.Second

// Server is the connection orchestrator.
type Server struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *metrics.ServerMetrics

	keys   *crypto.Manager
	state  *game.State
	engine *exchange.Engine

	// mu orders all game decisions: joins, bids, disconnects, round
	// transitions and the deadline timer.
	mu         sync.Mutex
	sessions   map[string]*session
	pending    []*pendingJoin
	roundTimer *time.Timer

	ln      net.Listener
	admin   *http.Server
	running *atomic.Bool
	wg      sync.WaitGroup
}

// pendingJoin is a player who asked to join while a round was active. They
// are admitted when the round closes.
type pendingJoin struct {
	sess   *session
	name   string
	pubkey []byte
}

// New creates an orchestrator with a fresh server keypair.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	keys, err := crypto.NewManager()
	if err != nil {
		return nil, fmt.Errorf("server keypair: %w", err)
	}
	return &Server{
		log:      log,
		cfg:      cfg,
		metrics:  metrics.NewServerMetrics(),
		keys:     keys,
		state:    game.NewState(cfg.Game.MinPlayers, cfg.Game.MaxPlayers, cfg.Game.MaxRounds, cfg.Game.TreasureAmount),
		engine:   exchange.NewEngine(protocol.ServerID, cfg.Game.TreasureAmount),
		sessions: make(map[string]*session),
		running:  atomic.NewBool(false),
	}, nil
}

// Start binds the game listener and, if configured, the admin endpoint, then
// begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	s.ln = ln
	s.running.Store(true)

	if s.cfg.Server.AdminAddr != "" {
		s.admin = &http.Server{
			Addr:         s.cfg.Server.AdminAddr,
			Handler:      s.adminRouter(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("admin endpoint failed", "err", err)
			}
		}()
	}

	s.log.Info("listening",
		"addr", ln.Addr().String(),
		"min_players", s.cfg.Game.MinPlayers,
		"max_players", s.cfg.Game.MaxPlayers,
		"rounds", s.cfg.Game.MaxRounds,
		"treasure", s.cfg.Game.TreasureAmount)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound game listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener and all client connections and waits for the
// connection goroutines to drain.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	s.stopRoundTimerLocked()
	for _, sess := range s.sessions {
		sess.close()
	}
	for _, p := range s.pending {
		p.sess.close()
	}
	s.mu.Unlock()

	var err error
	if s.admin != nil {
		err = s.admin.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.metrics.ConnectionsAccepted.Inc()
		s.metrics.ActiveConnections.Inc()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn is the per-connection reader. The first message must be a join;
// afterwards the loop dispatches bids until the peer hangs up.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.metrics.ActiveConnections.Dec()

	sess := newSession(conn)
	lr := protocol.NewLineReader(conn)

	conn.SetReadDeadline(time.Now().Add(joinWindow))
	first, err := lr.ReadMessage()
	if err != nil || first.Type != protocol.KindJoin {
		s.metrics.MessagesRejected.Inc()
		protocol.WriteMessage(conn, protocol.NewError("expected a join message"))
		sess.close()
		return
	}
	s.metrics.MessagesReceived.WithLabelValues(string(protocol.KindJoin)).Inc()

	if err := s.handleJoin(sess, first); err != nil {
		s.log.Info("join refused", "player", first.PlayerID, "err", err)
		protocol.WriteMessage(conn, protocol.NewError(err.Error()))
		sess.close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.writeLoop()
	}()

	for {
		msg, err := lr.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				s.metrics.MessagesRejected.Inc()
				sess.send(protocol.NewError("malformed message"))
				continue
			}
			if err != io.EOF && s.running.Load() {
				s.log.Debug("connection read ended", "player", sess.id, "err", err)
			}
			break
		}
		s.metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

		switch msg.Type {
		case protocol.KindBid:
			if err := s.handleBid(sess, msg); err != nil {
				s.metrics.MessagesRejected.Inc()
				s.log.Info("bid refused", "player", sess.id, "err", err)
				sess.send(protocol.NewError(err.Error()))
			}
		default:
			s.metrics.MessagesRejected.Inc()
			sess.send(protocol.NewError(fmt.Sprintf("unexpected %s message", msg.Type)))
		}
	}

	s.disconnect(sess)
}

// broadcastLocked queues a message for every connected player except the one
// named. An empty except sends to everyone. Queueing never blocks; a stalled
// client is closed by its own session.
func (s *Server) broadcastLocked(msg *protocol.Message, except string) {
	s.metrics.Broadcasts.WithLabelValues(string(msg.Type)).Inc()
	for id, sess := range s.sessions {
		if id == except {
			continue
		}
		sess.send(msg)
	}
}
