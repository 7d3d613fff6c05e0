package server

import (
	"net"
	"sync"

	"github.com/KevinWeiss1995/GreedyPirates/protocol"
)

// outboundDepth bounds the per-client send queue. A client that stops reading
// for this many messages is cut off rather than allowed to stall broadcasts.
const outboundDepth = 64

// session is one connected client: the socket, the player identity once the
// join was accepted, and the outbound queue drained by the writer goroutine.
type session struct {
	id   string
	name string
	conn net.Conn

	out  chan *protocol.Message
	done chan struct{}
	once sync.Once
}

func newSession(conn net.Conn) *session {
	return &session{
		conn: conn,
		out:  make(chan *protocol.Message, outboundDepth),
		done: make(chan struct{}),
	}
}

// send queues a message without blocking. A full queue means the client has
// stopped draining; the session is closed so the reader unblocks and the
// disconnect path takes over.
func (c *session) send(m *protocol.Message) {
	select {
	case c.out <- m:
	case <-c.done:
	default:
		c.close()
	}
}

// close tears the session down. Safe to call from any goroutine, any number
// of times.
func (c *session) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop drains the outbound queue onto the socket. A write failure closes
// the session; the reader unblocks and the disconnect path cleans up.
func (c *session) writeLoop() {
	for {
		select {
		case m := <-c.out:
			if err := protocol.WriteMessage(c.conn, m); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
