// Package router implements the message router (spec §4.5, C5): the
// websocket connection registry, per-peer read/write pumps, role-aware
// envelope dispatch, heartbeats and back-pressure.
package router

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/session"
)

// sendQueueDepth bounds a peer's outbound message buffer; a peer that
// can't keep up is dropped rather than let the writer block forever
// (spec §5 "never hold a state lock across I/O" / back-pressure).
const sendQueueDepth = 256

// outbound is one queued message for the writer pump.
type outbound struct {
	msgType int // websocket.TextMessage or websocket.BinaryMessage
	data    []byte
}

// Peer is one websocket connection attached to a session in a given
// role. It implements session.Connection so the session manager can
// close it on displacement or termination without importing this
// package. Grounded on the reader/writer-pump-plus-bounded-channel
// shape used for broadcast fan-out in the retrieval pack's websocket
// hub: a single writer goroutine drains `send`, so gorilla's
// one-writer-at-a-time constraint is never violated.
type Peer struct {
	conn         *websocket.Conn
	sessionID    string
	role         session.Role
	send         chan outbound
	readTimeout  time.Duration
	writeTimeout time.Duration

	closed chan struct{}
}

// NewPeer wraps conn for sessionID/role with the given read/write
// deadlines (spec §4.5.4).
func NewPeer(conn *websocket.Conn, sessionID string, role session.Role, readTimeout, writeTimeout time.Duration) *Peer {
	return &Peer{
		conn:         conn,
		sessionID:    sessionID,
		role:         role,
		send:         make(chan outbound, sendQueueDepth),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Close implements session.Connection.
func (p *Peer) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return p.conn.Close()
}

// enqueue queues msg for the writer pump without blocking. A full
// queue means the peer isn't draining fast enough; it is dropped,
// matching spec §5's no-block-on-I/O rule.
func (p *Peer) enqueue(msgType int, data []byte) bool {
	select {
	case p.send <- outbound{msgType: msgType, data: data}:
		return true
	default:
		logger.Warn("router: peer send queue full, dropping connection", logger.SessionID(p.sessionID), logger.Role(string(p.role)))
		p.Close()
		return false
	}
}

// SendText queues a JSON text frame.
func (p *Peer) SendText(data []byte) bool { return p.enqueue(websocket.TextMessage, data) }

// SendBinary queues a binary chunk frame.
func (p *Peer) SendBinary(data []byte) bool { return p.enqueue(websocket.BinaryMessage, data) }

// writePump drains send and writes to the connection, enforcing the
// per-frame write deadline and periodic pings (spec §4.5.4).
func (p *Peer) writePump() {
	ticker := time.NewTicker(p.readTimeout / 2)
	defer ticker.Stop()
	defer p.conn.Close()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(msg.msgType, msg.data); err != nil {
				logger.Warn("router: write failed, closing peer", logger.SessionID(p.sessionID), logger.Err(err))
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

// readPump reads frames and hands them to handle, resetting the read
// deadline on every inbound frame (spec §4.5.4). It returns when the
// connection closes or errors.
func (p *Peer) readPump(handle func(msgType int, data []byte)) {
	defer p.Close()

	p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		return nil
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		handle(msgType, data)
	}
}
