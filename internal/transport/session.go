// Package transport owns the one place a raw net.Conn is touched: opening
// the sockets the engine's management surface promises (spec.md §6) and
// shuttling decoded ofp10.Message values to and from them. Per-connection
// framing/TLS/keep-alive tuning is out of scope (spec.md §1); this is the
// minimal plumbing needed to exercise the rest of the engine end to end,
// modeled on contiv/libOpenflow/util's MessageStream (Inbound/Outbound/
// Error/Shutdown channels feeding a read/write goroutine pair).
package transport

import (
	"net"

	log "github.com/Sirupsen/logrus"

	"github.com/crotsos/flowvisor/internal/ofp10"
)

// Session is a live OpenFlow connection to a controller or to a physical
// switch, either accepted by Listen or opened by Dial. The two channel
// handlers (C8, C9) never see the net.Conn directly.
type Session struct {
	Inbound  chan ofp10.Message
	Outbound chan ofp10.Message
	Error    chan error
	shutdown chan struct{}
	conn     net.Conn
}

// NewSession wraps conn and starts its read/write pumps. Callers must
// drain Inbound and Error until Close, or the write pump will eventually
// block.
func NewSession(conn net.Conn) *Session {
	s := &Session{
		Inbound:  make(chan ofp10.Message),
		Outbound: make(chan ofp10.Message),
		Error:    make(chan error, 1),
		shutdown: make(chan struct{}),
		conn:     conn,
	}
	go s.recvLoop()
	go s.sendLoop()
	return s
}

func (s *Session) recvLoop() {
	for {
		msg, err := ofp10.Decode(s.conn)
		if err != nil {
			select {
			case s.Error <- err:
			case <-s.shutdown:
			}
			return
		}
		select {
		case s.Inbound <- msg:
		case <-s.shutdown:
			return
		}
	}
}

func (s *Session) sendLoop() {
	for {
		select {
		case msg := <-s.Outbound:
			b, err := ofp10.Encode(msg)
			if err != nil {
				log.Errorf("transport: failed to encode outbound message: %v", err)
				continue
			}
			if _, err := s.conn.Write(b); err != nil {
				select {
				case s.Error <- err:
				case <-s.shutdown:
				}
				return
			}
		case <-s.shutdown:
			return
		}
	}
}

// Send queues msg for delivery; it never blocks past session shutdown.
func (s *Session) Send(msg ofp10.Message) {
	select {
	case s.Outbound <- msg:
	case <-s.shutdown:
	}
}

// Close tears down the pumps and the underlying connection. Safe to call
// more than once.
func (s *Session) Close() {
	select {
	case <-s.shutdown:
		return
	default:
		close(s.shutdown)
	}
	_ = s.conn.Close()
}

// RemoteAddr identifies the peer for logging.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}
