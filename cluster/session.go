// Package cluster provides the client's view of the server fleet: sessions
// to individual masters, the transport manager that caches them, and the
// object finder that maps keys to the master owning them.
package cluster

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ReplyNotifier receives the outcome of a request sent on a session.
// Exactly one of the two methods is invoked, possibly from a transport
// goroutine; implementations must latch the result and let their owner
// observe it from the client's poll thread.
type ReplyNotifier interface {
	// Completed delivers the raw response frame.
	Completed(resp []byte)
	// Failed reports a transport-level failure. The session is no longer
	// usable and should be flushed from the transport manager.
	Failed(err error)
}

// Session is a channel to one master. Service locators are compared for
// equality when batching ops of co-located keys into a single RPC.
type Session interface {
	// SendRequest dispatches a request frame and arranges for n to be
	// notified with the result. It does not block on network I/O.
	SendRequest(req []byte, n ReplyNotifier)
	// ServiceLocator identifies the server endpoint this session talks to.
	ServiceLocator() string
}

// tcpSession is a Session over a plain TCP connection. Frames are a u32
// little-endian length followed by the payload. Requests on one session
// are serialized; the masters process them in arrival order.
type tcpSession struct {
	locator string
	conn    net.Conn
	mu      sync.Mutex
	log     *log.Entry
}

func dialTCP(logger *log.Logger, locator string) (Session, error) {
	conn, err := net.Dial("tcp", locator)
	if err != nil {
		return nil, fmt.Errorf("unable to reach master at %s: %s", locator, err)
	}
	return &tcpSession{
		locator: locator,
		conn:    conn,
		log:     logger.WithField("component", "session"),
	}, nil
}

func (s *tcpSession) ServiceLocator() string {
	return s.locator
}

func (s *tcpSession) SendRequest(req []byte, n ReplyNotifier) {
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := writeFrame(s.conn, req); err != nil {
			s.log.Warnf("send to %s failed: %s", s.locator, err)
			n.Failed(err)
			return
		}
		resp, err := readFrame(s.conn)
		if err != nil {
			s.log.Warnf("receive from %s failed: %s", s.locator, err)
			n.Failed(err)
			return
		}
		n.Completed(resp)
	}()
}

func (s *tcpSession) close() {
	s.conn.Close()
}

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
