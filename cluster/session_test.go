package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	ch chan result
}

type result struct {
	resp []byte
	err  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan result, 1)}
}

func (n *recordingNotifier) Completed(resp []byte) { n.ch <- result{resp: resp} }
func (n *recordingNotifier) Failed(err error)      { n.ch <- result{err: err} }

func (n *recordingNotifier) wait(t *testing.T) result {
	select {
	case r := <-n.ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reply within deadline")
		return result{}
	}
}

// echoServer accepts one connection and answers every frame with its
// payload reversed.
func echoServer(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			req, err := readFrame(conn)
			if err != nil {
				return
			}
			resp := make([]byte, len(req))
			for i, b := range req {
				resp[len(req)-1-i] = b
			}
			if err := writeFrame(conn, resp); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestTCPSessionRoundTrip(t *testing.T) {
	ln := echoServer(t)
	defer ln.Close()

	s, err := dialTCP(testLogger(), ln.Addr().String())
	assert.NoError(t, err)
	assert.Equal(t, ln.Addr().String(), s.ServiceLocator())

	n := newRecordingNotifier()
	s.SendRequest([]byte{1, 2, 3}, n)
	r := n.wait(t)
	assert.NoError(t, r.err)
	assert.Equal(t, []byte{3, 2, 1}, r.resp)

	// The session is reusable for further requests.
	n2 := newRecordingNotifier()
	s.SendRequest([]byte{9}, n2)
	r2 := n2.wait(t)
	assert.NoError(t, r2.err)
	assert.Equal(t, []byte{9}, r2.resp)
}

func TestTCPSessionTransportFailure(t *testing.T) {
	ln := echoServer(t)
	s, err := dialTCP(testLogger(), ln.Addr().String())
	assert.NoError(t, err)

	// Kill the server; the next request must report a failure.
	ln.Close()
	s.(*tcpSession).conn.Close()

	n := newRecordingNotifier()
	s.SendRequest([]byte{1}, n)
	r := n.wait(t)
	assert.Error(t, r.err)
}

func TestDialTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = dialTCP(testLogger(), addr)
	assert.Error(t, err)
}
