// Package client assembles the transaction client: transport, object
// finder, lease, rpc tracker and the transaction manager, plus the
// non-transactional single-object operations.
package client

import (
	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/cluster"
	"github.com/stormspirit/RAMCloud/lease"
	"github.com/stormspirit/RAMCloud/rpctracker"
	"github.com/stormspirit/RAMCloud/txn"
	"github.com/stormspirit/RAMCloud/wire"
)

// Client is one application's handle to the cluster. All of its tasks
// are driven cooperatively from the poll loop; the client itself takes
// no locks.
type Client struct {
	transport *cluster.TransportManager
	finder    txn.ObjectFinder
	lease     txn.LeaseProvider
	tracker   txn.RpcTracker
	mgr       *txn.Manager
	svc       *txn.Services
	log       *log.Entry
}

// New creates a client resolving tablets through source and dialing
// masters over TCP.
func New(logger *log.Logger, source cluster.TabletSource) *Client {
	return newWithTransport(logger, source, cluster.NewTransportManager(logger))
}

func newWithTransport(logger *log.Logger, source cluster.TabletSource,
	tm *cluster.TransportManager) *Client {

	c := &Client{
		transport: tm,
		finder:    cluster.NewFinder(logger, source, tm),
		lease:     lease.NewManager(logger),
		tracker:   rpctracker.NewTracker(logger),
		mgr:       txn.NewManager(logger),
		log:       logger.WithField("component", "client"),
	}
	c.svc = &txn.Services{
		Finder:    c.finder,
		Transport: c.transport,
		Lease:     c.lease,
		Tracker:   c.tracker,
		Reader:    c,
		Poll:      c.Poll,
		Logger:    logger,
	}
	return c
}

// Poll advances all active transaction tasks. The embedding application
// calls it from its event loop; Transaction.Commit also drives it while
// waiting.
func (c *Client) Poll() {
	c.mgr.Poll()
}

// NewTransaction starts an empty transaction.
func (c *Client) NewTransaction() *txn.Transaction {
	return txn.NewTransaction(c.svc, c.mgr)
}

// replyWaiter adapts the asynchronous session contract to the
// synchronous single-object operations.
type replyWaiter struct {
	ch chan replyResult
}

type replyResult struct {
	resp []byte
	err  error
}

func newReplyWaiter() *replyWaiter {
	return &replyWaiter{ch: make(chan replyResult, 1)}
}

func (w *replyWaiter) Completed(resp []byte) {
	w.ch <- replyResult{resp: resp}
}

func (w *replyWaiter) Failed(err error) {
	w.ch <- replyResult{err: err}
}

// call routes one request to the master owning (tableID, keyHash) and
// waits for the response. Transport failures and topology misses flush
// the stale state and retry; liveness relies on the finder eventually
// resolving the correct owner.
func (c *Client) call(tableID, keyHash uint64, req []byte) ([]byte, error) {
	for {
		session, err := c.finder.Lookup(tableID, keyHash)
		if err != nil {
			return nil, err
		}

		w := newReplyWaiter()
		session.SendRequest(req, w)
		r := <-w.ch
		if r.err != nil {
			c.log.Warnf("request failed, retrying: %s", r.err)
			c.transport.FlushSession(session.ServiceLocator())
			c.finder.Flush(tableID)
			continue
		}

		status, err := wire.ResponseStatus(r.resp)
		if err != nil {
			return nil, wire.NewStatusError(wire.StatusResponseFormatError)
		}
		if status == wire.StatusUnknownTablet {
			c.log.Infof("table %d moved, refreshing tablet map", tableID)
			c.finder.Flush(tableID)
			continue
		}
		return r.resp, nil
	}
}

// ReadObject fetches one object and its version. It also serves the
// transaction read path (txn.ObjectReader).
func (c *Client) ReadObject(tableID uint64, key []byte) ([]byte, uint64, error) {
	req := wire.ReadReq{TableID: tableID, Key: key}
	raw, err := c.call(tableID, wire.KeyHash(key), req.MarshalBinary())
	if err != nil {
		return nil, 0, err
	}
	resp, err := wire.ParseReadResp(raw)
	if err != nil {
		return nil, 0, wire.NewStatusError(wire.StatusResponseFormatError)
	}
	if resp.Status != wire.StatusOK {
		return nil, 0, wire.NewStatusError(resp.Status)
	}
	return resp.Value, resp.Version, nil
}

// Read returns the current value of an object.
func (c *Client) Read(tableID uint64, key []byte) ([]byte, error) {
	value, _, err := c.ReadObject(tableID, key)
	return value, err
}

// Write stores one object outside any transaction.
func (c *Client) Write(tableID uint64, key, value []byte) error {
	req := wire.WriteReq{TableID: tableID, Key: key, Value: value}
	raw, err := c.call(tableID, wire.KeyHash(key), req.MarshalBinary())
	if err != nil {
		return err
	}
	resp, err := wire.ParseWriteResp(raw)
	if err != nil {
		return wire.NewStatusError(wire.StatusResponseFormatError)
	}
	if resp.Status != wire.StatusOK {
		return wire.NewStatusError(resp.Status)
	}
	return nil
}

// Remove deletes one object outside any transaction. Removing an object
// that doesn't exist succeeds.
func (c *Client) Remove(tableID uint64, key []byte) error {
	req := wire.RemoveReq{TableID: tableID, Key: key}
	raw, err := c.call(tableID, wire.KeyHash(key), req.MarshalBinary())
	if err != nil {
		return err
	}
	resp, err := wire.ParseRemoveResp(raw)
	if err != nil {
		return wire.NewStatusError(wire.StatusResponseFormatError)
	}
	if resp.Status != wire.StatusOK && resp.Status != wire.StatusObjectDoesntExist {
		return wire.NewStatusError(resp.Status)
	}
	return nil
}
