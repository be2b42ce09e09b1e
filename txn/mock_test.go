package txn

import (
	"errors"
	"io/ioutil"

	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/cluster"
	"github.com/stormspirit/RAMCloud/rpctracker"
	"github.com/stormspirit/RAMCloud/wire"
)

// fakeMaster records the requests a test master receives and answers them
// synchronously. Status queues let tests inject one-shot conditions like
// STATUS_UNKNOWN_TABLET; once drained, responses are STATUS_OK.
type fakeMaster struct {
	locator string
	vote    wire.Vote

	prepareStatuses  []wire.Status
	decisionStatuses []wire.Status
	failNext         int

	prepares  []*wire.TxPrepareReq
	decisions []*wire.TxDecisionReq
}

func newFakeMaster(locator string) *fakeMaster {
	return &fakeMaster{locator: locator, vote: wire.VoteCommit}
}

func popStatus(q *[]wire.Status) wire.Status {
	if len(*q) == 0 {
		return wire.StatusOK
	}
	s := (*q)[0]
	*q = (*q)[1:]
	return s
}

type fakeSession struct {
	master *fakeMaster
}

func (s *fakeSession) ServiceLocator() string { return s.master.locator }

func (s *fakeSession) SendRequest(req []byte, n cluster.ReplyNotifier) {
	m := s.master
	if m.failNext > 0 {
		m.failNext--
		n.Failed(errors.New("transport failure"))
		return
	}

	op, payload, err := wire.ParseOpcode(req)
	if err != nil {
		n.Failed(err)
		return
	}
	switch op {
	case wire.OpTxPrepare:
		preq, err := wire.ParseTxPrepareReq(payload)
		if err != nil {
			n.Failed(err)
			return
		}
		m.prepares = append(m.prepares, preq)
		resp := wire.TxPrepareResp{Status: popStatus(&m.prepareStatuses), Vote: m.vote}
		n.Completed(resp.MarshalBinary())
	case wire.OpTxDecision:
		dreq, err := wire.ParseTxDecisionReq(payload)
		if err != nil {
			n.Failed(err)
			return
		}
		m.decisions = append(m.decisions, dreq)
		resp := wire.TxDecisionResp{Status: popStatus(&m.decisionStatuses)}
		n.Completed(resp.MarshalBinary())
	default:
		n.Failed(errors.New("unexpected opcode"))
	}
}

// fakeCluster is the object finder and transport manager rolled into one.
// Key ownership is decided per key hash, defaulting to a single master.
type fakeCluster struct {
	masters map[string]*fakeMaster
	// owner maps a key hash to a master locator; missing hashes fall back
	// to defaultOwner.
	owner        map[uint64]string
	defaultOwner string

	tableFlushes   []uint64
	sessionFlushes []string
}

func newFakeCluster(locators ...string) *fakeCluster {
	c := &fakeCluster{
		masters:      make(map[string]*fakeMaster),
		owner:        make(map[uint64]string),
		defaultOwner: locators[0],
	}
	for _, l := range locators {
		c.masters[l] = newFakeMaster(l)
	}
	return c
}

func (c *fakeCluster) own(key string, locator string) {
	c.owner[wire.KeyHash([]byte(key))] = locator
}

func (c *fakeCluster) Lookup(tableID, keyHash uint64) (cluster.Session, error) {
	locator, ok := c.owner[keyHash]
	if !ok {
		locator = c.defaultOwner
	}
	return &fakeSession{master: c.masters[locator]}, nil
}

func (c *fakeCluster) Flush(tableID uint64) {
	c.tableFlushes = append(c.tableFlushes, tableID)
}

func (c *fakeCluster) FlushSession(locator string) {
	c.sessionFlushes = append(c.sessionFlushes, locator)
}

func (c *fakeCluster) prepareCount() int {
	n := 0
	for _, m := range c.masters {
		n += len(m.prepares)
	}
	return n
}

func (c *fakeCluster) decisionCount() int {
	n := 0
	for _, m := range c.masters {
		n += len(m.decisions)
	}
	return n
}

type fakeLease struct {
	lease wire.Lease
}

func (l *fakeLease) GetLease() wire.Lease { return l.lease }

// fakeTracker hands out ids from a fixed start so tests can assert exact
// rpc id assignment.
type fakeTracker struct {
	next     uint64
	blocks   map[uint64]int
	finished []uint64
	ackID    uint64
}

func newFakeTracker(first uint64) *fakeTracker {
	return &fakeTracker{next: first, blocks: make(map[uint64]int)}
}

func (tr *fakeTracker) NewRpcIDBlock(owner rpctracker.TrackedRpc, n int) uint64 {
	first := tr.next
	tr.blocks[first] = n
	tr.next += uint64(n)
	return first
}

func (tr *fakeTracker) AckID() uint64 { return tr.ackID }

func (tr *fakeTracker) RpcFinished(txID uint64) {
	tr.finished = append(tr.finished, txID)
}

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

func newTestServices(fc *fakeCluster, tr *fakeTracker) *Services {
	return &Services{
		Finder:    fc,
		Transport: fc,
		Lease:     &fakeLease{lease: wire.Lease{LeaseID: 7, Expiration: 1000, Timestamp: 900}},
		Tracker:   tr,
		Logger:    testLogger(),
	}
}

// drive steps the task until DONE and reports whether it got there
// within 100 steps.
func drive(t *Task) bool {
	for i := 0; i < 100; i++ {
		if t.State() == TaskDone {
			return true
		}
		t.PerformStep()
	}
	return t.State() == TaskDone
}
