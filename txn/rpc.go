package txn

import (
	"sync"

	"github.com/stormspirit/RAMCloud/cluster"
	"github.com/stormspirit/RAMCloud/wire"
)

// MaxObjectsPerRPC caps how many ops one prepare or decision RPC carries.
const MaxObjectsPerRPC = 75

// RpcState is the lifecycle of one wrapped RPC.
type RpcState int

const (
	RpcNotStarted RpcState = iota
	RpcInProgress
	RpcFinished
	RpcFailed
)

// retrier is the capability the shared wrapper needs from a concrete RPC
// kind: interpret a completed response and recover from a transport
// failure. Both arrange retries through retryRequest.
type retrier interface {
	checkStatus()
	handleTransportError()
}

// rpcWrapper is the send/poll primitive shared by prepare and decision
// RPCs. The transport delivers completion from its own goroutine; the
// wrapper latches it and the task observes it on the poll thread through
// isReady. On the first observation of a result the wrapper runs the
// owner's checkStatus or handleTransportError so that by the time the
// reap loop looks at the RPC, any retry has already been arranged.
type rpcWrapper struct {
	session cluster.Session

	mu   sync.Mutex
	st   RpcState
	resp []byte
	err  error

	// observed is touched only from the poll thread.
	observed bool
}

// Completed implements cluster.ReplyNotifier.
func (w *rpcWrapper) Completed(resp []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.st = RpcFinished
	w.resp = resp
}

// Failed implements cluster.ReplyNotifier.
func (w *rpcWrapper) Failed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.st = RpcFailed
	w.err = err
}

func (w *rpcWrapper) getState() RpcState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st
}

func (w *rpcWrapper) response() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resp
}

func (w *rpcWrapper) markSent() {
	w.mu.Lock()
	w.st = RpcInProgress
	w.mu.Unlock()
}

func (w *rpcWrapper) ready(owner retrier) bool {
	switch w.getState() {
	case RpcNotStarted, RpcInProgress:
		return false
	}
	if !w.observed {
		w.observed = true
		if w.getState() == RpcFailed {
			owner.handleTransportError()
		} else {
			owner.checkStatus()
		}
	}
	return true
}

// PrepareRpc batches prepare ops bound for one master.
type PrepareRpc struct {
	rpcWrapper
	task *Task
	req  *wire.TxPrepareReq
	ops  []*CacheEntry
}

func (t *Task) newPrepareRpc(session cluster.Session) *PrepareRpc {
	rpc := &PrepareRpc{
		task: t,
		req: &wire.TxPrepareReq{
			Lease:            t.lease,
			ParticipantCount: t.participantCount,
			Participants:     t.participants,
		},
	}
	rpc.session = session
	return rpc
}

func (p *PrepareRpc) isReady() bool {
	return p.ready(p)
}

// appendOp adds a cache entry's op to this rpc and marks the entry
// PREPARE. An entry of unknown kind is logged and skipped; it must not
// terminate the task.
func (p *PrepareRpc) appendOp(e *CacheEntry) {
	op := wire.TxPrepareOp{
		TableID:     e.Key.TableID,
		RpcID:       e.RpcID,
		RejectRules: e.RejectRules,
	}
	switch e.Kind {
	case KindRead:
		op.Type = wire.TxOpRead
		op.Payload = e.Object.Key
	case KindRemove:
		op.Type = wire.TxOpRemove
		op.Payload = e.Object.Key
	case KindWrite:
		op.Type = wire.TxOpWrite
		op.Payload = e.Object.MarshalBinary()
	default:
		p.task.log.Errorf("unknown transaction op kind %d", e.Kind)
		return
	}
	p.req.Ops = append(p.req.Ops, op)

	e.State = EntryPrepare
	p.ops = append(p.ops, e)
}

// send dispatches the rpc on its session. The ackId is sampled from the
// rpc tracker at send time.
func (p *PrepareRpc) send() {
	p.req.AckID = p.task.svc.Tracker.AckID()
	p.markSent()
	prepareRpcsSent.Inc()
	p.session.SendRequest(p.req.MarshalBinary(), p)
}

func (p *PrepareRpc) checkStatus() {
	if status, err := wire.ResponseStatus(p.response()); err == nil &&
		status == wire.StatusUnknownTablet {
		p.retryRequest()
	}
}

func (p *PrepareRpc) handleTransportError() {
	// Flush cached state related to this session and to the object
	// mappings; the ops will be retried from the reset cursor.
	if p.session != nil {
		p.task.svc.Transport.FlushSession(p.session.ServiceLocator())
		p.session = nil
	}
	p.retryRequest()
}

// retryRequest arranges for every op carried by this rpc to be prepared
// again: the object-finder cache for each affected table is flushed, the
// entries drop back to PENDING, and the task cursor resets so the batcher
// revisits them, and any other pending entries, in order. RpcIds are
// preserved; retries are entry-level, not task-level.
func (p *PrepareRpc) retryRequest() {
	for _, e := range p.ops {
		p.task.svc.Finder.Flush(e.Key.TableID)
		e.State = EntryPending
	}
	p.task.nextEntry = 0
	rpcRetries.Inc()
}

// DecisionRpc carries the final commit/abort decision to one master.
type DecisionRpc struct {
	rpcWrapper
	task *Task
	req  *wire.TxDecisionReq
	ops  []*CacheEntry
}

func (t *Task) newDecisionRpc(session cluster.Session) *DecisionRpc {
	rpc := &DecisionRpc{
		task: t,
		req: &wire.TxDecisionReq{
			Decision: t.decision,
			LeaseID:  t.lease.LeaseID,
		},
	}
	rpc.session = session
	return rpc
}

func (d *DecisionRpc) isReady() bool {
	return d.ready(d)
}

// appendOp adds a participant tuple to this rpc and marks the entry
// DECIDE.
func (d *DecisionRpc) appendOp(e *CacheEntry) {
	d.req.Participants = append(d.req.Participants, wire.TxParticipant{
		TableID: e.Key.TableID,
		KeyHash: e.Key.KeyHash,
		RpcID:   e.RpcID,
	})
	e.State = EntryDecide
	d.ops = append(d.ops, e)
}

func (d *DecisionRpc) send() {
	d.markSent()
	decisionRpcsSent.Inc()
	d.session.SendRequest(d.req.MarshalBinary(), d)
}

func (d *DecisionRpc) checkStatus() {
	if status, err := wire.ResponseStatus(d.response()); err == nil &&
		status == wire.StatusUnknownTablet {
		d.retryRequest()
	}
}

func (d *DecisionRpc) handleTransportError() {
	if d.session != nil {
		d.task.svc.Transport.FlushSession(d.session.ServiceLocator())
		d.session = nil
	}
	d.retryRequest()
}

// retryRequest mirrors the prepare-side retry: affected entries drop back
// to PENDING and the cursor resets so the decision batcher revisits them.
func (d *DecisionRpc) retryRequest() {
	for _, e := range d.ops {
		d.task.svc.Finder.Flush(e.Key.TableID)
		e.State = EntryPending
	}
	d.task.nextEntry = 0
	rpcRetries.Inc()
}
