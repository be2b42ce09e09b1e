package txn

import (
	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/cluster"
	"github.com/stormspirit/RAMCloud/rpctracker"
	"github.com/stormspirit/RAMCloud/wire"
)

// ObjectFinder maps a key's hash to a session on the master owning it.
type ObjectFinder interface {
	Lookup(tableID, keyHash uint64) (cluster.Session, error)
	// Flush invalidates the cached mapping for tableID after a topology
	// change was observed.
	Flush(tableID uint64)
}

// SessionFlusher discards a cached session after a transport failure.
type SessionFlusher interface {
	FlushSession(serviceLocator string)
}

// LeaseProvider returns the client's current lease.
type LeaseProvider interface {
	GetLease() wire.Lease
}

// RpcTracker reserves and releases the rpc ids that name participants.
type RpcTracker interface {
	NewRpcIDBlock(owner rpctracker.TrackedRpc, n int) uint64
	AckID() uint64
	RpcFinished(txID uint64)
}

// ObjectReader performs a one-shot read outside the transaction; reads
// that miss the commit cache go through it.
type ObjectReader interface {
	ReadObject(tableID uint64, key []byte) (value []byte, version uint64, err error)
}

// Services bundles the process-wide collaborators a transaction task
// uses. The whole client is single-threaded cooperative, so they are
// accessed without locking.
type Services struct {
	Finder    ObjectFinder
	Transport SessionFlusher
	Lease     LeaseProvider
	Tracker   RpcTracker
	Reader    ObjectReader

	// Poll advances the whole client (transport and all active tasks).
	// TryFinish uses it; when nil, TryFinish steps only its own task.
	Poll func()

	Logger *log.Logger
}

// TaskState is the phase of the commit protocol a task is in.
type TaskState int

const (
	TaskInit TaskState = iota
	TaskPrepare
	TaskDecision
	TaskDone
)

func (s TaskState) String() string {
	switch s {
	case TaskInit:
		return "INIT"
	case TaskPrepare:
		return "PREPARE"
	case TaskDecision:
		return "DECISION"
	case TaskDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Task drives one transaction through the commit protocol. It is created
// with an empty commit cache, populated through the owning Transaction,
// and then stepped by the task manager until DONE.
type Task struct {
	svc *Services

	cache *commitCache
	// order and nextEntry are the protocol cursor: the cache frozen in
	// ascending key order at init, and the index the batchers resume from.
	order     []*CacheEntry
	nextEntry int

	state    TaskState
	status   wire.Status
	decision wire.Decision

	lease            wire.Lease
	txID             uint64
	participantCount uint32
	participants     []wire.TxParticipant

	prepareRpcs  []*PrepareRpc
	decisionRpcs []*DecisionRpc

	log *log.Entry
}

// NewTask creates an empty transaction task.
func NewTask(svc *Services) *Task {
	return &Task{
		svc:   svc,
		cache: newCommitCache(),
		log:   svc.Logger.WithField("component", "txntask"),
	}
}

// State returns the task's protocol phase.
func (t *Task) State() TaskState { return t.state }

// Status returns the terminal status. It is meaningful once the task is
// DONE; OK unless a fatal protocol error occurred.
func (t *Task) Status() wire.Status { return t.status }

// Decision returns the transaction outcome. Once ABORT it never reverts.
func (t *Task) Decision() wire.Decision { return t.decision }

// PerformStep makes incremental progress toward committing the
// transaction. The task manager calls it from the poll loop; it never
// blocks on network I/O. The phase checks fall through so a task can
// advance from INIT into DECISION in one call when nothing blocks.
func (t *Task) PerformStep() {
	err := t.step()
	if err == nil {
		return
	}
	// Any problem with the commit protocol stops the task.
	t.prepareRpcs = nil
	t.decisionRpcs = nil
	t.status = wire.StatusOf(err)
	t.log.Errorf("commit protocol failed: %s", err)
	t.svc.Tracker.RpcFinished(t.txID)
	t.state = TaskDone
	failedTasks.Inc()
}

func (t *Task) step() error {
	if t.state == TaskInit {
		t.initTask()
		t.nextEntry = 0
		t.state = TaskPrepare
	}
	if t.state == TaskPrepare {
		if err := t.processPrepareRpcs(); err != nil {
			return err
		}
		if err := t.sendPrepareRpc(); err != nil {
			return err
		}
		if len(t.prepareRpcs) == 0 && t.nextEntry == len(t.order) {
			t.nextEntry = 0
			if t.decision != wire.DecisionAbort {
				t.decision = wire.DecisionCommit
			}
			t.state = TaskDecision
		}
	}
	if t.state == TaskDecision {
		if err := t.processDecisionRpcs(); err != nil {
			return err
		}
		if err := t.sendDecisionRpc(); err != nil {
			return err
		}
		if len(t.decisionRpcs) == 0 && t.nextEntry == len(t.order) {
			t.svc.Tracker.RpcFinished(t.txID)
			t.state = TaskDone
			if t.decision == wire.DecisionCommit {
				committedTasks.Inc()
			} else {
				abortedTasks.Inc()
			}
		}
	}
	return nil
}

// initTask acquires the lease, reserves the rpc id block, and builds the
// participant list included in every prepare RPC. Participants are in
// cache order, so the i-th entry's rpc id is txId+i.
func (t *Task) initTask() {
	t.lease = t.svc.Lease.GetLease()
	t.txID = t.svc.Tracker.NewRpcIDBlock(t, t.cache.len())

	t.order = t.cache.ordered()
	t.participants = make([]wire.TxParticipant, 0, len(t.order))
	for i, e := range t.order {
		e.RpcID = t.txID + uint64(i)
		t.participants = append(t.participants, wire.TxParticipant{
			TableID: e.Key.TableID,
			KeyHash: e.Key.KeyHash,
			RpcID:   e.RpcID,
		})
	}
	t.participantCount = uint32(len(t.order))
}

// processPrepareRpcs reaps completed prepare RPCs. A non-COMMIT vote
// makes the task's decision ABORT, and it stays ABORT.
func (t *Task) processPrepareRpcs() error {
	remaining := t.prepareRpcs[:0]
	for _, rpc := range t.prepareRpcs {
		if !rpc.isReady() {
			remaining = append(remaining, rpc)
			continue
		}

		if rpc.getState() == RpcFailed {
			// Nothing to do. Retry has already been arranged.
			t.log.Debug("prepare rpc failed, retry arranged")
		} else {
			resp, err := wire.ParseTxPrepareResp(rpc.response())
			if err != nil {
				return wire.NewStatusError(wire.StatusResponseFormatError)
			}
			switch resp.Status {
			case wire.StatusOK:
				if resp.Vote != wire.VoteCommit {
					t.decision = wire.DecisionAbort
				}
			case wire.StatusUnknownTablet:
				// Nothing to do. Will be retried.
				t.log.Debug("prepare hit an unknown tablet, retry arranged")
			default:
				return wire.NewStatusError(resp.Status)
			}
		}
	}
	t.prepareRpcs = remaining
	return nil
}

// sendPrepareRpc issues at most one additional prepare RPC, batching
// consecutive cache entries that resolve to the same master. The first
// non-skipped entry's session anchors the batch.
func (t *Task) sendPrepareRpc() error {
	var rpc *PrepareRpc
	for ; t.nextEntry < len(t.order); t.nextEntry++ {
		e := t.order[t.nextEntry]

		if e.State == EntryPrepare || e.State == EntryDecide {
			continue
		}

		session, err := t.svc.Finder.Lookup(e.Key.TableID, e.Key.KeyHash)
		if err != nil {
			return err
		}

		if rpc == nil {
			rpc = t.newPrepareRpc(session)
		}
		if session.ServiceLocator() == rpc.session.ServiceLocator() &&
			len(rpc.req.Ops) < MaxObjectsPerRPC {
			rpc.appendOp(e)
		} else {
			break
		}
	}
	if rpc != nil && len(rpc.req.Ops) > 0 {
		rpc.send()
		t.prepareRpcs = append(t.prepareRpcs, rpc)
	}
	return nil
}

// processDecisionRpcs reaps completed decision RPCs. By this phase the
// vote is final; only fatal statuses matter.
func (t *Task) processDecisionRpcs() error {
	remaining := t.decisionRpcs[:0]
	for _, rpc := range t.decisionRpcs {
		if !rpc.isReady() {
			remaining = append(remaining, rpc)
			continue
		}

		if rpc.getState() == RpcFailed {
			// Nothing to do. Retry has already been arranged.
			t.log.Debug("decision rpc failed, retry arranged")
		} else {
			status, err := wire.ResponseStatus(rpc.response())
			if err != nil {
				return wire.NewStatusError(wire.StatusResponseFormatError)
			}
			switch status {
			case wire.StatusOK:
			case wire.StatusUnknownTablet:
				// Nothing to do. Will be retried.
				t.log.Debug("decision hit an unknown tablet, retry arranged")
			default:
				return wire.NewStatusError(status)
			}
		}
	}
	t.decisionRpcs = remaining
	return nil
}

// sendDecisionRpc issues at most one additional decision RPC, batched
// the same way prepares are.
func (t *Task) sendDecisionRpc() error {
	var rpc *DecisionRpc
	for ; t.nextEntry < len(t.order); t.nextEntry++ {
		e := t.order[t.nextEntry]

		if e.State == EntryDecide {
			continue
		}

		session, err := t.svc.Finder.Lookup(e.Key.TableID, e.Key.KeyHash)
		if err != nil {
			return err
		}

		if rpc == nil {
			rpc = t.newDecisionRpc(session)
		}
		if session.ServiceLocator() == rpc.session.ServiceLocator() &&
			len(rpc.req.Participants) < MaxObjectsPerRPC {
			rpc.appendOp(e)
		} else {
			break
		}
	}
	if rpc != nil && len(rpc.req.Participants) > 0 {
		rpc.send()
		t.decisionRpcs = append(t.decisionRpcs, rpc)
	}
	return nil
}

// TryFinish drives the client until this task has made progress. Active
// tasks are stepped by the manager inside the client poll loop, so
// polling the client is sufficient.
func (t *Task) TryFinish() {
	if t.svc.Poll != nil {
		t.svc.Poll()
		return
	}
	t.PerformStep()
}
