package txn

import (
	"errors"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/wire"
)

var (
	// ErrTxAborted reports that the transaction's decision was ABORT.
	ErrTxAborted = errors.New("transaction aborted")
	// ErrCommitStarted reports an operation on a transaction whose commit
	// protocol already started; the commit cache is frozen at that point.
	ErrCommitStarted = errors.New("transaction commit already started")
)

// Transaction is the user-facing handle: operations accumulate in the
// task's commit cache, and Commit drives the two-phase protocol. A
// transaction commits once; it is immutable afterwards.
type Transaction struct {
	svc     *Services
	mgr     *Manager
	task    *Task
	started bool
	log     *log.Entry
}

// NewTransaction creates an empty transaction whose task will be driven
// by mgr.
func NewTransaction(svc *Services, mgr *Manager) *Transaction {
	return &Transaction{
		svc:  svc,
		mgr:  mgr,
		task: NewTask(svc),
		log:  svc.Logger.WithField("component", "transaction"),
	}
}

// Read returns the value of an object as of this transaction: its own
// tentative writes win, and objects fetched from a master are pinned
// with a version precondition so the commit aborts if they change
// underneath the transaction.
func (tx *Transaction) Read(tableID uint64, key []byte) ([]byte, error) {
	if tx.started {
		return nil, ErrCommitStarted
	}
	if e := tx.task.cache.find(tableID, key); e != nil {
		switch {
		case e.Kind == KindRemove:
			return nil, wire.NewStatusError(wire.StatusObjectDoesntExist)
		case e.Kind == KindRead && e.RejectRules.Exists:
			// A previous read established the object doesn't exist.
			return nil, wire.NewStatusError(wire.StatusObjectDoesntExist)
		default:
			return e.Object.Value, nil
		}
	}

	if tx.svc.Reader == nil {
		return nil, errors.New("transaction read path not configured")
	}
	value, version, err := tx.svc.Reader.ReadObject(tableID, key)
	if err != nil {
		if wire.StatusOf(err) == wire.StatusObjectDoesntExist {
			// Pin the absence: the prepare aborts if the object appears.
			e := tx.task.cache.insert(tableID, key, nil)
			e.Kind = KindRead
			e.RejectRules = wire.RejectRules{Exists: true}
		}
		return nil, err
	}

	e := tx.task.cache.insert(tableID, key, value)
	e.Kind = KindRead
	e.RejectRules = wire.RejectRules{GivenVersion: version, VersionNeGiven: true}
	return value, nil
}

// Write stages a write of key in tableID. An earlier read of the same
// key keeps its version precondition.
func (tx *Transaction) Write(tableID uint64, key, value []byte) error {
	if tx.started {
		return ErrCommitStarted
	}
	e := tx.task.cache.find(tableID, key)
	if e == nil {
		e = tx.task.cache.insert(tableID, key, value)
	} else {
		e.Object = wire.NewObject(key, value)
	}
	e.Kind = KindWrite
	return nil
}

// Remove stages a removal of key in tableID.
func (tx *Transaction) Remove(tableID uint64, key []byte) error {
	if tx.started {
		return ErrCommitStarted
	}
	e := tx.task.cache.find(tableID, key)
	if e == nil {
		e = tx.task.cache.insert(tableID, key, nil)
	} else {
		e.Object = wire.NewObject(key, nil)
	}
	e.Kind = KindRemove
	return nil
}

// CommitAsync starts the commit protocol and returns without waiting.
// Progress happens on the client poll loop; use Done or Commit to
// observe completion.
func (tx *Transaction) CommitAsync() {
	if tx.started {
		return
	}
	tx.started = true
	tx.log.Debugf("commit started with %d participants", tx.task.cache.len())
	tx.mgr.StartTask(tx.task)
}

// Done reports whether the commit protocol has finished.
func (tx *Transaction) Done() bool {
	return tx.started && tx.task.State() == TaskDone
}

// Commit runs the commit protocol to completion. It returns nil when the
// transaction committed, ErrTxAborted when a master voted ABORT, and a
// StatusError when the protocol failed fatally.
func (tx *Transaction) Commit() error {
	tx.CommitAsync()
	for !tx.Done() {
		if tx.svc.Poll != nil {
			tx.svc.Poll()
		} else {
			tx.task.PerformStep()
		}
		runtime.Gosched()
	}

	if tx.task.Status() != wire.StatusOK {
		return wire.NewStatusError(tx.task.Status())
	}
	if tx.task.Decision() != wire.DecisionCommit {
		return ErrTxAborted
	}
	return nil
}

// Decision exposes the transaction outcome once the commit finished.
func (tx *Transaction) Decision() wire.Decision {
	return tx.task.Decision()
}

// Status exposes the terminal protocol status once the commit finished.
func (tx *Transaction) Status() wire.Status {
	return tx.task.Status()
}
