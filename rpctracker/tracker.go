// Package rpctracker allocates the globally unique rpc ids that masters
// use to deduplicate retried requests, and tracks which ids are still
// outstanding so acknowledgements can be piggybacked on later requests.
package rpctracker

import (
	log "github.com/sirupsen/logrus"
)

// TrackedRpc is an operation holding live rpc ids. When the outstanding
// window fills up, the tracker asks the oldest tracked operation to
// finish before handing out more ids.
type TrackedRpc interface {
	// TryFinish makes forward progress on the operation toward releasing
	// its rpc ids. The tracker keeps calling it while the window is full.
	TryFinish()
}

// windowSize bounds how many rpc ids may be outstanding at once. Masters
// size their duplicate-detection state from this.
const windowSize = 512

type block struct {
	owner TrackedRpc
	size  int
	done  bool
}

// Tracker hands out contiguous rpc id blocks starting at 1. It is
// accessed only from the client's poll thread.
type Tracker struct {
	// firstMissing is the smallest id that has not finished yet.
	firstMissing uint64
	nextRpcID    uint64
	blocks       map[uint64]*block
	log          *log.Entry
}

// NewTracker creates an empty tracker.
func NewTracker(logger *log.Logger) *Tracker {
	return &Tracker{
		firstMissing: 1,
		nextRpcID:    1,
		blocks:       make(map[uint64]*block),
		log:          logger.WithField("component", "rpctracker"),
	}
}

// NewRpcIDBlock reserves n contiguous rpc ids bound to owner and returns
// the first id of the block. The owner stays associated with the ids
// until RpcFinished releases them, so a server-side recovery manager can
// resolve stalls by rpc id.
func (t *Tracker) NewRpcIDBlock(owner TrackedRpc, n int) uint64 {
	if n == 0 {
		// Nothing to reserve; the block occupies no ids.
		return t.nextRpcID
	}
	for t.nextRpcID+uint64(n)-t.firstMissing > windowSize {
		b := t.oldestOutstanding()
		if b == nil || b.owner == nil {
			break
		}
		t.log.Debugf("rpc id window full, driving oldest tracked rpc")
		b.owner.TryFinish()
	}

	first := t.nextRpcID
	t.blocks[first] = &block{owner: owner, size: n}
	t.nextRpcID += uint64(n)
	return first
}

// AckID returns the newest rpc id below which every id has finished.
// Masters garbage-collect duplicate-detection state up to this id.
func (t *Tracker) AckID() uint64 {
	return t.firstMissing - 1
}

// RpcFinished releases the whole block reserved at txID. Calling it for
// an unknown or already released block is a no-op.
func (t *Tracker) RpcFinished(txID uint64) {
	b, ok := t.blocks[txID]
	if !ok || b.done {
		return
	}
	b.done = true
	t.advance()
}

func (t *Tracker) advance() {
	for {
		b, ok := t.blocks[t.firstMissing]
		if !ok {
			// Caught up with ids that were never handed out.
			return
		}
		if !b.done {
			return
		}
		delete(t.blocks, t.firstMissing)
		t.firstMissing += uint64(b.size)
	}
}

func (t *Tracker) oldestOutstanding() *block {
	for id := t.firstMissing; id < t.nextRpcID; id++ {
		if b, ok := t.blocks[id]; ok && !b.done {
			return b
		}
	}
	return nil
}
