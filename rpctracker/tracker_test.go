package rpctracker

import (
	"io/ioutil"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

type finishable struct {
	tracker *Tracker
	txID    uint64
	calls   int
}

func (f *finishable) TryFinish() {
	f.calls++
	f.tracker.RpcFinished(f.txID)
}

func TestBlockAllocation(t *testing.T) {
	tr := NewTracker(testLogger())

	first := tr.NewRpcIDBlock(nil, 3)
	assert.Equal(t, uint64(1), first)
	second := tr.NewRpcIDBlock(nil, 2)
	assert.Equalf(t, uint64(4), second, "blocks must be contiguous")

	assert.Equal(t, uint64(0), tr.AckID())

	tr.RpcFinished(first)
	assert.Equal(t, uint64(3), tr.AckID())
	tr.RpcFinished(second)
	assert.Equal(t, uint64(5), tr.AckID())
}

func TestOutOfOrderFinish(t *testing.T) {
	tr := NewTracker(testLogger())
	first := tr.NewRpcIDBlock(nil, 2)
	second := tr.NewRpcIDBlock(nil, 2)

	tr.RpcFinished(second)
	assert.Equalf(t, uint64(0), tr.AckID(), "ack must not pass an unfinished block")
	tr.RpcFinished(first)
	assert.Equal(t, uint64(4), tr.AckID())
}

func TestFinishIdempotent(t *testing.T) {
	tr := NewTracker(testLogger())
	first := tr.NewRpcIDBlock(nil, 2)
	tr.RpcFinished(first)
	tr.RpcFinished(first)
	tr.RpcFinished(99)
	assert.Equal(t, uint64(2), tr.AckID())

	next := tr.NewRpcIDBlock(nil, 1)
	assert.Equal(t, uint64(3), next)
}

func TestZeroSizedBlock(t *testing.T) {
	tr := NewTracker(testLogger())
	first := tr.NewRpcIDBlock(nil, 0)
	assert.Equal(t, uint64(1), first)
	tr.RpcFinished(first)

	next := tr.NewRpcIDBlock(nil, 2)
	assert.Equal(t, uint64(1), next)
}

func TestWindowDrivesOldest(t *testing.T) {
	tr := NewTracker(testLogger())
	f := &finishable{tracker: tr}
	f.txID = tr.NewRpcIDBlock(f, windowSize)

	// The window is full; reserving more must drive the oldest tracked
	// rpc until its ids are released.
	next := tr.NewRpcIDBlock(nil, 1)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, uint64(windowSize+1), next)
	assert.Equal(t, uint64(windowSize), tr.AckID())
}
