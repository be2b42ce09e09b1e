package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stormspirit/RAMCloud/wire"
)

// fakeReader backs the transaction read-through path with a fixed store.
type fakeReader struct {
	values   map[string][]byte
	versions map[string]uint64
	reads    int
}

func (r *fakeReader) ReadObject(tableID uint64, key []byte) ([]byte, uint64, error) {
	r.reads++
	v, ok := r.values[string(key)]
	if !ok {
		return nil, 0, wire.NewStatusError(wire.StatusObjectDoesntExist)
	}
	return v, r.versions[string(key)], nil
}

func newTestTransaction(fc *fakeCluster, reader *fakeReader) *Transaction {
	svc := newTestServices(fc, newFakeTracker(1))
	svc.Reader = reader
	return NewTransaction(svc, NewManager(svc.Logger))
}

func TestTransactionReadYourWrites(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	tx := newTestTransaction(fc, &fakeReader{})

	assert.NoError(t, tx.Write(1, []byte("a"), []byte("v1")))
	value, err := tx.Read(1, []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	assert.NoError(t, tx.Remove(1, []byte("a")))
	_, err = tx.Read(1, []byte("a"))
	assert.Equal(t, wire.StatusObjectDoesntExist, wire.StatusOf(err))
}

func TestTransactionReadThrough(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	reader := &fakeReader{
		values:   map[string][]byte{"a": []byte("stored")},
		versions: map[string]uint64{"a": 9},
	}
	tx := newTestTransaction(fc, reader)

	value, err := tx.Read(1, []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("stored"), value)

	// The fetched object is pinned with a version precondition.
	e := tx.task.cache.find(1, []byte("a"))
	assert.Equal(t, KindRead, e.Kind)
	assert.Equal(t, uint64(9), e.RejectRules.GivenVersion)
	assert.True(t, e.RejectRules.VersionNeGiven)

	// A second read is served from the cache.
	_, err = tx.Read(1, []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, 1, reader.reads)
}

func TestTransactionReadMissing(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	reader := &fakeReader{}
	tx := newTestTransaction(fc, reader)

	_, err := tx.Read(1, []byte("ghost"))
	assert.Equal(t, wire.StatusObjectDoesntExist, wire.StatusOf(err))

	// The absence is pinned so the commit aborts if the object appears.
	e := tx.task.cache.find(1, []byte("ghost"))
	assert.Equal(t, KindRead, e.Kind)
	assert.True(t, e.RejectRules.Exists)

	// Re-reading does not go back to the master.
	_, err = tx.Read(1, []byte("ghost"))
	assert.Equal(t, wire.StatusObjectDoesntExist, wire.StatusOf(err))
	assert.Equal(t, 1, reader.reads)
}

func TestTransactionCommit(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	tx := newTestTransaction(fc, &fakeReader{})

	assert.NoError(t, tx.Write(1, []byte("a"), []byte("v")))
	assert.NoError(t, tx.Commit())
	assert.Equal(t, wire.DecisionCommit, tx.Decision())
	assert.Equal(t, wire.StatusOK, tx.Status())

	// The transaction is immutable once committed.
	assert.Equal(t, ErrCommitStarted, tx.Write(1, []byte("b"), []byte("v")))
	assert.Equal(t, ErrCommitStarted, tx.Remove(1, []byte("a")))
	_, err := tx.Read(1, []byte("a"))
	assert.Equal(t, ErrCommitStarted, err)
}

func TestTransactionCommitAborts(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	fc.masters["mock:host=master1"].vote = wire.VoteAbort
	tx := newTestTransaction(fc, &fakeReader{})

	assert.NoError(t, tx.Write(1, []byte("a"), []byte("v")))
	assert.Equal(t, ErrTxAborted, tx.Commit())
	assert.Equal(t, wire.DecisionAbort, tx.Decision())
}

func TestTransactionEmptyCommit(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	tx := newTestTransaction(fc, &fakeReader{})

	assert.NoError(t, tx.Commit())
	assert.Equal(t, wire.DecisionCommit, tx.Decision())
	assert.Equal(t, 0, fc.prepareCount())
}

func TestTransactionWriteKeepsReadPin(t *testing.T) {
	fc := newFakeCluster("mock:host=master1")
	reader := &fakeReader{
		values:   map[string][]byte{"a": []byte("old")},
		versions: map[string]uint64{"a": 3},
	}
	tx := newTestTransaction(fc, reader)

	_, err := tx.Read(1, []byte("a"))
	assert.NoError(t, err)
	assert.NoError(t, tx.Write(1, []byte("a"), []byte("new")))

	e := tx.task.cache.find(1, []byte("a"))
	assert.Equal(t, KindWrite, e.Kind)
	assert.Equal(t, []byte("new"), e.Object.Value)
	// The version precondition from the read survives the upgrade.
	assert.Equal(t, uint64(3), e.RejectRules.GivenVersion)
	assert.True(t, e.RejectRules.VersionNeGiven)
	assert.Equal(t, 1, tx.task.cache.len())
}
