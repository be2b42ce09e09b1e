// Package txn implements the client side of the two-phase commit protocol:
// a transaction accumulates tentative read/write/remove operations in a
// commit cache, then a task drives prepare and decision RPCs against the
// masters owning the affected keys.
package txn

import (
	"bytes"

	"github.com/google/btree"

	"github.com/stormspirit/RAMCloud/wire"
)

// OpKind is the kind of tentative operation a cache entry holds.
type OpKind int

const (
	KindInvalid OpKind = iota
	KindRead
	KindRemove
	KindWrite
)

func (k OpKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindRemove:
		return "remove"
	case KindWrite:
		return "write"
	}
	return "invalid"
}

// EntryState tracks an entry's progress through the commit protocol.
type EntryState int

const (
	// EntryPending means no live RPC covers the entry.
	EntryPending EntryState = iota
	// EntryPrepare means the entry rode in a prepare RPC.
	EntryPrepare
	// EntryDecide means the entry rode in a decision RPC.
	EntryDecide
)

// CacheKey identifies a commit cache bucket. keyHash is not a perfect
// hash, so distinct user keys may share a bucket.
type CacheKey struct {
	TableID uint64
	KeyHash uint64
}

func (k CacheKey) less(o CacheKey) bool {
	if k.TableID != o.TableID {
		return k.TableID < o.TableID
	}
	return k.KeyHash < o.KeyHash
}

// CacheEntry is one tentative operation. Entries are mutated only by the
// owning task; live RPCs hold references into the cache, which is safe
// because inserts are forbidden once the commit protocol starts.
type CacheEntry struct {
	Key         CacheKey
	Kind        OpKind
	Object      *wire.Object
	RejectRules wire.RejectRules
	RpcID       uint64
	State       EntryState

	// seq breaks ties between colliding keys in the same bucket,
	// preserving insertion order.
	seq uint64
}

func (e *CacheEntry) Less(than btree.Item) bool {
	o := than.(*CacheEntry)
	if e.Key != o.Key {
		return e.Key.less(o.Key)
	}
	return e.seq < o.seq
}

// commitCache is the ordered map of tentative operations, keyed by
// (tableId, keyHash) in ascending order so entries owned by the same
// master cluster together.
type commitCache struct {
	tree    *btree.BTree
	nextSeq uint64
}

func newCommitCache() *commitCache {
	return &commitCache{tree: btree.New(8)}
}

func (c *commitCache) len() int {
	return c.tree.Len()
}

// find returns the entry holding the given user key, or nil. It walks the
// (tableId, keyHash) bucket comparing full key bytes, since colliding
// keys share a bucket. The returned pointer is invalidated by any later
// insert.
func (c *commitCache) find(tableID uint64, key []byte) *CacheEntry {
	ck := CacheKey{TableID: tableID, KeyHash: wire.KeyHash(key)}
	var found *CacheEntry
	c.tree.AscendGreaterOrEqual(&CacheEntry{Key: ck}, func(i btree.Item) bool {
		e := i.(*CacheEntry)
		if e.Key != ck {
			return false
		}
		if e.Object != nil && bytes.Equal(e.Object.Key, key) {
			found = e
			return false
		}
		return true
	})
	return found
}

// insert adds a new entry for the given key and value with default kind
// and protocol state. Colliding keys become additional entries in the
// same bucket; duplicate full keys are the caller's problem.
func (c *commitCache) insert(tableID uint64, key, value []byte) *CacheEntry {
	e := &CacheEntry{
		Key:    CacheKey{TableID: tableID, KeyHash: wire.KeyHash(key)},
		Object: wire.NewObject(key, value),
		seq:    c.nextSeq,
	}
	c.nextSeq++
	c.tree.ReplaceOrInsert(e)
	return e
}

// ordered returns the entries in ascending (tableId, keyHash) order. The
// task freezes this once at init; the integer cursor into it is the
// protocol's nextEntry.
func (c *commitCache) ordered() []*CacheEntry {
	out := make([]*CacheEntry, 0, c.tree.Len())
	c.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(*CacheEntry))
		return true
	})
	return out
}
