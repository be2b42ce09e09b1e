package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stormspirit/RAMCloud/wire"
)

func TestCacheFindInsert(t *testing.T) {
	c := newCommitCache()

	assert.Nil(t, c.find(1, []byte("a")))

	e := c.insert(1, []byte("a"), []byte("v1"))
	assert.Equal(t, 1, c.len())
	assert.Equal(t, wire.KeyHash([]byte("a")), e.Key.KeyHash)

	found := c.find(1, []byte("a"))
	assert.Equal(t, e, found)
	assert.Equal(t, []byte("v1"), found.Object.Value)

	// Same key in another table is a different entry.
	assert.Nil(t, c.find(2, []byte("a")))
	e2 := c.insert(2, []byte("a"), []byte("v2"))
	assert.Equal(t, e2, c.find(2, []byte("a")))
	assert.Equal(t, 2, c.len())
}

func TestCacheOrdered(t *testing.T) {
	c := newCommitCache()
	c.insert(2, []byte("x"), nil)
	c.insert(1, []byte("a"), nil)
	c.insert(1, []byte("b"), nil)
	c.insert(1, []byte("c"), nil)

	order := c.ordered()
	assert.Equal(t, 4, len(order))
	for i := 1; i < len(order); i++ {
		prev, cur := order[i-1].Key, order[i].Key
		assert.Truef(t, prev.less(cur) || prev == cur,
			"entries out of order at %d: %+v >= %+v", i, prev, cur)
	}
	assert.Equal(t, uint64(2), order[len(order)-1].Key.TableID)
}

func TestCacheCollisionBucket(t *testing.T) {
	c := newCommitCache()

	// Force two distinct keys into one bucket, as a hash collision would.
	ck := CacheKey{TableID: 1, KeyHash: 42}
	first := &CacheEntry{Key: ck, Object: wire.NewObject([]byte("k1"), []byte("v1")), seq: 0}
	second := &CacheEntry{Key: ck, Object: wire.NewObject([]byte("k2"), []byte("v2")), seq: 1}
	c.tree.ReplaceOrInsert(first)
	c.tree.ReplaceOrInsert(second)
	c.nextSeq = 2

	order := c.ordered()
	assert.Equal(t, 2, len(order))
	assert.Equalf(t, first, order[0], "colliding entries must keep insertion order")
	assert.Equal(t, second, order[1])
}

func TestCacheFindChecksFullKey(t *testing.T) {
	c := newCommitCache()

	// Plant a different key in the bucket of "a", as a hash collision would.
	ck := CacheKey{TableID: 1, KeyHash: wire.KeyHash([]byte("a"))}
	c.tree.ReplaceOrInsert(&CacheEntry{Key: ck, Object: wire.NewObject([]byte("not-a"), []byte("v"))})
	c.nextSeq = 1

	// The colliding entry must not match; the bucket walk compares full
	// key bytes.
	assert.Nil(t, c.find(1, []byte("a")))
}
