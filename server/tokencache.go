package server

import "container/list"

const defaultTokenNonceCacheSize = 4096

// tokenNonceCache is a bounded LRU of token nonce fingerprints: it
// remembers the most recently consumed connect tokens, up to its
// capacity (defaultTokenNonceCacheSize unless configured), so a replay
// of an already-used token within that span is not accepted as new. The
// replayed request is dropped without a reply; no disconnect reason
// reaches the sender.
type tokenNonceCache struct {
	capacity int
	ll       *list.List
	index    map[[24]byte]*list.Element
}

func newTokenNonceCache(capacity int) *tokenNonceCache {
	if capacity <= 0 {
		capacity = defaultTokenNonceCacheSize
	}
	return &tokenNonceCache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[[24]byte]*list.Element, capacity),
	}
}

// Seen reports whether nonce was already recorded.
func (c *tokenNonceCache) Seen(nonce [24]byte) bool {
	_, ok := c.index[nonce]
	return ok
}

// Record marks nonce as consumed, evicting the least-recently-used entry
// if the cache is full.
func (c *tokenNonceCache) Record(nonce [24]byte) {
	if el, ok := c.index[nonce]; ok {
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(nonce)
	c.index[nonce] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.([24]byte))
		}
	}
}
