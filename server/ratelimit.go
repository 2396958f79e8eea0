package server

import (
	"container/list"

	"golang.org/x/time/rate"
)

const defaultRequestLimiterCacheSize = 8192

// requestLimiters hands out one token-bucket limiter per source address,
// bounding how many ConnectionRequest packets handleNewConnectionRequest
// will act on per address per second, for an address that keeps
// presenting fresh (or garbage) tokens faster than the nonce cache alone
// would catch.
type requestLimiters struct {
	capacity int
	rateHz   float64
	burst    int
	ll       *list.List
	index    map[string]*list.Element
}

type limiterEntry struct {
	addr    string
	limiter *rate.Limiter
}

func newRequestLimiters(capacity int, rateHz float64, burst int) *requestLimiters {
	if capacity <= 0 {
		capacity = defaultRequestLimiterCacheSize
	}
	return &requestLimiters{
		capacity: capacity,
		rateHz:   rateHz,
		burst:    burst,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Allow reports whether a ConnectionRequest from addr may proceed,
// creating and bucketing a limiter for addr on first sight.
func (r *requestLimiters) Allow(addr string) bool {
	el, ok := r.index[addr]
	if ok {
		r.ll.MoveToFront(el)
		return el.Value.(*limiterEntry).limiter.Allow()
	}
	entry := &limiterEntry{addr: addr, limiter: rate.NewLimiter(rate.Limit(r.rateHz), r.burst)}
	el = r.ll.PushFront(entry)
	r.index[addr] = el
	if r.ll.Len() > r.capacity {
		oldest := r.ll.Back()
		if oldest != nil {
			r.ll.Remove(oldest)
			delete(r.index, oldest.Value.(*limiterEntry).addr)
		}
	}
	return entry.limiter.Allow()
}
