package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// LRU is a bounded, concurrency-safe cache with optional per-entry TTL.
// Expired entries are evicted lazily on access.
type LRU struct {
	mu     sync.Mutex
	size   int
	ll     *list.List
	items  map[string]*list.Element
	closed bool
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (L *LRU) Get(key string) (any, bool) {
	L.mu.Lock()
	defer L.mu.Unlock()
	if L.closed {
		return nil, false
	}
	ele, ok := L.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if e.expired(time.Now()) {
		L.removeElement(ele)
		return nil, false
	}
	L.ll.MoveToFront(ele)
	return e.val, true
}

func (L *LRU) Put(key string, val any, opts ...PutOption) {
	var po PutOptions
	for _, o := range opts {
		o(&po)
	}
	var expires time.Time
	if po.TTL > 0 {
		expires = time.Now().Add(po.TTL)
	}

	L.mu.Lock()
	defer L.mu.Unlock()
	if L.closed {
		return
	}
	if ele, ok := L.items[key]; ok {
		L.ll.MoveToFront(ele)
		e := ele.Value.(*entry)
		e.val = val
		e.expires = expires
		return
	}
	L.items[key] = L.ll.PushFront(&entry{key: key, val: val, expires: expires})
	if L.ll.Len() > L.size {
		if last := L.ll.Back(); last != nil {
			L.removeElement(last)
		}
	}
}

func (L *LRU) Delete(key string) {
	L.mu.Lock()
	defer L.mu.Unlock()
	if ele, ok := L.items[key]; ok {
		L.removeElement(ele)
	}
}

func (L *LRU) Len() int {
	L.mu.Lock()
	defer L.mu.Unlock()
	return L.ll.Len()
}

// Close drops all entries. Subsequent operations are no-ops.
func (L *LRU) Close() {
	L.mu.Lock()
	defer L.mu.Unlock()
	L.closed = true
	L.ll.Init()
	clear(L.items)
}

func (L *LRU) removeElement(ele *list.Element) {
	L.ll.Remove(ele)
	delete(L.items, ele.Value.(*entry).key)
}

var _ Cache = (*LRU)(nil)
