package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
	// Now is the clock used for TTL expiry; defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

type op struct {
	kind    opKind
	key     string
	val     any
	expires time.Time
	resp    chan getResp
}

type opKind uint8

const (
	opGet opKind = iota
	opPut
	opDelete
)

type getResp struct {
	val any
	ok  bool
}

// LRU is a bounded cache owned by a single goroutine. Every operation is a
// message to that goroutine, so no locking is needed around the list.
type LRU struct {
	now       func() time.Time
	ops       chan op
	done      chan struct{}
	closeOnce sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &LRU{
		now:  opts.Now,
		ops:  make(chan op),
		done: make(chan struct{}),
	}
	go l.run(opts.Size, opts.Now)
	return l
}

func (l *LRU) send(o op) bool {
	select {
	case l.ops <- o:
		return true
	case <-l.done:
		return false
	}
}

func (l *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp, 1)
	if !l.send(op{kind: opGet, key: key, resp: resp}) {
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

// Put does not wait for the entry to be stored. A TTL counts from the call.
func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	var expires time.Time
	if o.TTL > 0 {
		expires = l.now().Add(o.TTL)
	}
	l.send(op{kind: opPut, key: key, val: val, expires: expires})
}

func (l *LRU) Delete(key string) {
	l.send(op{kind: opDelete, key: key})
}

// Close stops the owning goroutine. Later calls are no-ops and Get misses.
func (l *LRU) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *LRU) run(size int, now func() time.Time) {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return
		case o := <-l.ops:
			switch o.kind {
			case opGet:
				ele, ok := items[o.key]
				if !ok {
					o.resp <- getResp{}
					continue
				}
				e := ele.Value.(*entry)
				if !e.expires.IsZero() && !now().Before(e.expires) {
					remove(ele)
					o.resp <- getResp{}
					continue
				}
				ll.MoveToFront(ele)
				o.resp <- getResp{val: e.val, ok: true}

			case opPut:
				expires := o.expires
				if ele, ok := items[o.key]; ok {
					ll.MoveToFront(ele)
					e := ele.Value.(*entry)
					e.val, e.expires = o.val, expires
					continue
				}
				items[o.key] = ll.PushFront(&entry{key: o.key, val: o.val, expires: expires})
				if ll.Len() > size {
					remove(ll.Back())
				}

			case opDelete:
				if ele, ok := items[o.key]; ok {
					remove(ele)
				}
			}
		}
	}
}

var _ Cache = (*LRU)(nil)
