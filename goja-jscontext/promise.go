package gojajscontext

import (
	"runtime"
	"sync"
	"weak"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jscontext/jscontext"
)

// promiseHandle is the [jscontext.Promise] for a rejected goja promise.
// It holds the promise weakly.
type promiseHandle struct {
	key     weak.Pointer[goja.Promise]
	reason  goja.Value
	realm   *jscontext.Realm
	cleanup runtime.Cleanup
	id      uint64
	handled bool
}

func (h *promiseHandle) ID() uint64 { return h.id }

func (h *promiseHandle) IsHandled() bool { return h.handled }

func (h *promiseHandle) Realm() *jscontext.Realm { return h.realm }

// Promise returns the promise, or nil once it has been collected.
func (h *promiseHandle) Promise() *goja.Promise { return h.key.Value() }

// Result returns the rejection reason, a [goja.Value].
func (h *promiseHandle) Result() any {
	if h.reason == nil {
		return goja.Undefined()
	}
	return h.reason
}

// promiseTable maps rejected goja promises to their handles, until they
// are handled or collected. It also numbers the adapter's own promises,
// so ids are unique across both kinds.
//
// Collection is observed from the cleanup goroutine, and the entry is
// removed through finalize if set, otherwise immediately.
type promiseTable struct {
	mu       sync.Mutex
	handles  map[weak.Pointer[goja.Promise]]*promiseHandle
	finalize func(func())
	nextID   uint64
}

func (t *promiseTable) newID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

func (t *promiseTable) lookup(p *goja.Promise) *promiseHandle {
	key := weak.Make(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles[key]
}

func (t *promiseTable) track(p *goja.Promise, realm *jscontext.Realm) *promiseHandle {
	key := weak.Make(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	if h := t.handles[key]; h != nil {
		return h
	}
	if t.handles == nil {
		t.handles = make(map[weak.Pointer[goja.Promise]]*promiseHandle)
	}
	t.nextID++
	h := &promiseHandle{
		key:    key,
		reason: p.Result(),
		realm:  realm,
		id:     t.nextID,
	}
	t.handles[key] = h
	h.cleanup = runtime.AddCleanup(p, t.collected, key)
	return h
}

func (t *promiseTable) collected(key weak.Pointer[goja.Promise]) {
	if t.finalize != nil {
		t.finalize(func() { t.forget(key) })
		return
	}
	t.forget(key)
}

func (t *promiseTable) forget(key weak.Pointer[goja.Promise]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, key)
}

func (t *promiseTable) remove(h *promiseHandle) {
	h.cleanup.Stop()
	t.forget(h.key)
}

func (t *promiseTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *promiseTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.handles {
		h.cleanup.Stop()
	}
	clear(t.handles)
}

// weakSet holds pointers weakly, dropping each once it is collected. Like
// [promiseTable], removal of collected entries goes through finalize.
type weakSet[T any] struct {
	mu       sync.Mutex
	entries  map[weak.Pointer[T]]runtime.Cleanup
	finalize func(func())
}

func (s *weakSet[T]) add(p *T) {
	key := weak.Make(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return
	}
	if s.entries == nil {
		s.entries = make(map[weak.Pointer[T]]runtime.Cleanup)
	}
	s.entries[key] = runtime.AddCleanup(p, s.collected, key)
}

func (s *weakSet[T]) remove(p *T) {
	key := weak.Make(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries[key]; ok {
		c.Stop()
		delete(s.entries, key)
	}
}

func (s *weakSet[T]) collected(key weak.Pointer[T]) {
	forget := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.entries, key)
	}
	if s.finalize != nil {
		s.finalize(forget)
		return
	}
	forget()
}

func (s *weakSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *weakSet[T]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.entries {
		c.Stop()
	}
	clear(s.entries)
}

// trackRejection is the runtime's promise rejection tracker. It only sees
// goja's own promises, i.e. those of async functions.
func (a *Adapter) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	if a.cx == nil || a.closed {
		return
	}
	switch op {
	case goja.PromiseRejectionReject:
		h := a.promises.track(p, a.realm)
		a.cx.TrackPromiseRejection(h, jscontext.RejectionUnhandled, false)
	case goja.PromiseRejectionHandle:
		h := a.promises.lookup(p)
		if h == nil {
			return
		}
		h.handled = true
		a.cx.TrackPromiseRejection(h, jscontext.RejectionHandled, false)
		a.promises.remove(h)
	}
}

// TrackedRejectionCount returns the number of rejected promises with no
// handler that are still reachable.
func (a *Adapter) TrackedRejectionCount() int {
	return a.promises.len() + a.rejected.len()
}
