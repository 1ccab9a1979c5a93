package jscontext

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
)

// CycleCollector is the host's cycle collector, as far as a [Context]
// is concerned.
type CycleCollector interface {
	// RegisterContext is called by Initialize.
	RegisterContext(cx *Context)
	// ForgetContext is called by Destroy.
	ForgetContext(cx *Context)
	// MaybeDoDeferredDeletion is called after every task.
	MaybeDoDeferredDeletion()
}

// GCRuntime is the host's garbage collector scheduling hooks.
type GCRuntime interface {
	// IsIdleGCTaskNeeded is polled after every task, it must be cheap.
	IsIdleGCTaskNeeded() bool
	// SetPendingIdleGCTask is called once an idle GC task was dispatched.
	SetPendingIdleGCTask()
	// RunIdleTimeGCTask runs from the idle task.
	RunIdleTimeGCTask()
	// FinalizeDeferredThings is called after every task.
	FinalizeDeferredThings()
}

type noopCollector struct{}

func (noopCollector) RegisterContext(*Context) {}
func (noopCollector) ForgetContext(*Context)   {}
func (noopCollector) MaybeDoDeferredDeletion() {}

type noopGCRuntime struct{}

func (noopGCRuntime) IsIdleGCTaskNeeded() bool { return false }
func (noopGCRuntime) SetPendingIdleGCTask()    {}
func (noopGCRuntime) RunIdleTimeGCTask()       {}
func (noopGCRuntime) FinalizeDeferredThings()  {}

// SimpleCollector is a [CycleCollector] which tracks registered contexts
// and runs deferred deletions after each task.
type SimpleCollector struct {
	contexts map[*Context]struct{}
	deferred []func()
	mu       sync.Mutex
	deleted  atomic.Uint64
}

var _ CycleCollector = (*SimpleCollector)(nil)

// NewSimpleCollector returns an empty SimpleCollector.
func NewSimpleCollector() *SimpleCollector {
	return &SimpleCollector{contexts: make(map[*Context]struct{})}
}

func (x *SimpleCollector) RegisterContext(cx *Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.contexts[cx] = struct{}{}
}

func (x *SimpleCollector) ForgetContext(cx *Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.contexts, cx)
}

// DeferredDelete queues fn for the next MaybeDoDeferredDeletion. It is
// safe to call from any goroutine.
func (x *SimpleCollector) DeferredDelete(fn func()) {
	if fn == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.deferred = append(x.deferred, fn)
}

func (x *SimpleCollector) MaybeDoDeferredDeletion() {
	x.mu.Lock()
	deferred := x.deferred
	x.deferred = nil
	x.mu.Unlock()
	for _, fn := range deferred {
		fn()
	}
	x.deleted.Add(uint64(len(deferred)))
}

// Deleted returns the number of deferred deletions run.
func (x *SimpleCollector) Deleted() uint64 {
	return x.deleted.Load()
}

// Contexts returns the number of registered contexts.
func (x *SimpleCollector) Contexts() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.contexts)
}

// TraceRoots traces the roots of every registered context, see
// [Context.Trace]. It must be called from the thread owning all of them.
func (x *SimpleCollector) TraceRoots(tracer Tracer) {
	x.mu.Lock()
	contexts := make([]*Context, 0, len(x.contexts))
	for cx := range x.contexts {
		contexts = append(contexts, cx)
	}
	x.mu.Unlock()
	for _, cx := range contexts {
		cx.Trace(tracer)
	}
}

const heapAllocsMetric = "/gc/heap/allocs:bytes"

// RuntimeGC is a [GCRuntime] backed by the Go runtime. An idle GC is
// requested once threshold bytes were allocated since the last one, at
// most as often as the configured rates allow.
type RuntimeGC struct {
	limiter   *catrate.Limiter
	deferred  []func()
	sample    [1]metrics.Sample
	threshold uint64
	last      uint64
	mu        sync.Mutex
	pending   atomic.Bool
	runs      atomic.Uint64
}

var _ GCRuntime = (*RuntimeGC)(nil)

// NewRuntimeGC returns a RuntimeGC. A nil or empty rates map disables
// rate limiting, see catrate.NewLimiter for its format.
func NewRuntimeGC(threshold uint64, rates map[time.Duration]int) *RuntimeGC {
	x := &RuntimeGC{threshold: threshold}
	if len(rates) != 0 {
		x.limiter = catrate.NewLimiter(rates)
	}
	x.sample[0].Name = heapAllocsMetric
	x.last = x.heapAllocs()
	return x
}

func (x *RuntimeGC) heapAllocs() uint64 {
	metrics.Read(x.sample[:])
	if x.sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return x.sample[0].Value.Uint64()
}

func (x *RuntimeGC) IsIdleGCTaskNeeded() bool {
	if x.pending.Load() {
		return false
	}
	x.mu.Lock()
	allocs := x.heapAllocs()
	due := allocs-x.last >= x.threshold
	x.mu.Unlock()
	if !due {
		return false
	}
	_, ok := x.limiter.Allow(heapAllocsMetric)
	return ok
}

func (x *RuntimeGC) SetPendingIdleGCTask() {
	x.pending.Store(true)
}

func (x *RuntimeGC) RunIdleTimeGCTask() {
	runtime.GC()
	x.mu.Lock()
	x.last = x.heapAllocs()
	x.mu.Unlock()
	x.runs.Add(1)
	x.pending.Store(false)
}

// Runs returns the number of idle GCs run.
func (x *RuntimeGC) Runs() uint64 {
	return x.runs.Load()
}

// DeferFinalize queues fn for the next FinalizeDeferredThings. It is safe
// to call from any goroutine.
func (x *RuntimeGC) DeferFinalize(fn func()) {
	if fn == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.deferred = append(x.deferred, fn)
}

func (x *RuntimeGC) FinalizeDeferredThings() {
	x.mu.Lock()
	deferred := x.deferred
	x.deferred = nil
	x.mu.Unlock()
	for _, fn := range deferred {
		fn()
	}
}
