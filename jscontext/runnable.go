package jscontext

// Tracer receives the references held by queued work, so that a host
// collector can treat them as roots. See [Context.TraceMicroTasks].
type Tracer interface {
	Trace(name string, value any)
}

// TracerFunc adapts a function to [Tracer].
type TracerFunc func(name string, value any)

// Trace implements [Tracer].
func (f TracerFunc) Trace(name string, value any) { f(name, value) }

// MicroTaskRunnable is a unit of microtask work.
//
// Implementations embed [MicroTaskLink], which carries the identity and
// trace-set membership of the runnable. A runnable may be dispatched again
// once it has started running, e.g. a recycled promise job.
type MicroTaskRunnable interface {
	// Run executes the runnable on the owning thread.
	Run()

	// Suppressed reports whether the runnable must be held back because
	// its realm is inside a synchronous operation.
	Suppressed() bool

	// TraceMicroTask reports the references held by the runnable.
	TraceMicroTask(tracer Tracer)

	microTaskLink() *MicroTaskLink
}

// MicroTaskLink is embedded by every [MicroTaskRunnable]. The zero value
// is ready to use.
type MicroTaskLink struct {
	self MicroTaskRunnable
	prev *MicroTaskLink
	next *MicroTaskLink
	list *microTaskList
	name string
	id   uint64
}

func (l *MicroTaskLink) microTaskLink() *MicroTaskLink { return l }

// ID returns the id assigned when the runnable was first dispatched, or 0.
func (l *MicroTaskLink) ID() uint64 { return l.id }

// Name returns the diagnostic name of the runnable.
func (l *MicroTaskLink) Name() string { return l.name }

// SetName sets the diagnostic name of the runnable.
func (l *MicroTaskLink) SetName(name string) { l.name = name }

// IsLinked reports whether the runnable is currently in a trace set,
// i.e. it is queued and has not started running.
func (l *MicroTaskLink) IsLinked() bool { return l.list != nil }

// microTaskList is the intrusive trace set of queued runnables.
type microTaskList struct {
	head *MicroTaskLink
	tail *MicroTaskLink
	len  int
}

// insert appends r, unless it is already linked.
func (x *microTaskList) insert(r MicroTaskRunnable) bool {
	l := r.microTaskLink()
	if l.list != nil {
		return false
	}
	l.self = r
	l.list = x
	l.prev = x.tail
	l.next = nil
	if x.tail != nil {
		x.tail.next = l
	} else {
		x.head = l
	}
	x.tail = l
	x.len++
	return true
}

// remove unlinks r, if it is linked into x.
func (x *microTaskList) remove(r MicroTaskRunnable) {
	l := r.microTaskLink()
	if l.list != x {
		return
	}
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		x.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	} else {
		x.tail = l.prev
	}
	l.prev, l.next, l.list, l.self = nil, nil, nil, nil
	x.len--
}

func (x *microTaskList) each(fn func(MicroTaskRunnable)) {
	for l := x.head; l != nil; {
		next := l.next
		fn(l.self)
		l = next
	}
}

func (x *microTaskList) clear() {
	for x.head != nil {
		x.remove(x.head.self)
	}
}

// FuncMicroTask is a [MicroTaskRunnable] backed by a function.
type FuncMicroTask struct {
	MicroTaskLink

	// Fn is called by Run.
	Fn func()

	// Suppress, if set, is consulted by Suppressed.
	Suppress func() bool

	// Refs are reported to tracers while the runnable is queued.
	Refs []any
}

var _ MicroTaskRunnable = (*FuncMicroTask)(nil)

// NewMicroTask returns a named [FuncMicroTask] which calls fn.
func NewMicroTask(name string, fn func()) *FuncMicroTask {
	t := &FuncMicroTask{Fn: fn}
	t.name = name
	return t
}

// Run implements [MicroTaskRunnable].
func (t *FuncMicroTask) Run() {
	if t.Fn != nil {
		t.Fn()
	}
}

// Suppressed implements [MicroTaskRunnable].
func (t *FuncMicroTask) Suppressed() bool {
	return t.Suppress != nil && t.Suppress()
}

// TraceMicroTask implements [MicroTaskRunnable].
func (t *FuncMicroTask) TraceMicroTask(tracer Tracer) {
	for _, ref := range t.Refs {
		tracer.Trace(t.name, ref)
	}
}
