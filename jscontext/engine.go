package jscontext

// Engine is the script engine a [Context] drives. The context owns the
// engine: Install is called by [Context.Initialize], Uninstall and Close
// by [Context.Destroy].
type Engine interface {
	// Install hooks the engine's job queue, promise rejection tracker and
	// finalization registry cleanup into host.
	Install(host EngineHost) error

	// Uninstall removes the hooks added by Install.
	Uninstall()

	// ClearKeptObjects releases the objects kept alive by WeakRef
	// dereferences during the current synchronous run of script.
	ClearKeptObjects()

	// Close releases the engine.
	Close() error
}

// EngineHost is the set of hooks a [Context] provides to its [Engine].
type EngineHost interface {
	JobQueue
	PromiseRejectionTracker
	FinalizationHost
}

// JobQueue is the engine's view of the microtask queue.
type JobQueue interface {
	// EnqueuePromiseJob queues a promise reaction job. It never runs the
	// job synchronously. A false return is a failure signal to the engine.
	EnqueuePromiseJob(job PromiseJob) bool

	// RunJobs drains the queue, as a microtask checkpoint.
	RunJobs()

	// Empty reports whether the ordinary queue is empty.
	Empty() bool

	// SaveJobQueue moves the ordinary queue aside, for the duration of a
	// debugger interruption. See [SavedJobQueue].
	SaveJobQueue() (*SavedJobQueue, error)
}

// PromiseRejectionTracker receives the engine's rejection transitions.
type PromiseRejectionTracker interface {
	TrackPromiseRejection(p Promise, state RejectionState, mutedErrors bool)
}

// FinalizationHost receives FinalizationRegistry cleanup callbacks. It
// may be called from any goroutine.
type FinalizationHost interface {
	QueueFinalizationCallback(fn func() error, incumbent *Realm)
}

// Promise is the engine's promise, as seen by the rejection tracker.
type Promise interface {
	// ID is stable and unique for the lifetime of the promise.
	ID() uint64
	// IsHandled reports whether a rejection handler has been attached.
	IsHandled() bool
	// Result is the rejection reason.
	Result() any
	// Realm is the realm that created the promise, may be nil.
	Realm() *Realm
}

// RejectionState is the state passed to
// [PromiseRejectionTracker.TrackPromiseRejection].
type RejectionState int

const (
	// RejectionUnhandled is reported when a promise is rejected with no
	// handler attached.
	RejectionUnhandled RejectionState = iota
	// RejectionHandled is reported when a handler is attached to a
	// previously unhandled rejected promise.
	RejectionHandled
)

func (s RejectionState) String() string {
	switch s {
	case RejectionUnhandled:
		return "unhandled"
	case RejectionHandled:
		return "handled"
	default:
		return "unknown"
	}
}

// PromiseJob is a promise reaction job, queued by the engine.
type PromiseJob struct {
	// Promise is the promise the job belongs to, may be nil.
	Promise Promise

	// Callback runs the job. A returned error is a script exception.
	Callback func() error

	// Realm is the realm of the callback. The job is skipped when the
	// realm is dying, and suppressed while it is in a sync operation.
	Realm *Realm

	// Incumbent is the incumbent realm while the callback runs.
	Incumbent *Realm

	// Refs are reported to tracers while the job is queued.
	Refs []any
}
