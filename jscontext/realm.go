package jscontext

import (
	"sync/atomic"
)

// Realm is a global scope of a [Context], the owner of promises and the
// target of rejection and error events. Realms are created with
// [Context.NewRealm] and held weakly by the context; the embedder keeps
// them alive.
type Realm struct {
	*EventTarget

	// Global is the engine's global object for the realm, if any.
	Global any

	cx             *Context
	name           string
	id             uint64
	syncOperations uint32
	dying          atomic.Bool
}

// ID returns the realm's id, unique within its context.
func (r *Realm) ID() uint64 { return r.id }

// Name returns the diagnostic name of the realm.
func (r *Realm) Name() string { return r.name }

// Context returns the context the realm belongs to.
func (r *Realm) Context() *Context { return r.cx }

// EnterSyncOperation marks the realm as being inside a synchronous host
// operation (e.g. a modal dialog), suppressing its microtasks. It also
// enters a sync operation on the context.
func (r *Realm) EnterSyncOperation() {
	r.syncOperations++
	r.cx.EnterSyncOperation()
}

// LeaveSyncOperation balances EnterSyncOperation.
func (r *Realm) LeaveSyncOperation() {
	if r.syncOperations == 0 {
		fatalf("Realm.LeaveSyncOperation", "realm %q is not in a sync operation", r.name)
	}
	r.syncOperations--
	r.cx.LeaveSyncOperation()
}

// IsInSyncOperation reports whether the realm's microtasks are suppressed.
func (r *Realm) IsInSyncOperation() bool {
	return r.syncOperations > 0
}

// MarkDying marks the realm as being torn down. Promise jobs and
// finalization callbacks of a dying realm are skipped, and it no longer
// receives rejection events.
func (r *Realm) MarkDying() {
	if r.dying.CompareAndSwap(false, true) {
		r.cx.logger.Debug().
			Str("context", r.cx.idStr).
			Str("realm", r.name).
			Log("jscontext: realm dying")
	}
}

// IsDying reports whether MarkDying has been called.
func (r *Realm) IsDying() bool {
	return r.dying.Load()
}

// ReportException dispatches a cancelable "error" event at the realm. If
// no listener prevents it, the exception is logged.
func (r *Realm) ReportException(err error) {
	if err == nil {
		return
	}
	r.cx.metrics.exceptionsReported.Add(1)
	if r.IsDying() || r.DispatchEvent(&NewErrorEvent(err).Event) {
		r.cx.logger.Err().
			Limit().
			Str("context", r.cx.idStr).
			Str("realm", r.name).
			Err(err).
			Log("jscontext: uncaught exception")
	}
}

// NewRealm creates a realm owned by cx.
func (cx *Context) NewRealm(name string) *Realm {
	r := &Realm{
		EventTarget: NewEventTarget(),
		cx:          cx,
		name:        name,
	}
	cx.realms.add(r)
	return r
}

// Realm returns the realm with the given id, if it is still alive.
func (cx *Context) Realm(id uint64) *Realm {
	return cx.realms.get(id)
}

// RealmCount returns the number of registered realms, including ones that
// have been collected but not yet scavenged.
func (cx *Context) RealmCount() int {
	return cx.realms.len()
}

// IncumbentRealm returns the incumbent realm of the running promise job
// or finalization callback, or nil.
func (cx *Context) IncumbentRealm() *Realm {
	return cx.incumbent
}

// reportException reports err on realm, or logs it when there is none.
func (cx *Context) reportException(realm *Realm, err error) {
	if realm != nil {
		realm.ReportException(err)
		return
	}
	cx.metrics.exceptionsReported.Add(1)
	cx.logger.Err().
		Limit().
		Str("context", cx.idStr).
		Err(err).
		Log("jscontext: uncaught exception")
}
