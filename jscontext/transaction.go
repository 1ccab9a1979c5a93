package jscontext

// pendingTransaction is a callback bound to the recursion depth it was
// registered at.
type pendingTransaction struct {
	fn    func()
	depth uint32
}

// AddPendingTransaction registers fn to run when pending transactions are
// cleaned up at the current [Context.RecursionDepth], i.e. at the end of
// a microtask checkpoint at this depth. A registration made outside of
// any task is bound to the first task depth, so that it is not stranded.
func (cx *Context) AddPendingTransaction(fn func()) {
	if fn == nil {
		return
	}
	depth := cx.RecursionDepth()
	if depth <= cx.baseRecursionDepth {
		depth = cx.baseRecursionDepth + 1
	}
	cx.transactions = append(cx.transactions, pendingTransaction{fn: fn, depth: depth})
}

// PendingTransactionCount returns the number of transactions not yet run.
func (cx *Context) PendingTransactionCount() int {
	return len(cx.transactions)
}

// CleanupPendingTransactions runs, in registration order, the pending
// transactions registered at exactly depth. The others are kept, followed
// by any transactions registered by the ones that ran. It shares the
// stable-state re-entrancy guard.
func (cx *Context) CleanupPendingTransactions(depth uint32) {
	if cx.doingStableStates {
		fatalf("CleanupPendingTransactions", "re-entered")
	}
	cx.doingStableStates = true

	local := cx.transactions
	cx.transactions = nil

	kept := local[:0]
	for _, t := range local {
		if t.depth != depth {
			kept = append(kept, t)
			continue
		}
		cx.runGuarded("PendingTransaction", t.fn)
		cx.metrics.transactionsRun.Add(1)
	}
	clear(local[len(kept):])

	cx.transactions = append(kept, cx.transactions...)
	cx.doingStableStates = false
}

// flushAllPendingTransactions runs every remaining transaction regardless
// of depth, for teardown.
func (cx *Context) flushAllPendingTransactions() {
	for len(cx.transactions) != 0 {
		local := cx.transactions
		cx.transactions = nil
		cx.doingStableStates = true
		for _, t := range local {
			cx.runGuarded("PendingTransaction", t.fn)
			cx.metrics.transactionsRun.Add(1)
		}
		cx.doingStableStates = false
	}
}
