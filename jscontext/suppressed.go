package jscontext

// suppressedMicroTasks holds runnables that were pulled aside during a
// checkpoint because their realm was in a synchronous operation. The
// batch itself sits in the ordinary queue, and gives its runnables back
// once the suppression generation moves on.
type suppressedMicroTasks struct {
	MicroTaskLink
	cx         *Context
	tasks      []MicroTaskRunnable
	generation uint64
}

func newSuppressedMicroTasks(cx *Context) *suppressedMicroTasks {
	s := &suppressedMicroTasks{cx: cx, generation: cx.suppressionGeneration}
	s.name = "SuppressedMicroTasks"
	return s
}

// Suppressed stays true for as long as the generation it was created in
// is current. After that it pushes its runnables back onto the front of
// the ordinary queue, preserving their order, and detaches itself.
func (s *suppressedMicroTasks) Suppressed() bool {
	if s.generation == s.cx.suppressionGeneration {
		return true
	}
	for i := len(s.tasks) - 1; i >= 0; i-- {
		s.cx.microTasks.PushFront(s.tasks[i])
	}
	s.tasks = nil
	if s.cx.suppressed == s {
		s.cx.suppressed = nil
	}
	return false
}

// Run is a no-op, the batch only ever releases its runnables.
func (s *suppressedMicroTasks) Run() {}

// TraceMicroTask is a no-op, the held runnables remain in the trace set.
func (s *suppressedMicroTasks) TraceMicroTask(Tracer) {}

func (s *suppressedMicroTasks) push(r MicroTaskRunnable) {
	s.tasks = append(s.tasks, r)
}
