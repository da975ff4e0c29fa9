package kernel

import "fmt"

// poll runs one step of an async task. The invocation holds its capacity
// slot from claim until Done: pends beyond capacity fail while it is running
// or suspended. A yielding task is requeued at the back of its level, so it
// resumes after everything of equal priority that was pended before the
// yield.
//
// Nothing bounds how often a task is passed over: if equal or higher
// priority work is pended every time it would resume, it starves.
func (k *Kernel) poll(id TaskID, t *task) {
	at := t.slot.at
	if t.slot.suspended {
		k.record(EvResume, id, uint32(at))
	} else {
		k.record(EvEnter, id, 0)
	}

	var p Poll
	k.guard(id, func() { p = t.step(&t.cx, at) })

	if p.done {
		t.slot = suspension{}
		k.slic.release(id)
		k.record(EvExit, id, 0)
		return
	}
	t.slot.at = p.next
	t.slot.suspended = true
	t.slot.yields++
	if !k.slic.requeue(id) {
		k.fail(id, fmt.Errorf("%s: requeue after yield: %w", t.name, ErrQueueFull))
		panic(haltSignal{})
	}
	k.record(EvYield, id, uint32(p.next))
}

// Yields returns how many times the current invocation of an async task
// has yielded.
func (k *Kernel) Yields(id TaskID) uint32 {
	if int(id) >= len(k.tasks) {
		return 0
	}
	return k.tasks[id].slot.yields
}
