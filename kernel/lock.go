package kernel

import "fmt"

// Lock runs body with exclusive access to r's value. While body runs, no task
// with a priority at or below r's ceiling can start, so body observes and
// leaves the value in a consistent state. Lock never blocks.
//
// Locking a resource the task did not declare with Shares panics with
// ErrNotShared; the kernel turns that into a halt.
func Lock[T any](cx *Context, r *Shared[T], body func(v *T)) {
	LockValue(cx, r, func(v *T) struct{} {
		body(v)
		return struct{}{}
	})
}

// LockValue is Lock for bodies that produce a result.
func LockValue[T, R any](cx *Context, r *Shared[T], body func(v *T) R) R {
	k := cx.k
	release := k.acquire(cx, r.res)
	out := func() R {
		defer release()
		return body(&r.value)
	}()
	// Work that the ceiling held back may now preempt us.
	if k.started && !k.halted {
		k.dispatch()
	}
	return out
}

// acquire raises the threshold to m's ceiling and returns the matching
// restore. Nested locks with lower ceilings leave the threshold alone.
func (k *Kernel) acquire(cx *Context, m *resourceMeta) func() {
	if int(m.id) >= len(k.resources) || k.resources[m.id] != m || !m.allows(cx.id) {
		panic(fmt.Errorf("%s locks %q: %w", k.TaskName(cx.id), m.name, ErrNotShared))
	}

	prev := k.threshold
	k.record(EvLock, cx.id, uint32(m.ceiling))
	if m.ceiling <= prev {
		return func() { k.record(EvUnlock, cx.id, uint32(m.ceiling)) }
	}
	k.threshold = m.ceiling
	k.slic.Mask(m.ceiling)
	k.irq.Mask(uint8(m.ceiling))
	return func() {
		k.irq.Unmask()
		k.slic.Unmask()
		k.threshold = prev
		k.record(EvUnlock, cx.id, uint32(m.ceiling))
	}
}
