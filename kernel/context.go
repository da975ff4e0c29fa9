package kernel

// Context provides task-local access to kernel operations.
type Context struct {
	k    *Kernel
	id   TaskID
	prio Priority
}

// TaskID returns the current task ID, InitTask or IdleTask at thread level.
func (c *Context) TaskID() TaskID { return c.id }

// Name returns the current task's name.
func (c *Context) Name() string { return c.k.TaskName(c.id) }

// Priority returns the static priority of the current task.
func (c *Context) Priority() Priority { return c.prio }

// Pend requests one invocation of id. It fails with ErrQueueFull when id
// already has Capacity invocations outstanding; the caller decides what a
// dropped request means.
//
// A pended task with a priority above the current threshold runs before
// Pend returns. During Init nothing runs until the kernel is stepped.
func (c *Context) Pend(id TaskID) error {
	k := c.k
	if k.halted {
		return ErrHalted
	}
	if err := k.pend(id); err != nil {
		return err
	}
	if k.started {
		k.dispatch()
	}
	return nil
}

// Lookup resolves a task name. It is meant for wiring done once, not for
// every pend.
func (c *Context) Lookup(name string) (TaskID, bool) { return c.k.Lookup(name) }
