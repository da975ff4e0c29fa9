package kernel

import "rtslic/hal"

const (
	// MaxTasks is the size of the task table.
	MaxTasks = 32

	// MaxPriority is the most urgent task priority. Priority 0 is thread
	// level (init and idle).
	MaxPriority Priority = 31

	// maskAll is above every task priority; nothing is dispatched while it
	// is the threshold.
	maskAll Priority = MaxPriority + 1
)

// TaskID indexes the task table. It is also the task's SLIC line.
type TaskID uint8

const (
	// InitTask identifies the context passed to Kernel.Init.
	InitTask TaskID = 0xFE
	// IdleTask identifies the context passed to the idle hook.
	IdleTask TaskID = 0xFF
)

// Priority is a task priority; higher is more urgent.
type Priority uint8

// Binding describes how a task gets invoked.
type Binding uint8

const (
	// BindSoftware tasks run when pended.
	BindSoftware Binding = iota
	// BindAsync tasks run when pended and may yield between steps.
	BindAsync
	// BindHardware tasks run when their physical line fires or when pended.
	BindHardware
)

func (b Binding) String() string {
	switch b {
	case BindSoftware:
		return "software"
	case BindAsync:
		return "async"
	case BindHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// ResumePoint selects where an async task continues. Zero is the start.
type ResumePoint uint8

// Poll is what an async task step returns.
type Poll struct {
	next ResumePoint
	done bool
}

// Yield suspends the task; the next invocation resumes at next.
func Yield(next ResumePoint) Poll { return Poll{next: next} }

// Done completes the current invocation.
func Done() Poll { return Poll{done: true} }

// TaskSpec declares one task. Build it with Task or AsyncTask.
type TaskSpec struct {
	Name     string
	Priority Priority
	Capacity uint8

	binding    Binding
	line       hal.Line
	asyncBound bool
	shares     []*resourceMeta

	run  func(cx *Context)
	step func(cx *Context, at ResumePoint) Poll
}

// Task declares a run-to-completion task. local is copied into a slot that
// only body can reach; it persists across invocations.
func Task[L any](name string, prio Priority, local L, body func(cx *Context, local *L)) TaskSpec {
	slot := new(L)
	*slot = local
	return TaskSpec{
		Name:     name,
		Priority: prio,
		Capacity: 1,
		binding:  BindSoftware,
		run:      func(cx *Context) { body(cx, slot) },
	}
}

// AsyncTask declares a suspendable task. body is called with the resume point
// stored by the previous Yield (0 on a fresh invocation).
func AsyncTask[L any](name string, prio Priority, local L, body func(cx *Context, local *L, at ResumePoint) Poll) TaskSpec {
	slot := new(L)
	*slot = local
	return TaskSpec{
		Name:     name,
		Priority: prio,
		Capacity: 1,
		binding:  BindAsync,
		step:     func(cx *Context, at ResumePoint) Poll { return body(cx, slot, at) },
	}
}

// Bind attaches the task to a physical interrupt line.
func (t TaskSpec) Bind(line hal.Line) TaskSpec {
	t.line = line
	if t.binding == BindAsync {
		// Async tasks are software-pended only; Build rejects this.
		t.asyncBound = true
		return t
	}
	t.binding = BindHardware
	return t
}

// WithCapacity sets how many invocations may be outstanding at once.
func (t TaskSpec) WithCapacity(n uint8) TaskSpec {
	t.Capacity = n
	return t
}

// Shares adds resources to the task's access set.
func (t TaskSpec) Shares(rs ...Resource) TaskSpec {
	shares := make([]*resourceMeta, len(t.shares), len(t.shares)+len(rs))
	copy(shares, t.shares)
	for _, r := range rs {
		shares = append(shares, r.meta())
	}
	t.shares = shares
	return t
}

// Binding returns how the task is invoked.
func (t TaskSpec) Binding() Binding { return t.binding }

// Line returns the physical line of a hardware task.
func (t TaskSpec) Line() hal.Line { return t.line }

type suspension struct {
	at        ResumePoint
	suspended bool
	yields    uint32
}

type task struct {
	name     string
	prio     Priority
	capacity uint8
	binding  Binding
	line     hal.Line
	bypassed bool

	run  func(cx *Context)
	step func(cx *Context, at ResumePoint) Poll

	slot        suspension
	invocations uint32
	cx          Context
}
