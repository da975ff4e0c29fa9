package kernel

import (
	"context"
	"fmt"

	"rtslic/hal"
)

// stormLimit bounds how often one bypassed line may re-assert after its clear
// routine within a single Step.
const stormLimit = 1024

// LevelState is the dispatcher state of one priority level.
type LevelState uint8

const (
	LevelIdle LevelState = iota
	LevelRunning
	LevelPreempted
)

func (s LevelState) String() string {
	switch s {
	case LevelIdle:
		return "idle"
	case LevelRunning:
		return "running"
	case LevelPreempted:
		return "preempted"
	default:
		return "unknown"
	}
}

type bypassLine struct {
	line  hal.Line
	clear func()
	task  TaskID
	storm int
}

// Kernel is the dispatcher for one execution core.
//
// It is not safe for concurrent use: one goroutine calls Init, Step and Run,
// and task bodies run on that goroutine. Other goroutines interact with the
// kernel only by raising lines on its IRQ.
type Kernel struct {
	tasks     []task
	byPrio    []TaskID
	direct    []TaskID
	bypass    []bypassLine
	resources []*resourceMeta
	bound     uint64

	slic *Controller
	irq  hal.IRQ
	log  hal.Logger

	trace traceRing

	running   Priority
	threshold Priority
	levels    [MaxPriority + 1]LevelState

	started    bool
	halted     bool
	dispatched uint64

	idle   func(cx *Context)
	initCx Context
	idleCx Context
}

// Init runs fn with every task masked. Pends made by fn are serviced once
// Step or Run starts.
func (k *Kernel) Init(fn func(cx *Context)) (err error) {
	if k.started {
		return ErrStarted
	}
	if k.halted {
		return ErrHalted
	}
	defer k.recoverHalt(&err)

	k.threshold = maskAll
	k.irq.Mask(uint8(maskAll))
	defer func() {
		k.irq.Unmask()
		k.threshold = 0
	}()
	if fn != nil {
		k.guard(InitTask, func() { fn(&k.initCx) })
	}
	return nil
}

// Step services every line that is ready, then runs the idle hook once and
// services what it pended. It returns the number of task invocations.
func (k *Kernel) Step() (n int, err error) {
	if k.halted {
		return 0, ErrHalted
	}
	defer k.recoverHalt(&err)
	k.started = true
	before := k.dispatched

	for i := range k.bypass {
		k.bypass[i].storm = 0
	}

	k.dispatch()
	if k.idle != nil {
		k.guard(IdleTask, func() { k.idle(&k.idleCx) })
		k.dispatch()
	}
	return int(k.dispatched - before), nil
}

// Run steps the kernel and parks the core in the IRQ's low-power wait
// whenever nothing is ready, until ctx is done or the kernel halts.
func (k *Kernel) Run(ctx context.Context) error {
	k.log.WriteLineString("kernel: running")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := k.Step(); err != nil {
			return err
		}
		k.dropSpurious()
		k.trace.record(Event{Kind: EvIdle})
		if err := k.irq.Wait(ctx); err != nil {
			return err
		}
	}
}

// dropSpurious acknowledges asserted lines that no task binds, so that the
// low-power wait does not return for them forever.
func (k *Kernel) dropSpurious() {
	for l := hal.Line(0); l < hal.MaxLines; l++ {
		if k.bound&(1<<l) != 0 || !k.irq.IsPending(l) {
			continue
		}
		k.irq.Clear(l)
		k.record(EvLost, IdleTask, uint32(l))
		k.log.WriteLineString(fmt.Sprintf("kernel: spurious line %d", l))
	}
}

// Pend requests an invocation of id from thread level. If the kernel has
// started, ready work is dispatched before Pend returns.
func (k *Kernel) Pend(id TaskID) error {
	return k.idleCx.Pend(id)
}

func (k *Kernel) pend(id TaskID) error {
	if int(id) >= len(k.tasks) {
		return ErrUnknownTask
	}
	if err := k.slic.Pend(id); err != nil {
		k.record(EvQueueFull, id, 0)
		return err
	}
	k.record(EvPend, id, 0)
	return nil
}

// dispatch runs ready work above the current threshold until none is left.
// Called at every kernel entry point; nested calls resolve nested preemption.
//
// A direct hardware line is not queued, so FIFO order within a level only
// holds among software pends: at equal priority an asserted direct line runs
// before every pend of that level, whenever either arrived.
func (k *Kernel) dispatch() {
	for !k.halted {
		k.sampleBypassed()

		hw, hwOK := k.highestDirect()
		sp, swOK := k.slic.Peek(k.threshold)
		switch {
		case hwOK && (!swOK || k.tasks[hw].prio >= sp):
			t := &k.tasks[hw]
			k.irq.Clear(t.line)
			k.record(EvHardware, hw, uint32(t.line))
			k.invoke(hw)
		case swOK:
			id, ok := k.slic.ClaimHighest(k.threshold)
			if !ok {
				return
			}
			k.invoke(id)
		default:
			return
		}
	}
}

// highestDirect returns the most urgent direct hardware task whose line is
// asserted and whose priority beats the threshold.
func (k *Kernel) highestDirect() (TaskID, bool) {
	for _, id := range k.direct {
		t := &k.tasks[id]
		if t.prio <= k.threshold {
			return 0, false
		}
		if k.irq.IsPending(t.line) {
			return id, true
		}
	}
	return 0, false
}

// sampleBypassed converts asserted bypassed lines into software pends. The
// clear routine runs first so the physical line does not re-fire.
func (k *Kernel) sampleBypassed() {
	for i := range k.bypass {
		b := &k.bypass[i]
		if !k.irq.IsPending(b.line) {
			continue
		}
		b.clear()
		k.record(EvClear, b.task, uint32(b.line))
		if k.irq.IsPending(b.line) {
			b.storm++
			if b.storm >= stormLimit {
				k.fail(b.task, fmt.Errorf("line %d still asserted after clear: %w", b.line, ErrInterruptStorm))
				panic(haltSignal{})
			}
		}
		if err := k.slic.Pend(b.task); err != nil {
			k.record(EvLost, b.task, uint32(b.line))
			k.log.WriteLineString(fmt.Sprintf("kernel: line %d: %s: %v", b.line, k.tasks[b.task].name, err))
			continue
		}
		k.record(EvPend, b.task, uint32(b.line))
	}
}

// invoke runs one invocation of id at its priority and restores the
// interrupted context afterwards.
func (k *Kernel) invoke(id TaskID) {
	t := &k.tasks[id]
	prevRunning, prevThreshold := k.running, k.threshold
	if prevRunning > 0 {
		k.levels[prevRunning] = LevelPreempted
	}
	k.running, k.threshold = t.prio, t.prio
	k.levels[t.prio] = LevelRunning
	k.irq.Mask(uint8(t.prio))
	defer func() {
		k.irq.Unmask()
		k.levels[t.prio] = LevelIdle
		k.running, k.threshold = prevRunning, prevThreshold
		if prevRunning > 0 {
			k.levels[prevRunning] = LevelRunning
		}
	}()
	k.dispatched++
	t.invocations++

	if t.binding == BindAsync {
		k.poll(id, t)
		return
	}
	k.record(EvEnter, id, 0)
	k.guard(id, func() { t.run(&t.cx) })
	k.record(EvExit, id, 0)
}

// guard runs fn and turns a panic into a kernel halt. Once halted, the
// haltSignal panic unwinds every interrupted context up to Step or Init.
func (k *Kernel) guard(id TaskID, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(haltSignal); !ok {
			k.fail(id, r)
		}
		panic(haltSignal{})
	}()
	fn()
}

func (k *Kernel) fail(id TaskID, v any) {
	if k.halted {
		return
	}
	k.halted = true
	k.record(EvPanic, id, 0)
	info := k.panicInfo(id, v)
	k.log.WriteLineString(fmt.Sprintf("kernel: halted in %s: %v", info.Task, v))
	triggerPanic(info)
}

func (k *Kernel) recoverHalt(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if _, ok := r.(haltSignal); !ok {
		panic(r)
	}
	*err = ErrHalted
}

// Lookup returns the ID of the named task.
func (k *Kernel) Lookup(name string) (TaskID, bool) {
	for i := range k.tasks {
		if k.tasks[i].name == name {
			return TaskID(i), true
		}
	}
	return 0, false
}

// TaskName returns the task's name, or "init"/"idle" for thread level.
func (k *Kernel) TaskName(id TaskID) string {
	switch {
	case id == InitTask:
		return "init"
	case id == IdleTask:
		return "idle"
	case int(id) < len(k.tasks):
		return k.tasks[id].name
	default:
		return fmt.Sprintf("task#%d", id)
	}
}

// TaskCount returns the number of tasks in the table.
func (k *Kernel) TaskCount() int { return len(k.tasks) }

// TaskPriority returns the priority of id.
func (k *Kernel) TaskPriority(id TaskID) Priority {
	if int(id) >= len(k.tasks) {
		return 0
	}
	return k.tasks[id].prio
}

// ByPriority returns task IDs from most to least urgent. Tasks of equal
// priority keep registration order.
func (k *Kernel) ByPriority() []TaskID {
	return append([]TaskID(nil), k.byPrio...)
}

// Invocations returns how many times id has been entered or resumed.
func (k *Kernel) Invocations(id TaskID) uint32 {
	if int(id) >= len(k.tasks) {
		return 0
	}
	return k.tasks[id].invocations
}

// Pending returns the outstanding requests for id, counting an async
// invocation that is running or suspended.
func (k *Kernel) Pending(id TaskID) int { return k.slic.Pending(id) }

// Suspended reports whether an async task is parked at a resume point.
func (k *Kernel) Suspended(id TaskID) (ResumePoint, bool) {
	if int(id) >= len(k.tasks) {
		return 0, false
	}
	s := k.tasks[id].slot
	return s.at, s.suspended
}

// Level returns the dispatcher state of priority p.
func (k *Kernel) Level(p Priority) LevelState {
	if p > MaxPriority {
		return LevelIdle
	}
	return k.levels[p]
}

// Running returns the priority of the running task, 0 at thread level.
func (k *Kernel) Running() Priority { return k.running }

// Threshold returns the current preemption threshold (running priority
// raised by held ceilings).
func (k *Kernel) Threshold() Priority { return k.threshold }

// Halted reports whether a task failure stopped the kernel.
func (k *Kernel) Halted() bool { return k.halted }

// Controller exposes the software interrupt controller.
func (k *Kernel) Controller() *Controller { return k.slic }
