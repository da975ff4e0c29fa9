package kernel

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"rtslic/hal"
)

func mustBuild(t *testing.T, b *Builder, irq hal.IRQ) *Kernel {
	t.Helper()
	k, err := b.Build(irq, nil)
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	return k
}

func mustStep(t *testing.T, k *Kernel) int {
	t.Helper()
	n, err := k.Step()
	if err != nil {
		t.Fatalf("Step() = %v", err)
	}
	return n
}

type recorder struct {
	order []string
}

func (r *recorder) task(name string) func(cx *Context, _ *struct{}) {
	return func(cx *Context, _ *struct{}) { r.order = append(r.order, name) }
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	var rec recorder
	b := NewBuilder()
	low := b.AddTask(Task("low", 1, struct{}{}, rec.task("low")))
	mid := b.AddTask(Task("mid", 2, struct{}{}, rec.task("mid")))
	high := b.AddTask(Task("high", 3, struct{}{}, rec.task("high")))
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	for _, id := range []TaskID{low, mid, high} {
		if err := k.Pend(id); err != nil {
			t.Fatalf("Pend(%s) = %v", k.TaskName(id), err)
		}
	}
	if len(rec.order) != 0 {
		t.Fatalf("tasks ran before Step: %v", rec.order)
	}

	if n := mustStep(t, k); n != 3 {
		t.Fatalf("Step() = %d, want 3", n)
	}
	want := []string{"high", "mid", "low"}
	if !reflect.DeepEqual(rec.order, want) {
		t.Fatalf("order = %v, want %v", rec.order, want)
	}
}

func TestPendPreemptsOnlyStrictlyHigher(t *testing.T) {
	var (
		k     *Kernel
		order []string
		ids   = map[string]TaskID{}
	)
	pend := func(cx *Context, name string) {
		if err := cx.Pend(ids[name]); err != nil {
			t.Errorf("%s: Pend(%s) = %v", cx.Name(), name, err)
		}
	}

	b := NewBuilder()
	ids["low"] = b.AddTask(Task("low", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "low:start")
		pend(cx, "peer")
		pend(cx, "high")
		if got := k.Level(1); got != LevelRunning {
			t.Errorf("Level(1) after nested run = %v, want running", got)
		}
		order = append(order, "low:end")
	}))
	ids["peer"] = b.AddTask(Task("peer", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "peer")
	}))
	ids["mid"] = b.AddTask(Task("mid", 2, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "mid")
	}))
	ids["high"] = b.AddTask(Task("high", 3, struct{}{}, func(cx *Context, _ *struct{}) {
		if got := k.Level(1); got != LevelPreempted {
			t.Errorf("Level(1) inside high = %v, want preempted", got)
		}
		if got := k.Running(); got != 3 {
			t.Errorf("Running() = %d, want 3", got)
		}
		order = append(order, "high")
		pend(cx, "mid")
		order = append(order, "high:end")
	}))
	k = mustBuild(t, b, hal.NewVirtualIRQ())

	if err := k.Pend(ids["low"]); err != nil {
		t.Fatalf("Pend(low) = %v", err)
	}
	mustStep(t, k)

	want := []string{"low:start", "high", "high:end", "mid", "low:end", "peer"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for p := Priority(0); p <= MaxPriority; p++ {
		if got := k.Level(p); got != LevelIdle {
			t.Fatalf("Level(%d) after Step = %v, want idle", p, got)
		}
	}
}

func TestPendAfterStartDispatchesImmediately(t *testing.T) {
	var rec recorder
	b := NewBuilder()
	id := b.AddTask(Task("t", 1, struct{}{}, rec.task("t")))
	k := mustBuild(t, b, hal.NewVirtualIRQ())
	mustStep(t, k)

	if err := k.Pend(id); err != nil {
		t.Fatalf("Pend() = %v", err)
	}
	if len(rec.order) != 1 {
		t.Fatalf("order = %v, want one run", rec.order)
	}
}

func TestPendCapacity(t *testing.T) {
	type local struct {
		runs   int
		inside bool
	}
	var k *Kernel
	b := NewBuilder()
	id := b.AddTask(Task("worker", 2, local{}, func(cx *Context, l *local) {
		if l.inside {
			t.Error("invocation overlapped the previous one")
		}
		l.inside = true
		l.runs++
		if got := k.Pending(cx.TaskID()); got != 3-l.runs {
			t.Errorf("Pending() during run %d = %d, want %d", l.runs, got, 3-l.runs)
		}
		l.inside = false
	}).WithCapacity(3))
	k = mustBuild(t, b, hal.NewVirtualIRQ())

	for i := 0; i < 3; i++ {
		if err := k.Pend(id); err != nil {
			t.Fatalf("Pend #%d = %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := k.Pend(id); !errors.Is(err, ErrQueueFull) {
			t.Fatalf("Pend over capacity = %v, want ErrQueueFull", err)
		}
	}

	if n := mustStep(t, k); n != 3 {
		t.Fatalf("Step() = %d, want 3", n)
	}
	if got := k.Invocations(id); got != 3 {
		t.Fatalf("Invocations() = %d, want 3", got)
	}

	var full int
	for _, e := range k.Trace(nil) {
		if e.Kind == EvQueueFull {
			full++
		}
	}
	if full != 2 {
		t.Fatalf("queue-full events = %d, want 2", full)
	}
}

func TestInitPendsRunAfterInit(t *testing.T) {
	var (
		k     *Kernel
		order []string
		id    TaskID
	)
	b := NewBuilder()
	id = b.AddTask(Task("hi", 5, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "task")
	}))
	k = mustBuild(t, b, hal.NewVirtualIRQ())

	err := k.Init(func(cx *Context) {
		if err := cx.Pend(id); err != nil {
			t.Errorf("Pend() in init = %v", err)
		}
		order = append(order, "init")
	})
	if err != nil {
		t.Fatalf("Init() = %v", err)
	}
	mustStep(t, k)

	want := []string{"init", "task"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if err := k.Init(nil); !errors.Is(err, ErrStarted) {
		t.Fatalf("Init() after Step = %v, want ErrStarted", err)
	}
}

func TestIdleHook(t *testing.T) {
	type local struct{ times int }
	var (
		idleRuns int
		id       TaskID
		seen     []int
	)
	b := NewBuilder()
	id = b.AddTask(Task("uart0", 1, local{}, func(cx *Context, l *local) {
		l.times++
		seen = append(seen, l.times)
	}))
	b.Idle(func(cx *Context) {
		idleRuns++
		if idleRuns == 1 {
			if err := cx.Pend(id); err != nil {
				t.Errorf("Pend() from idle = %v", err)
			}
		}
	})
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	if n := mustStep(t, k); n != 1 {
		t.Fatalf("Step() = %d, want 1", n)
	}
	if n := mustStep(t, k); n != 0 {
		t.Fatalf("second Step() = %d, want 0", n)
	}
	if !reflect.DeepEqual(seen, []int{1}) {
		t.Fatalf("times = %v, want [1]", seen)
	}
}

func TestDirectHardwareLine(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	var (
		k     *Kernel
		order []string
	)
	b := NewBuilder()
	b.AddTask(Task("timer", 2, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "timer")
	}).Bind(hal.LineTimer))
	high := b.AddTask(Task("high", 3, struct{}{}, func(cx *Context, _ *struct{}) {
		irq.Raise(hal.LineTimer)
		order = append(order, "high")
	}))
	low := b.AddTask(Task("low", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		irq.Raise(hal.LineTimer)
		// The line is sampled at the next kernel entry.
		if err := cx.Pend(high); err != nil {
			t.Errorf("Pend(high) = %v", err)
		}
		order = append(order, "low")
	}))
	k = mustBuild(t, b, irq)

	irq.Raise(hal.LineTimer)
	mustStep(t, k)
	if irq.IsPending(hal.LineTimer) {
		t.Fatal("timer line still pending after dispatch")
	}
	if err := k.Pend(low); err != nil {
		t.Fatalf("Pend(low) = %v", err)
	}

	want := []string{"timer", "high", "timer", "low"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

// At equal priority an asserted direct line runs before a software pend
// that was made earlier.
func TestDirectLineBeatsEarlierPendAtSamePriority(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	var order []string
	b := NewBuilder()
	sw := b.AddTask(Task("sw", 2, struct{}{}, func(*Context, *struct{}) {
		order = append(order, "sw")
	}))
	b.AddTask(Task("hw", 2, struct{}{}, func(*Context, *struct{}) {
		order = append(order, "hw")
	}).Bind(hal.LineGPIO))
	k := mustBuild(t, b, irq)

	if err := k.Pend(sw); err != nil {
		t.Fatalf("Pend(sw) = %v", err)
	}
	irq.Raise(hal.LineGPIO)
	mustStep(t, k)

	want := []string{"hw", "sw"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestBypassedLineRunsClearFirst(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	type local struct{ times int }
	var (
		clears int
		seen   []int
	)
	b := NewBuilder()
	b.Bypass(hal.LineUART0, func() {
		clears++
		irq.Clear(hal.LineUART0)
	})
	id := b.AddTask(Task("uart0", 1, local{}, func(cx *Context, l *local) {
		if irq.IsPending(hal.LineUART0) {
			t.Error("body ran with the line still asserted")
		}
		l.times++
		seen = append(seen, l.times)
	}).Bind(hal.LineUART0))
	k := mustBuild(t, b, irq)

	irq.Raise(hal.LineUART0)
	mustStep(t, k)
	if err := k.Pend(id); err != nil {
		t.Fatalf("Pend() = %v", err)
	}
	if clears != 1 {
		t.Fatalf("clears = %d, want 1", clears)
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Fatalf("times = %v, want [1 2]", seen)
	}
}

func TestBypassWithoutClearRejected(t *testing.T) {
	b := NewBuilder()
	b.Bypass(hal.LineUART0, nil)
	b.AddTask(Task("uart0", 1, struct{}{}, func(*Context, *struct{}) {}).Bind(hal.LineUART0))
	_, err := b.Build(hal.NewVirtualIRQ(), nil)
	if !errors.Is(err, ErrMissingClear) {
		t.Fatalf("Build() = %v, want ErrMissingClear", err)
	}
}

func TestBrokenClearHaltsOnStorm(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	var runs int
	b := NewBuilder()
	b.Bypass(hal.LineUART0, func() {})
	b.AddTask(Task("uart0", 1, struct{}{}, func(*Context, *struct{}) { runs++ }).Bind(hal.LineUART0))
	k := mustBuild(t, b, irq)

	irq.Raise(hal.LineUART0)
	if _, err := k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() = %v, want ErrHalted", err)
	}
	if !k.Halted() {
		t.Fatal("Halted() = false")
	}
	if runs == 0 || runs >= stormLimit {
		t.Fatalf("runs = %d, want between 1 and %d", runs, stormLimit-1)
	}
	if _, err := k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() after halt = %v, want ErrHalted", err)
	}
}

func TestTaskPanicHalts(t *testing.T) {
	var after bool
	b := NewBuilder()
	boom := b.AddTask(Task("boom", 3, struct{}{}, func(*Context, *struct{}) { panic("boom") }))
	b.AddTask(Task("caller", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		_ = cx.Pend(boom)
		after = true
	}))
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	caller, _ := k.Lookup("caller")
	_ = k.Pend(caller)
	if _, err := k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() = %v, want ErrHalted", err)
	}
	if after {
		t.Fatal("preempted task resumed after halt")
	}
	if !InPanicMode() {
		t.Fatal("InPanicMode() = false")
	}
	if err := k.Pend(caller); !errors.Is(err, ErrHalted) {
		t.Fatalf("Pend() after halt = %v, want ErrHalted", err)
	}

	trace := k.Trace(nil)
	if last := trace[len(trace)-1]; last.Kind != EvPanic || last.Task != boom {
		t.Fatalf("last event = %s, want panic in boom", k.Format(last))
	}
}

// A hardware task at priority 2 bumps a shared counter and pends tasks at
// priorities 1 and 3, which bump it too.
func TestSharedCounterScenario(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	var ids struct{ low, high TaskID }
	b := NewBuilder()
	counter := NewShared(b, "counter", 0)
	var log []string

	bump := func(name string) func(cx *Context, _ *struct{}) {
		return func(cx *Context, _ *struct{}) {
			Lock(cx, counter, func(v *int) { *v++ })
			log = append(log, name)
		}
	}
	ids.low = b.AddTask(Task("p1", 1, struct{}{}, bump("p1")).Shares(counter))
	ids.high = b.AddTask(Task("p3", 3, struct{}{}, bump("p3")).Shares(counter))
	b.AddTask(Task("hw", 2, struct{}{}, func(cx *Context, _ *struct{}) {
		Lock(cx, counter, func(v *int) { *v++ })
		if err := cx.Pend(ids.low); err != nil {
			t.Errorf("Pend(p1) = %v", err)
		}
		if err := cx.Pend(ids.high); err != nil {
			t.Errorf("Pend(p3) = %v", err)
		}
		log = append(log, "hw")
	}).Bind(hal.LineTimer).Shares(counter))
	k := mustBuild(t, b, irq)

	if got := counter.Ceiling(); got != 3 {
		t.Fatalf("Ceiling() = %d, want 3", got)
	}
	irq.Raise(hal.LineTimer)
	mustStep(t, k)

	if got := counter.Load(); got != 3 {
		t.Fatalf("counter = %d, want 3", got)
	}
	want := []string{"p3", "hw", "p1"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestRunWakesOnRaise(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	done := make(chan struct{})
	var ticks int
	b := NewBuilder()
	b.AddTask(Task("tick", 4, struct{}{}, func(*Context, *struct{}) {
		ticks++
		if ticks == 3 {
			close(done)
		}
	}).Bind(hal.LineTimer))
	k := mustBuild(t, b, irq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- k.Run(ctx) }()

	go func() {
		for {
			select {
			case <-done:
				cancel()
				return
			case <-time.After(time.Millisecond):
				irq.Raise(hal.LineTimer)
			}
		}
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
	if ticks < 3 {
		t.Fatalf("ticks = %d, want at least 3", ticks)
	}
}

func TestTraceSince(t *testing.T) {
	b := NewBuilder()
	id := b.AddTask(Task("t", 1, struct{}{}, func(*Context, *struct{}) {}))
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	_ = k.Pend(id)
	mark := k.TraceSeq()
	mustStep(t, k)

	var kinds []EventKind
	for _, e := range k.TraceSince(mark, nil) {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EvEnter, EvExit}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	for i := 0; i < traceSlots; i++ {
		_ = k.Pend(id)
	}
	if got := len(k.Trace(nil)); got != traceSlots {
		t.Fatalf("len(Trace()) = %d, want %d", got, traceSlots)
	}
}

func TestPanicInfoCarriesTraceTail(t *testing.T) {
	b := NewBuilder()
	id := b.AddTask(Task("a", 2, struct{}{}, func(*Context, *struct{}) {}))
	k := mustBuild(t, b, hal.NewVirtualIRQ())
	for i := 0; i < 12; i++ {
		k.record(EvPend, id, 0)
	}

	info := k.panicInfo(id, "x")
	if info.Task != "a" || info.Value != "x" {
		t.Fatalf("panicInfo() = %+v", info)
	}
	if len(info.Recent) != recentEvents {
		t.Fatalf("len(Recent) = %d, want %d", len(info.Recent), recentEvents)
	}
	if got, want := info.Recent[recentEvents-1], "00012 pend       a p2"; got != want {
		t.Fatalf("newest = %q, want %q", got, want)
	}
}
