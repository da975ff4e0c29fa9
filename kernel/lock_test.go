package kernel

import (
	"errors"
	"reflect"
	"testing"

	"rtslic/hal"
)

type pair struct{ a, b int }

func TestLockExcludesAccessorsUpToCeiling(t *testing.T) {
	var (
		k     *Kernel
		order []string
		ids   struct{ mid, high TaskID }
	)
	b := NewBuilder()
	state := NewShared(b, "state", pair{})

	b.AddTask(Task("low", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		Lock(cx, state, func(v *pair) {
			if got := k.Threshold(); got != 3 {
				t.Errorf("Threshold() inside lock = %d, want 3", got)
			}
			v.a++
			if err := cx.Pend(ids.high); err != nil {
				t.Errorf("Pend(high) = %v", err)
			}
			if err := cx.Pend(ids.mid); err != nil {
				t.Errorf("Pend(mid) = %v", err)
			}
			order = append(order, "low:critical")
			v.b++
		})
		order = append(order, "low:after")
		if got := k.Threshold(); got != 1 {
			t.Errorf("Threshold() after lock = %d, want 1", got)
		}
	}).Shares(state))
	ids.mid = b.AddTask(Task("mid", 2, struct{}{}, func(cx *Context, _ *struct{}) {
		order = append(order, "mid")
	}))
	ids.high = b.AddTask(Task("high", 3, struct{}{}, func(cx *Context, _ *struct{}) {
		Lock(cx, state, func(v *pair) {
			if v.a != v.b {
				t.Errorf("high saw partial update %+v", *v)
			}
		})
		order = append(order, "high")
	}).Shares(state))
	k = mustBuild(t, b, hal.NewVirtualIRQ())

	low, _ := k.Lookup("low")
	_ = k.Pend(low)
	mustStep(t, k)

	want := []string{"low:critical", "high", "mid", "low:after"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if got := state.Load(); got != (pair{1, 1}) {
		t.Fatalf("state = %+v, want {1 1}", got)
	}
}

func TestLockMirrorsCeilingIntoIRQ(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	b := NewBuilder()
	r := NewSharedCeiling(b, "r", 7, 0)
	b.AddTask(Task("t", 2, struct{}{}, func(cx *Context, _ *struct{}) {
		if got := irq.Threshold(); got != 2 {
			t.Errorf("IRQ threshold in task = %d, want 2", got)
		}
		Lock(cx, r, func(*int) {
			if got := irq.Threshold(); got != 7 {
				t.Errorf("IRQ threshold in lock = %d, want 7", got)
			}
		})
		if got := irq.Threshold(); got != 2 {
			t.Errorf("IRQ threshold after lock = %d, want 2", got)
		}
	}).Shares(r))
	k := mustBuild(t, b, irq)

	if got := r.Ceiling(); got != 7 {
		t.Fatalf("Ceiling() = %d, want 7", got)
	}
	id, _ := k.Lookup("t")
	_ = k.Pend(id)
	mustStep(t, k)
	if got := irq.Threshold(); got != 0 {
		t.Fatalf("IRQ threshold after Step = %d, want 0", got)
	}
}

func TestLockValueNested(t *testing.T) {
	b := NewBuilder()
	x := NewShared(b, "x", 2)
	y := NewShared(b, "y", 3)
	var got int
	b.AddTask(Task("t", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		got = LockValue(cx, x, func(xv *int) int {
			return *xv * LockValue(cx, y, func(yv *int) int { return *yv })
		})
	}).Shares(x, y))
	b.AddTask(Task("u", 4, struct{}{}, func(*Context, *struct{}) {}).Shares(y))
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	id, _ := k.Lookup("t")
	_ = k.Pend(id)
	mustStep(t, k)
	if got != 6 {
		t.Fatalf("LockValue() = %d, want 6", got)
	}
	if x.Ceiling() != 1 || y.Ceiling() != 4 {
		t.Fatalf("ceilings = %d, %d, want 1, 4", x.Ceiling(), y.Ceiling())
	}
}

func TestLockReleasedOnPanic(t *testing.T) {
	irq := hal.NewVirtualIRQ()
	b := NewBuilder()
	r := NewShared(b, "r", 0)
	b.AddTask(Task("t", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		Lock(cx, r, func(*int) { panic("inside") })
	}).Shares(r))
	b.AddTask(Task("u", 5, struct{}{}, func(*Context, *struct{}) {}).Shares(r))
	k := mustBuild(t, b, irq)

	id, _ := k.Lookup("t")
	_ = k.Pend(id)
	if _, err := k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() = %v, want ErrHalted", err)
	}
	if got := irq.Threshold(); got != 0 {
		t.Fatalf("IRQ threshold after panic = %d, want 0", got)
	}
	if got := k.Controller().Ceiling(); got != 0 {
		t.Fatalf("SLIC mask after panic = %d, want 0", got)
	}
}

func TestLockUndeclaredHalts(t *testing.T) {
	b := NewBuilder()
	r := NewShared(b, "r", 0)
	b.AddTask(Task("owner", 2, struct{}{}, func(*Context, *struct{}) {}).Shares(r))
	b.AddTask(Task("intruder", 1, struct{}{}, func(cx *Context, _ *struct{}) {
		Lock(cx, r, func(v *int) { *v = 99 })
	}))
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	id, _ := k.Lookup("intruder")
	_ = k.Pend(id)
	if _, err := k.Step(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Step() = %v, want ErrHalted", err)
	}
	if got := r.Load(); got != 0 {
		t.Fatalf("value = %d, want 0", got)
	}
}

func TestLockFromThreadLevel(t *testing.T) {
	b := NewBuilder()
	declared := NewShared(b, "declared", 0)
	other := NewShared(b, "other", 0)
	b.AddTask(Task("t", 2, struct{}{}, func(*Context, *struct{}) {}).Shares(declared, other))
	var idleErr any
	b.Idle(func(cx *Context) {
		Lock(cx, declared, func(v *int) { *v++ })
		func() {
			defer func() { idleErr = recover() }()
			Lock(cx, other, func(v *int) { *v++ })
		}()
	}, declared)
	k := mustBuild(t, b, hal.NewVirtualIRQ())

	err := k.Init(func(cx *Context) {
		Lock(cx, other, func(v *int) { *v = 10 })
	})
	if err != nil {
		t.Fatalf("Init() = %v", err)
	}
	mustStep(t, k)

	if got := declared.Load(); got != 1 {
		t.Fatalf("declared = %d, want 1", got)
	}
	if got := other.Load(); got != 10 {
		t.Fatalf("other = %d, want 10", got)
	}
	e, ok := idleErr.(error)
	if !ok || !errors.Is(e, ErrNotShared) {
		t.Fatalf("idle lock of undeclared resource = %v, want ErrNotShared", idleErr)
	}
}

func TestCeilingTooLowRejected(t *testing.T) {
	b := NewBuilder()
	r := NewSharedCeiling(b, "r", 1, 0)
	b.AddTask(Task("t", 2, struct{}{}, func(*Context, *struct{}) {}).Shares(r))
	_, err := b.Build(hal.NewVirtualIRQ(), nil)
	if !errors.Is(err, ErrCeilingTooLow) {
		t.Fatalf("Build() = %v, want ErrCeilingTooLow", err)
	}
}

func TestForeignResourceRejected(t *testing.T) {
	other := NewBuilder()
	r := NewShared(other, "r", 0)

	b := NewBuilder()
	b.AddTask(Task("t", 2, struct{}{}, func(*Context, *struct{}) {}).Shares(r))
	_, err := b.Build(hal.NewVirtualIRQ(), nil)
	if !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("Build() = %v, want ErrUnknownResource", err)
	}
}
