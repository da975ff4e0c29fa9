package kernel

import (
	"sync"
	"sync/atomic"
)

// recentEvents is how much of the trace a PanicInfo carries.
const recentEvents = 8

// PanicInfo describes the task failure that halted a kernel.
type PanicInfo struct {
	TaskID    TaskID
	Task      string
	Priority  Priority
	Threshold Priority
	Value     any
	Stack     []byte
	// Recent is the tail of the trace, formatted, ending with the panic.
	Recent []string
}

var (
	halted   atomic.Bool
	haltOnce sync.Once
	onPanic  atomic.Pointer[func(PanicInfo)]
)

// InPanicMode reports whether any kernel in the process has halted on a
// task failure.
func InPanicMode() bool {
	return halted.Load()
}

// SetPanicHandler installs the process-wide handler for task failures. Only
// the first failure reaches it; it must not panic or block.
func SetPanicHandler(fn func(PanicInfo)) {
	onPanic.Store(&fn)
}

func triggerPanic(info PanicInfo) {
	haltOnce.Do(func() {
		halted.Store(true)
		if fn := onPanic.Load(); fn != nil && *fn != nil {
			(*fn)(info)
		}
	})
}

// panicInfo snapshots the failing context. Called after the panic event is
// recorded.
func (k *Kernel) panicInfo(id TaskID, v any) PanicInfo {
	info := PanicInfo{
		TaskID:    id,
		Task:      k.TaskName(id),
		Priority:  k.running,
		Threshold: k.threshold,
		Value:     v,
		Stack:     captureStack(),
	}
	after := uint32(0)
	if k.trace.seq > recentEvents {
		after = k.trace.seq - recentEvents
	}
	for _, e := range k.trace.since(after, nil) {
		info.Recent = append(info.Recent, k.Format(e))
	}
	return info
}

// haltSignal unwinds every nested invocation once a kernel has halted.
type haltSignal struct{}
