//go:build tinygo && baremetal

package hal

import (
	"context"
	"runtime"
	"runtime/interrupt"
)

// coreIRQ keeps the pending lines in a word that is only modified with
// hardware interrupts disabled, so that ISRs and the kernel goroutine can both
// raise lines. The mask is a software threshold stack.
type coreIRQ struct {
	pending uint64
	stack   [64]uint8
	depth   int
}

func newCoreIRQ() *coreIRQ {
	return &coreIRQ{}
}

// Raise is safe to call from an interrupt handler.
func (q *coreIRQ) Raise(line Line) {
	if line >= MaxLines {
		return
	}
	state := interrupt.Disable()
	q.pending |= 1 << line
	interrupt.Restore(state)
}

func (q *coreIRQ) IsPending(line Line) bool {
	if line >= MaxLines {
		return false
	}
	state := interrupt.Disable()
	p := q.pending&(1<<line) != 0
	interrupt.Restore(state)
	return p
}

func (q *coreIRQ) Clear(line Line) {
	if line >= MaxLines {
		return
	}
	state := interrupt.Disable()
	q.pending &^= 1 << line
	interrupt.Restore(state)
}

func (q *coreIRQ) Mask(ceiling uint8) {
	if q.depth < len(q.stack)-1 {
		q.depth++
		q.stack[q.depth] = ceiling
	}
}

func (q *coreIRQ) Unmask() {
	if q.depth > 0 {
		q.depth--
	}
}

func (q *coreIRQ) Wait(ctx context.Context) error {
	for {
		state := interrupt.Disable()
		p := q.pending
		interrupt.Restore(state)
		if p != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
}
