package hal

import (
	"context"
	"sync"
)

// VirtualIRQ is an emulated interrupt controller.
//
// Lines are asserted with Raise from any goroutine (emulated peripherals, the
// host tick source, tests) and observed by the single goroutine that runs the
// kernel. The mask threshold is kept as a stack so that nested Mask/Unmask pairs
// restore exactly.
type VirtualIRQ struct {
	mu      sync.Mutex
	pending uint64
	raised  [MaxLines]uint32
	stack   []uint8
	wake    chan struct{}
}

// NewVirtualIRQ returns an IRQ with every line deasserted and no mask.
func NewVirtualIRQ() *VirtualIRQ {
	return &VirtualIRQ{
		stack: make([]uint8, 1, 8),
		wake:  make(chan struct{}, 1),
	}
}

// Raise asserts a line and wakes a waiting core.
func (q *VirtualIRQ) Raise(line Line) {
	if line >= MaxLines {
		return
	}
	q.mu.Lock()
	q.pending |= 1 << line
	q.raised[line]++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *VirtualIRQ) IsPending(line Line) bool {
	if line >= MaxLines {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending&(1<<line) != 0
}

func (q *VirtualIRQ) Clear(line Line) {
	if line >= MaxLines {
		return
	}
	q.mu.Lock()
	q.pending &^= 1 << line
	q.mu.Unlock()
}

func (q *VirtualIRQ) Mask(ceiling uint8) {
	q.mu.Lock()
	q.stack = append(q.stack, ceiling)
	q.mu.Unlock()
}

func (q *VirtualIRQ) Unmask() {
	q.mu.Lock()
	if len(q.stack) > 1 {
		q.stack = q.stack[:len(q.stack)-1]
	}
	q.mu.Unlock()
}

// Threshold returns the currently active mask ceiling.
func (q *VirtualIRQ) Threshold() uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stack[len(q.stack)-1]
}

// Raised returns how many times line has been asserted.
func (q *VirtualIRQ) Raised(line Line) uint32 {
	if line >= MaxLines {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.raised[line]
}

// Wait blocks until any line is pending or ctx is done.
func (q *VirtualIRQ) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		p := q.pending
		q.mu.Unlock()
		if p != 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}
