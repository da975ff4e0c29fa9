// Package logger defers log output from task context to a low priority
// task, so that urgent tasks only pay for a copy into a ring.
package logger

import (
	"errors"
	"fmt"

	"rtslic/hal"
	"rtslic/kernel"
)

const (
	// Slots is how many lines the ring holds before it drops.
	Slots = 32
	// LineMax is the longest line kept; longer lines are truncated.
	LineMax = 96
)

// ErrDropped is returned when the ring is full and a line was discarded.
var ErrDropped = errors.New("logger: ring full, line dropped")

type ring struct {
	head    int
	count   int
	dropped uint32
	lens    [Slots]uint8
	lines   [Slots][LineMax]byte
}

func (r *ring) push(line string) bool {
	if r.count == Slots {
		r.dropped++
		return false
	}
	i := (r.head + r.count) % Slots
	r.lens[i] = uint8(copy(r.lines[i][:], line))
	r.count++
	return true
}

func (r *ring) pop(dst []byte) (int, bool) {
	if r.count == 0 {
		return 0, false
	}
	n := copy(dst, r.lines[r.head][:r.lens[r.head]])
	r.head = (r.head + 1) % Slots
	r.count--
	return n, true
}

type drainState struct {
	buf     [LineMax]byte
	dropped uint32
}

type Service struct {
	out  hal.Logger
	ring *kernel.Shared[ring]
	task kernel.TaskID
}

// New registers the ring and the drain task at prio. Tasks that log must
// list Resource() in their Shares.
func New(b *kernel.Builder, out hal.Logger, prio kernel.Priority) *Service {
	s := &Service{out: out}
	s.ring = kernel.NewShared(b, "log-ring", ring{})
	s.task = b.AddTask(kernel.Task("logger", prio, drainState{}, s.drain).Shares(s.ring))
	return s
}

// Resource is the ring tasks lock when they log.
func (s *Service) Resource() kernel.Resource { return s.ring }

// Task returns the drain task.
func (s *Service) Task() kernel.TaskID { return s.task }

// Print queues one line. The drain task runs once nothing more urgent is
// ready.
func (s *Service) Print(cx *kernel.Context, line string) error {
	ok := kernel.LockValue(cx, s.ring, func(r *ring) bool { return r.push(line) })
	if err := cx.Pend(s.task); err != nil && !errors.Is(err, kernel.ErrQueueFull) {
		return err
	}
	// A full queue means a drain is already pending; it will see this line.
	if !ok {
		return ErrDropped
	}
	return nil
}

func (s *Service) Printf(cx *kernel.Context, format string, args ...any) error {
	return s.Print(cx, fmt.Sprintf(format, args...))
}

type popped struct {
	n       int
	ok      bool
	dropped uint32
}

func (s *Service) drain(cx *kernel.Context, st *drainState) {
	for {
		p := kernel.LockValue(cx, s.ring, func(r *ring) popped {
			n, ok := r.pop(st.buf[:])
			return popped{n: n, ok: ok, dropped: r.dropped}
		})
		if p.dropped != st.dropped {
			s.out.WriteLineString(fmt.Sprintf("logger: %d lines dropped", p.dropped-st.dropped))
			st.dropped = p.dropped
		}
		if !p.ok {
			return
		}
		s.out.WriteLineBytes(st.buf[:p.n])
	}
}
