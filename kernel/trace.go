package kernel

import "fmt"

const traceSlots = 256

// EventKind classifies trace events.
type EventKind uint8

const (
	EvPend EventKind = iota + 1
	EvQueueFull
	EvEnter
	EvExit
	EvYield
	EvResume
	EvLock
	EvUnlock
	EvHardware
	EvClear
	EvLost
	EvIdle
	EvPanic
)

func (k EventKind) String() string {
	switch k {
	case EvPend:
		return "pend"
	case EvQueueFull:
		return "queue-full"
	case EvEnter:
		return "enter"
	case EvExit:
		return "exit"
	case EvYield:
		return "yield"
	case EvResume:
		return "resume"
	case EvLock:
		return "lock"
	case EvUnlock:
		return "unlock"
	case EvHardware:
		return "hardware"
	case EvClear:
		return "clear"
	case EvLost:
		return "lost"
	case EvIdle:
		return "idle"
	case EvPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// Event is one entry of the kernel trace.
//
// Arg depends on Kind: the resume point for yield/resume, the ceiling for
// lock, the physical line for hardware/clear/lost.
type Event struct {
	Seq      uint32
	Kind     EventKind
	Task     TaskID
	Priority Priority
	Arg      uint32
}

// traceRing keeps the most recent traceSlots events.
type traceRing struct {
	seq   uint32
	slots [traceSlots]Event
}

func (r *traceRing) record(e Event) {
	r.seq++
	e.Seq = r.seq
	r.slots[r.seq%traceSlots] = e
}

// since appends the events newer than after that are still in the ring.
func (r *traceRing) since(after uint32, dst []Event) []Event {
	oldest := uint32(1)
	if r.seq > traceSlots {
		oldest = r.seq - traceSlots + 1
	}
	if after+1 > oldest {
		oldest = after + 1
	}
	for s := oldest; s <= r.seq && s != 0; s++ {
		dst = append(dst, r.slots[s%traceSlots])
	}
	return dst
}

func (k *Kernel) record(kind EventKind, id TaskID, arg uint32) {
	var prio Priority
	if int(id) < len(k.tasks) {
		prio = k.tasks[id].prio
	}
	k.trace.record(Event{Kind: kind, Task: id, Priority: prio, Arg: arg})
}

// Trace appends every event still held in the trace ring to dst.
func (k *Kernel) Trace(dst []Event) []Event {
	return k.trace.since(0, dst)
}

// TraceSince appends the held events with Seq greater than after.
func (k *Kernel) TraceSince(after uint32, dst []Event) []Event {
	return k.trace.since(after, dst)
}

// TraceSeq returns the sequence number of the newest event.
func (k *Kernel) TraceSeq() uint32 {
	return k.trace.seq
}

// Format renders an event as a single line.
func (k *Kernel) Format(e Event) string {
	name := k.TaskName(e.Task)
	switch e.Kind {
	case EvYield, EvResume:
		return fmt.Sprintf("%05d %-10s %s p%d @%d", e.Seq, e.Kind, name, e.Priority, e.Arg)
	case EvLock, EvUnlock:
		return fmt.Sprintf("%05d %-10s %s ceiling %d", e.Seq, e.Kind, name, e.Arg)
	case EvHardware, EvClear, EvLost:
		return fmt.Sprintf("%05d %-10s %s line %d", e.Seq, e.Kind, name, e.Arg)
	case EvIdle:
		return fmt.Sprintf("%05d %-10s", e.Seq, e.Kind)
	default:
		return fmt.Sprintf("%05d %-10s %s p%d", e.Seq, e.Kind, name, e.Priority)
	}
}
