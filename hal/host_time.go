//go:build !tinygo

package hal

import "time"

// hostTickDur is the period of one host tick.
const hostTickDur = 10 * time.Millisecond

// hostTime publishes a tick stream and asserts LineTimer on every tick, like
// the hardware timer does on the board.
type hostTime struct {
	ch  chan uint64
	seq uint64
	irq *VirtualIRQ

	now  func() time.Time
	last time.Time
	acc  time.Duration
}

func newHostTime(irq *VirtualIRQ) *hostTime {
	return &hostTime{ch: make(chan uint64, 1024), irq: irq, now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step converts wall time elapsed since the previous call into ticks. The first
// call always produces n ticks.
func (t *hostTime) step(n uint64) {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(n)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / hostTickDur)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % hostTickDur
	t.stepN(ticks)
}

func (t *hostTime) stepN(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		if t.irq != nil {
			t.irq.Raise(LineTimer)
		}
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
