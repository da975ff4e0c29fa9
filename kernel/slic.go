package kernel

import "math/bits"

// readyQueue is the FIFO of pends at one priority level. It is sized to the
// sum of the capacities of the lines at that level, so push cannot overflow
// while every line respects its own capacity.
type readyQueue struct {
	head  int
	count int
	slots []TaskID
}

func (q *readyQueue) push(id TaskID) bool {
	if q.count >= len(q.slots) {
		return false
	}
	q.slots[(q.head+q.count)%len(q.slots)] = id
	q.count++
	return true
}

func (q *readyQueue) pop() (TaskID, bool) {
	if q.count == 0 {
		return 0, false
	}
	id := q.slots[q.head]
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return id, true
}

type lineState struct {
	prio     Priority
	capacity uint8
	count    uint8
	// held lines keep their claimed request counted until release.
	held bool
}

// Controller is the software interrupt controller: one logical line per task,
// each with a bounded pending counter, serviced highest priority first and
// FIFO within a priority.
type Controller struct {
	lines  []lineState
	levels [MaxPriority + 1]readyQueue
	ready  uint32
	masks  []Priority
}

// NewController creates a controller with one line per entry of prios.
// caps gives each line's capacity; missing or zero entries mean 1.
func NewController(prios []Priority, caps []uint8) *Controller {
	c := &Controller{
		lines: make([]lineState, len(prios)),
		masks: make([]Priority, 1, 8),
	}
	var sizes [MaxPriority + 1]int
	for i, p := range prios {
		capacity := uint8(1)
		if i < len(caps) && caps[i] > 0 {
			capacity = caps[i]
		}
		if p > MaxPriority {
			p = MaxPriority
		}
		c.lines[i] = lineState{prio: p, capacity: capacity}
		sizes[p] += int(capacity)
	}
	for p, n := range sizes {
		if n > 0 {
			c.levels[p].slots = make([]TaskID, n)
		}
	}
	return c
}

// Pend records one request to run line. It fails with ErrQueueFull when the
// line already has Capacity requests outstanding.
func (c *Controller) Pend(line TaskID) error {
	if int(line) >= len(c.lines) {
		return ErrUnknownTask
	}
	l := &c.lines[line]
	if l.count >= l.capacity {
		return ErrQueueFull
	}
	if !c.levels[l.prio].push(line) {
		return ErrQueueFull
	}
	l.count++
	c.ready |= 1 << l.prio
	return nil
}

// floor is the priority a line must exceed to be claimed.
func (c *Controller) floor(threshold Priority) Priority {
	if m := c.masks[len(c.masks)-1]; m > threshold {
		return m
	}
	return threshold
}

// Peek reports the priority ClaimHighest would return.
func (c *Controller) Peek(threshold Priority) (Priority, bool) {
	eligible := c.ready & (^uint32(0) << (uint(c.floor(threshold)) + 1))
	if eligible == 0 {
		return 0, false
	}
	return Priority(bits.Len32(eligible) - 1), true
}

// ClaimHighest removes and returns the oldest pend of the highest-priority
// line above both threshold and the current mask.
func (c *Controller) ClaimHighest(threshold Priority) (TaskID, bool) {
	p, ok := c.Peek(threshold)
	if !ok {
		return 0, false
	}
	q := &c.levels[p]
	id, ok := q.pop()
	if !ok {
		c.ready &^= 1 << p
		return 0, false
	}
	if q.count == 0 {
		c.ready &^= 1 << p
	}
	if !c.lines[id].held {
		c.lines[id].count--
	}
	return id, true
}

// Mask raises the effective mask to ceiling; lines at or below it are not
// claimable until the matching Unmask.
func (c *Controller) Mask(ceiling Priority) {
	c.masks = append(c.masks, ceiling)
}

// Unmask restores the mask active before the last Mask.
func (c *Controller) Unmask() {
	if len(c.masks) > 1 {
		c.masks = c.masks[:len(c.masks)-1]
	}
}

// Ceiling returns the current mask.
func (c *Controller) Ceiling() Priority {
	return c.masks[len(c.masks)-1]
}

// Pending returns how many requests are outstanding for line.
func (c *Controller) Pending(line TaskID) int {
	if int(line) >= len(c.lines) {
		return 0
	}
	return int(c.lines[line].count)
}

// Capacity returns the line's capacity.
func (c *Controller) Capacity(line TaskID) int {
	if int(line) >= len(c.lines) {
		return 0
	}
	return int(c.lines[line].capacity)
}

// holdUntilDone makes line keep a claimed request counted against its
// capacity until release, so an async invocation occupies its slot across
// yields.
func (c *Controller) holdUntilDone(line TaskID) {
	c.lines[line].held = true
}

// requeue puts a claimed held request back at the tail of its level. The
// request is still counted, so it does not change Pending.
func (c *Controller) requeue(line TaskID) bool {
	l := &c.lines[line]
	if !c.levels[l.prio].push(line) {
		return false
	}
	c.ready |= 1 << l.prio
	return true
}

// release frees the slot of a held request whose invocation completed.
func (c *Controller) release(line TaskID) {
	if l := &c.lines[line]; l.count > 0 {
		l.count--
	}
}
