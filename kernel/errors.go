package kernel

import "errors"

var (
	// ErrQueueFull is returned by Pend when the task already has Capacity
	// invocations outstanding. The request is not recorded.
	ErrQueueFull = errors.New("queue full")

	ErrUnknownTask     = errors.New("unknown task")
	ErrUnknownResource = errors.New("unknown resource")
	ErrTooManyTasks    = errors.New("too many tasks")
	ErrDuplicateTask   = errors.New("duplicate task name")
	ErrPriorityRange   = errors.New("priority out of range")
	ErrCapacity        = errors.New("capacity must be at least 1")
	ErrBinding         = errors.New("invalid binding")
	ErrLineTaken       = errors.New("interrupt line already bound")
	ErrMissingClear    = errors.New("bypassed line has no clear routine")
	ErrCeilingTooLow   = errors.New("ceiling below highest accessor priority")

	// ErrNotShared is the panic value when a task locks a resource outside
	// its declared access set.
	ErrNotShared = errors.New("resource not in task access set")

	// ErrInterruptStorm reports a bypassed line that stays asserted after
	// its clear routine ran.
	ErrInterruptStorm = errors.New("interrupt storm")

	ErrStarted = errors.New("kernel already started")
	ErrHalted  = errors.New("kernel halted")
)
