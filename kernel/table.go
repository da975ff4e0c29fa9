package kernel

import (
	"errors"
	"fmt"

	"rtslic/hal"

	"golang.org/x/exp/slices"
)

// Builder collects the static task table. Everything is declared before
// Build; the resulting Kernel cannot gain tasks, resources or lines.
type Builder struct {
	tasks      []TaskSpec
	resources  []*resourceMeta
	bypass     []bypassSpec
	idle       func(cx *Context)
	idleShares []*resourceMeta
}

type bypassSpec struct {
	line  hal.Line
	clear func()
}

// NewBuilder returns an empty task table.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddTask registers a task and returns its ID. IDs are assigned in
// registration order.
func (b *Builder) AddTask(t TaskSpec) TaskID {
	id := TaskID(len(b.tasks))
	b.tasks = append(b.tasks, t)
	return id
}

// Bypass routes a physical line through the software controller. clear is
// called on every entry for the line, before any task body, and must
// deassert the physical flag.
func (b *Builder) Bypass(line hal.Line, clear func()) {
	b.bypass = append(b.bypass, bypassSpec{line: line, clear: clear})
}

// Idle installs the thread-level hook run whenever no task is ready. rs are
// the resources it may lock.
func (b *Builder) Idle(fn func(cx *Context), rs ...Resource) {
	b.idle = fn
	for _, r := range rs {
		b.idleShares = append(b.idleShares, r.meta())
	}
}

// Build validates the table and returns the kernel. Misconfigurations are
// all reported together; no kernel is returned if there is any.
func (b *Builder) Build(irq hal.IRQ, log hal.Logger) (*Kernel, error) {
	if irq == nil {
		return nil, errors.New("build: nil IRQ")
	}
	if log == nil {
		log = discardLogger{}
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	k := &Kernel{
		tasks: make([]task, len(b.tasks)),
		irq:   irq,
		log:   log,
		idle:  b.idle,
	}

	bypassed := make(map[hal.Line]func(), len(b.bypass))
	for _, bp := range b.bypass {
		bypassed[bp.line] = bp.clear
	}

	prios := make([]Priority, len(b.tasks))
	caps := make([]uint8, len(b.tasks))
	for i, spec := range b.tasks {
		id := TaskID(i)
		t := &k.tasks[i]
		*t = task{
			name:     spec.Name,
			prio:     spec.Priority,
			capacity: spec.Capacity,
			binding:  spec.binding,
			line:     spec.line,
			run:      spec.run,
			step:     spec.step,
		}
		t.cx = Context{k: k, id: id, prio: spec.Priority}
		prios[i] = spec.Priority
		caps[i] = spec.Capacity

		if spec.binding == BindHardware {
			k.bound |= 1 << spec.line
			if clear, ok := bypassed[spec.line]; ok {
				t.bypassed = true
				k.bypass = append(k.bypass, bypassLine{line: spec.line, clear: clear, task: id})
			} else {
				k.direct = append(k.direct, id)
			}
		}
	}
	k.slic = NewController(prios, caps)
	for i := range k.tasks {
		if k.tasks[i].binding == BindAsync {
			k.slic.holdUntilDone(TaskID(i))
		}
	}

	k.byPrio = make([]TaskID, len(b.tasks))
	for i := range k.byPrio {
		k.byPrio[i] = TaskID(i)
	}
	byPrioDesc := func(a, b TaskID) int {
		return int(k.tasks[b].prio) - int(k.tasks[a].prio)
	}
	slices.SortStableFunc(k.byPrio, byPrioDesc)
	slices.SortStableFunc(k.direct, byPrioDesc)
	slices.SortStableFunc(k.bypass, func(a, b bypassLine) int {
		return byPrioDesc(a.task, b.task)
	})

	k.resources = append([]*resourceMeta(nil), b.resources...)
	k.initCx = Context{k: k, id: InitTask}
	k.idleCx = Context{k: k, id: IdleTask}

	k.log.WriteLineString(fmt.Sprintf("kernel: %d tasks, %d resources, %d bypassed lines",
		len(k.tasks), len(k.resources), len(k.bypass)))
	return k, nil
}

func (b *Builder) validate() error {
	var errs []error
	if len(b.tasks) > MaxTasks {
		errs = append(errs, fmt.Errorf("%d tasks, limit %d: %w", len(b.tasks), MaxTasks, ErrTooManyTasks))
	}

	names := make(map[string]bool, len(b.tasks))
	lines := make(map[hal.Line]string)
	for i, t := range b.tasks {
		label := t.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if names[t.Name] {
			errs = append(errs, fmt.Errorf("task %q: %w", label, ErrDuplicateTask))
		}
		names[t.Name] = true

		if t.Priority < 1 || t.Priority > MaxPriority {
			errs = append(errs, fmt.Errorf("task %q: priority %d not in 1..%d: %w", label, t.Priority, MaxPriority, ErrPriorityRange))
		}
		if t.Capacity < 1 {
			errs = append(errs, fmt.Errorf("task %q: %w", label, ErrCapacity))
		}
		if t.run == nil && t.step == nil {
			errs = append(errs, fmt.Errorf("task %q: no body: %w", label, ErrBinding))
		}
		if t.asyncBound {
			errs = append(errs, fmt.Errorf("task %q: async tasks cannot bind line %d: %w", label, t.line, ErrBinding))
		}
		if t.binding == BindHardware {
			if t.line >= hal.MaxLines {
				errs = append(errs, fmt.Errorf("task %q: line %d out of range: %w", label, t.line, ErrBinding))
			} else if other, ok := lines[t.line]; ok {
				errs = append(errs, fmt.Errorf("task %q: line %d bound by %q: %w", label, t.line, other, ErrLineTaken))
			} else {
				lines[t.line] = label
			}
		}
		for _, r := range t.shares {
			if r.owner != b {
				errs = append(errs, fmt.Errorf("task %q: resource %q: %w", label, r.name, ErrUnknownResource))
			}
		}
	}
	for _, r := range b.idleShares {
		if r.owner != b {
			errs = append(errs, fmt.Errorf("idle: resource %q: %w", r.name, ErrUnknownResource))
		}
	}

	seen := make(map[hal.Line]bool, len(b.bypass))
	for _, bp := range b.bypass {
		if bp.clear == nil {
			errs = append(errs, fmt.Errorf("line %d: %w", bp.line, ErrMissingClear))
		}
		if seen[bp.line] {
			errs = append(errs, fmt.Errorf("line %d bypassed twice: %w", bp.line, ErrLineTaken))
		}
		seen[bp.line] = true
		if _, ok := lines[bp.line]; !ok {
			errs = append(errs, fmt.Errorf("line %d bypassed but no task binds it: %w", bp.line, ErrBinding))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return computeCeilings(b.tasks, b.idleShares, b.resources)
}

type discardLogger struct{}

func (discardLogger) WriteLineString(string) {}
func (discardLogger) WriteLineBytes([]byte)  {}
