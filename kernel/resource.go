package kernel

// ResourceID indexes the resources registered with a Builder.
type ResourceID uint8

// Resource is state shared between tasks of different priorities.
type Resource interface {
	meta() *resourceMeta
}

const (
	idleAccess uint64 = 1 << 62
	initAccess uint64 = 1 << 63
)

type resourceMeta struct {
	id       ResourceID
	name     string
	owner    *Builder
	declared Priority
	ceiling  Priority
	access   uint64
}

func accessBit(id TaskID) uint64 {
	switch id {
	case InitTask:
		return initAccess
	case IdleTask:
		return idleAccess
	default:
		return 1 << id
	}
}

func (m *resourceMeta) allows(id TaskID) bool {
	return m.access&accessBit(id) != 0
}

// Shared holds a value protected by a priority ceiling. Access it with Lock
// or LockValue.
type Shared[T any] struct {
	res   *resourceMeta
	value T
}

// NewShared registers a resource whose ceiling is computed from the access
// sets of the tasks that share it.
func NewShared[T any](b *Builder, name string, init T) *Shared[T] {
	return NewSharedCeiling(b, name, 0, init)
}

// NewSharedCeiling registers a resource with an explicit ceiling. Build fails
// if the ceiling is below the priority of any task that shares the resource.
func NewSharedCeiling[T any](b *Builder, name string, ceiling Priority, init T) *Shared[T] {
	m := &resourceMeta{
		id:       ResourceID(len(b.resources)),
		name:     name,
		owner:    b,
		declared: ceiling,
		access:   initAccess,
	}
	b.resources = append(b.resources, m)
	return &Shared[T]{res: m, value: init}
}

func (s *Shared[T]) meta() *resourceMeta { return s.res }

// ID returns the resource's index in the task table.
func (s *Shared[T]) ID() ResourceID { return s.res.id }

// Name returns the name given at registration.
func (s *Shared[T]) Name() string { return s.res.name }

// Ceiling returns the resource's priority ceiling. It is final once Build
// succeeds.
func (s *Shared[T]) Ceiling() Priority { return s.res.ceiling }

// Load returns a copy of the value. It must only be called from the
// goroutine that drives the kernel, between Step calls.
func (s *Shared[T]) Load() T { return s.value }
