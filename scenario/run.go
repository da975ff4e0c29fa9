package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rtslic/hal"
	"rtslic/kernel"
)

// Result is what a scenario run produced.
type Result struct {
	// Order lists task entries; resumed async tasks appear as name@point.
	Order     []string
	Log       []string
	Resources map[string]int
	Locals    map[string]int
	Full      int
	Halted    bool
	Trace     []string
}

// System is a built scenario ready to run.
type System struct {
	f   *File
	irq *hal.VirtualIRQ
	k   *kernel.Kernel

	ids       map[string]kernel.TaskID
	resources map[string]*kernel.Shared[int]
	locals    map[string]*locals
	res       Result
}

type locals struct {
	vars map[string]int
}

// Build turns the file into a kernel. Task table errors come from the kernel
// builder unchanged so callers can match them with errors.Is.
func (f *File) Build(log hal.Logger) (*System, error) {
	s := &System{
		f:         f,
		irq:       hal.NewVirtualIRQ(),
		ids:       make(map[string]kernel.TaskID, len(f.Tasks)),
		resources: make(map[string]*kernel.Shared[int], len(f.Resources)),
		locals:    make(map[string]*locals, len(f.Tasks)),
	}
	b := kernel.NewBuilder()

	for _, r := range f.Resources {
		s.resources[r.Name] = kernel.NewSharedCeiling(b, r.Name, kernel.Priority(r.Ceiling), r.Init)
	}
	for _, l := range f.Lines {
		if !l.Bypass {
			continue
		}
		line := hal.Line(l.Line)
		switch l.Clear {
		case "none":
			b.Bypass(line, nil)
		case "broken":
			b.Bypass(line, func() {})
		default:
			b.Bypass(line, func() { s.irq.Clear(line) })
		}
	}

	for i := range f.Tasks {
		t := &f.Tasks[i]
		var spec kernel.TaskSpec
		if t.Async {
			spec = kernel.AsyncTask(t.Name, kernel.Priority(t.Priority), locals{vars: map[string]int{}}, s.asyncBody(t))
		} else {
			spec = kernel.Task(t.Name, kernel.Priority(t.Priority), locals{vars: map[string]int{}}, s.body(t))
		}
		if t.Capacity > 0 {
			spec = spec.WithCapacity(t.Capacity)
		}
		if t.Binds != "" {
			line, _ := f.line(t.Binds)
			spec = spec.Bind(line)
		}
		for _, r := range t.Shares {
			spec = spec.Shares(s.resources[r])
		}
		s.ids[t.Name] = b.AddTask(spec)
	}

	if len(f.Idle) > 0 {
		var idleShares []kernel.Resource
		for _, st := range f.Idle {
			if st.Add != "" {
				idleShares = append(idleShares, s.resources[st.Add])
			}
		}
		ran := false
		b.Idle(func(cx *kernel.Context) {
			if f.IdleOnce && ran {
				return
			}
			ran = true
			s.run(cx, "idle", f.Idle, nil)
		}, idleShares...)
	}

	k, err := b.Build(s.irq, log)
	if err != nil {
		return nil, err
	}
	s.k = k
	return s, nil
}

func (s *System) body(t *Task) func(cx *kernel.Context, l *locals) {
	return func(cx *kernel.Context, l *locals) {
		s.res.Order = append(s.res.Order, t.Name)
		s.locals[t.Name] = l
		s.run(cx, t.Name, t.Steps, l)
	}
}

// asyncBody splits the steps at yield markers; resume point n continues
// after the n-th yield.
func (s *System) asyncBody(t *Task) func(cx *kernel.Context, l *locals, at kernel.ResumePoint) kernel.Poll {
	var segments [][]Step
	start := 0
	for i, st := range t.Steps {
		if st.Yield {
			segments = append(segments, t.Steps[start:i])
			start = i + 1
		}
	}
	segments = append(segments, t.Steps[start:])

	return func(cx *kernel.Context, l *locals, at kernel.ResumePoint) kernel.Poll {
		if at == 0 {
			s.res.Order = append(s.res.Order, t.Name)
		} else {
			s.res.Order = append(s.res.Order, t.Name+"@"+strconv.Itoa(int(at)))
		}
		s.locals[t.Name] = l
		s.run(cx, t.Name, segments[at], l)
		if int(at)+1 < len(segments) {
			return kernel.Yield(at + 1)
		}
		return kernel.Done()
	}
}

func (s *System) run(cx *kernel.Context, who string, steps []Step, l *locals) {
	for _, st := range steps {
		switch {
		case st.Add != "":
			by := st.By
			if by == 0 {
				by = 1
			}
			kernel.Lock(cx, s.resources[st.Add], func(v *int) { *v += by })
		case st.Local != "":
			if l != nil {
				by := st.By
				if by == 0 {
					by = 1
				}
				l.vars[st.Local] += by
			}
		case st.Pend != "":
			if err := cx.Pend(s.ids[st.Pend]); err != nil {
				if !errors.Is(err, kernel.ErrQueueFull) {
					panic(err)
				}
				s.res.Full++
				s.res.Log = append(s.res.Log, fmt.Sprintf("%s: pend %s: %v", who, st.Pend, err))
			}
		case st.Raise != "":
			line, _ := s.f.line(st.Raise)
			s.irq.Raise(line)
		case st.Log != "":
			s.res.Log = append(s.res.Log, who+": "+expand(st.Log, l))
		}
	}
}

// expand replaces {name} with the value of a local and {name:s} with "s"
// when that value is not 1.
func expand(text string, l *locals) string {
	if l == nil || !strings.Contains(text, "{") {
		return text
	}
	for name, v := range l.vars {
		plural := "s"
		if v == 1 {
			plural = ""
		}
		text = strings.ReplaceAll(text, "{"+name+":s}", plural)
		text = strings.ReplaceAll(text, "{"+name+"}", strconv.Itoa(v))
	}
	return text
}

// Run executes init and the script (a single step when the script is empty)
// and collects the result.
func (s *System) Run() (*Result, error) {
	err := s.k.Init(func(cx *kernel.Context) {
		s.run(cx, "init", s.f.Init, nil)
	})
	if err != nil && !errors.Is(err, kernel.ErrHalted) {
		return nil, err
	}

	script := s.f.Script
	if len(script) == 0 {
		script = []Action{{Step: 1}}
	}
	for _, a := range script {
		if s.k.Halted() {
			break
		}
		switch {
		case a.Raise != "":
			line, _ := s.f.line(a.Raise)
			s.irq.Raise(line)
		case a.Pend != "":
			id := s.ids[a.Pend]
			if err := s.k.Pend(id); errors.Is(err, kernel.ErrQueueFull) {
				s.res.Full++
				s.res.Log = append(s.res.Log, fmt.Sprintf("script: pend %s: %v", a.Pend, err))
			} else if err != nil && !errors.Is(err, kernel.ErrHalted) {
				return nil, err
			}
		default:
			for i := 0; i < a.Step; i++ {
				if _, err := s.k.Step(); errors.Is(err, kernel.ErrHalted) {
					break
				} else if err != nil {
					return nil, err
				}
			}
		}
	}

	s.res.Halted = s.k.Halted()
	s.res.Resources = make(map[string]int, len(s.resources))
	for name, r := range s.resources {
		s.res.Resources[name] = r.Load()
	}
	s.res.Locals = make(map[string]int)
	for task, l := range s.locals {
		for name, v := range l.vars {
			s.res.Locals[task+"."+name] = v
		}
	}
	for _, e := range s.k.Trace(nil) {
		s.res.Trace = append(s.res.Trace, s.k.Format(e))
	}
	return &s.res, nil
}

// Kernel returns the built kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }
