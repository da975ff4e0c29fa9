// Package scenario describes task tables, the work done by each task and the
// expected outcome in YAML, and runs them on a kernel over a virtual IRQ.
package scenario

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"rtslic/hal"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtin embed.FS

// File is one scenario document.
type File struct {
	Name      string     `yaml:"name"`
	Lines     []Line     `yaml:"lines"`
	Resources []Resource `yaml:"resources"`
	Tasks     []Task     `yaml:"tasks"`
	Init      []Step     `yaml:"init"`
	Idle      []Step     `yaml:"idle"`
	IdleOnce  bool       `yaml:"idleOnce"`
	Script    []Action   `yaml:"script"`
	Expect    Expect     `yaml:"expect"`
}

// Line names a physical line. Bypassed lines go through the software
// controller; Clear is "ok" (default), "none" or "broken".
type Line struct {
	Name   string `yaml:"name"`
	Line   uint8  `yaml:"line"`
	Bypass bool   `yaml:"bypass"`
	Clear  string `yaml:"clear"`
}

type Resource struct {
	Name    string `yaml:"name"`
	Init    int    `yaml:"init"`
	Ceiling uint8  `yaml:"ceiling"`
}

type Task struct {
	Name     string   `yaml:"name"`
	Priority uint8    `yaml:"priority"`
	Binds    string   `yaml:"binds"`
	Capacity uint8    `yaml:"capacity"`
	Async    bool     `yaml:"async"`
	Shares   []string `yaml:"shares"`
	Steps    []Step   `yaml:"steps"`
}

// Step is one thing a task body does. Exactly one field is set.
type Step struct {
	Add   string `yaml:"add"`
	By    int    `yaml:"by"`
	Local string `yaml:"local"`
	Pend  string `yaml:"pend"`
	Raise string `yaml:"raise"`
	Log   string `yaml:"log"`
	Yield bool   `yaml:"yield"`
}

// Action is one thread-level script entry, run after Init.
type Action struct {
	Raise string `yaml:"raise"`
	Pend  string `yaml:"pend"`
	Step  int    `yaml:"step"`
}

type Expect struct {
	BuildError string         `yaml:"buildError"`
	Order      []string       `yaml:"order"`
	Log        []string       `yaml:"log"`
	Resources  map[string]int `yaml:"resources"`
	Locals     map[string]int `yaml:"locals"`
	Full       *int           `yaml:"full"`
	Halted     bool           `yaml:"halted"`
}

var (
	ErrInvalid  = errors.New("invalid scenario")
	ErrNotFound = errors.New("scenario not found")
)

// Builtin returns the names of the embedded scenarios.
func Builtin() []string {
	entries, err := builtin.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

// Load reads a scenario from a file, or from the embedded set when name has
// no such file.
func Load(name string) (*File, error) {
	b, err := os.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		b, err = builtin.ReadFile(path.Join("builtin", strings.TrimSuffix(name, ".yaml")+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
	} else if err != nil {
		return nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// Parse decodes and checks a scenario document. Unknown fields are errors.
func Parse(b []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	return &f, nil
}

var builtinLines = map[string]hal.Line{
	"timer": hal.LineTimer,
	"uart0": hal.LineUART0,
	"gpio":  hal.LineGPIO,
}

// line resolves a line name against the declared lines, then the board's.
func (f *File) line(name string) (hal.Line, bool) {
	for _, l := range f.Lines {
		if l.Name == name {
			return hal.Line(l.Line), true
		}
	}
	l, ok := builtinLines[name]
	return l, ok
}

func (f *File) task(name string) (*Task, bool) {
	for i := range f.Tasks {
		if f.Tasks[i].Name == name {
			return &f.Tasks[i], true
		}
	}
	return nil, false
}

func (f *File) resource(name string) bool {
	for _, r := range f.Resources {
		if r.Name == name {
			return true
		}
	}
	return false
}

// check verifies references between sections. Task table rules (priorities,
// ceilings, clear routines) are left to the kernel builder.
func (f *File) check() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalid)...))
	}

	for _, l := range f.Lines {
		switch l.Clear {
		case "", "ok", "none", "broken":
		default:
			bad("line %q: clear %q", l.Name, l.Clear)
		}
	}
	checkSteps := func(owner string, steps []Step, async bool) {
		for i, s := range steps {
			n := 0
			for _, set := range []bool{s.Add != "", s.Local != "", s.Pend != "", s.Raise != "", s.Log != "", s.Yield} {
				if set {
					n++
				}
			}
			if n != 1 {
				bad("%s step %d: want exactly one action, have %d", owner, i, n)
				continue
			}
			switch {
			case s.Add != "" && !f.resource(s.Add):
				bad("%s step %d: unknown resource %q", owner, i, s.Add)
			case s.Pend != "":
				if _, ok := f.task(s.Pend); !ok {
					bad("%s step %d: unknown task %q", owner, i, s.Pend)
				}
			case s.Raise != "":
				if _, ok := f.line(s.Raise); !ok {
					bad("%s step %d: unknown line %q", owner, i, s.Raise)
				}
			case s.Yield && !async:
				bad("%s step %d: yield outside an async task", owner, i)
			}
		}
	}

	for _, t := range f.Tasks {
		if t.Binds != "" {
			if _, ok := f.line(t.Binds); !ok {
				bad("task %q: unknown line %q", t.Name, t.Binds)
			}
		}
		for _, r := range t.Shares {
			if !f.resource(r) {
				bad("task %q: unknown resource %q", t.Name, r)
			}
		}
		checkSteps("task "+t.Name, t.Steps, t.Async)
	}
	checkSteps("init", f.Init, false)
	checkSteps("idle", f.Idle, false)

	for i, a := range f.Script {
		switch {
		case a.Raise != "":
			if _, ok := f.line(a.Raise); !ok {
				bad("script %d: unknown line %q", i, a.Raise)
			}
		case a.Pend != "":
			if _, ok := f.task(a.Pend); !ok {
				bad("script %d: unknown task %q", i, a.Pend)
			}
		case a.Step <= 0:
			bad("script %d: empty action", i)
		}
	}
	return errors.Join(errs...)
}
