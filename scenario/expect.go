package scenario

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrMismatch marks a run whose result differs from the expectation.
var ErrMismatch = errors.New("expectation not met")

// CheckBuild matches a Build error against expect.buildError.
func (f *File) CheckBuild(err error) error {
	want := f.Expect.BuildError
	switch {
	case want == "" && err != nil:
		return fmt.Errorf("build: %w", err)
	case want != "" && err == nil:
		return fmt.Errorf("build succeeded, want error containing %q: %w", want, ErrMismatch)
	case want != "" && !strings.Contains(err.Error(), want):
		return fmt.Errorf("build error %q does not contain %q: %w", err, want, ErrMismatch)
	}
	return nil
}

// Check compares a run with the expectations that are set.
func (f *File) Check(r *Result) error {
	e := f.Expect
	var errs []error
	mismatch := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrMismatch)...))
	}

	if e.Order != nil && !slices.Equal(r.Order, e.Order) {
		mismatch("order %v, want %v", r.Order, e.Order)
	}
	if e.Log != nil && !slices.Equal(r.Log, e.Log) {
		mismatch("log %q, want %q", r.Log, e.Log)
	}
	for _, name := range sortedKeys(e.Resources) {
		got, ok := r.Resources[name]
		if !ok {
			mismatch("resource %q missing", name)
		} else if got != e.Resources[name] {
			mismatch("resource %q = %d, want %d", name, got, e.Resources[name])
		}
	}
	for _, name := range sortedKeys(e.Locals) {
		got, ok := r.Locals[name]
		if !ok {
			mismatch("local %q missing", name)
		} else if got != e.Locals[name] {
			mismatch("local %q = %d, want %d", name, got, e.Locals[name])
		}
	}
	if e.Full != nil && r.Full != *e.Full {
		mismatch("%d full pends, want %d", r.Full, *e.Full)
	}
	if r.Halted != e.Halted {
		mismatch("halted = %v, want %v", r.Halted, e.Halted)
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]int) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
