package scenario

import (
	"errors"
	"strings"
	"testing"

	"rtslic/kernel"
)

func runBuiltin(t *testing.T, name string) (*File, *Result, error) {
	t.Helper()
	f, err := Load(name)
	if err != nil {
		t.Fatalf("Load(%q) = %v", name, err)
	}
	sys, err := f.Build(nil)
	if f.Expect.BuildError != "" || err != nil {
		return f, nil, err
	}
	r, err := sys.Run()
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return f, r, nil
}

func TestBuiltinScenarios(t *testing.T) {
	names := Builtin()
	if len(names) == 0 {
		t.Fatal("no builtin scenarios")
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			f, r, buildErr := runBuiltin(t, name)
			if err := f.CheckBuild(buildErr); err != nil {
				t.Fatal(err)
			}
			if r == nil {
				return
			}
			if err := f.Check(r); err != nil {
				t.Fatalf("%v\ntrace:\n%s", err, strings.Join(r.Trace, "\n"))
			}
		})
	}
}

func TestBuildErrorsKeepKernelSentinels(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"ceiling_too_low", kernel.ErrCeilingTooLow},
		{"missing_clear", kernel.ErrMissingClear},
	}
	for _, tt := range tests {
		f, err := Load(tt.name)
		if err != nil {
			t.Fatalf("Load(%q) = %v", tt.name, err)
		}
		if _, err := f.Build(nil); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Build() = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestParseRejectsBadReferences(t *testing.T) {
	doc := `
name: bad
tasks:
  - name: a
    priority: 1
    binds: nowhere
    shares: [ghost]
    steps:
      - pend: b
      - yield: true
      - add: ghost
        log: two actions
script:
  - {}
`
	_, err := Parse([]byte(doc))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Parse() = %v, want ErrInvalid", err)
	}
	for _, want := range []string{
		`unknown line "nowhere"`,
		`unknown resource "ghost"`,
		`unknown task "b"`,
		"yield outside an async task",
		"want exactly one action, have 2",
		"script 0: empty action",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Parse() error missing %q:\n%v", want, err)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("name: x\ntaks: []\n")); err == nil {
		t.Fatal("Parse() accepted an unknown field")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("no-such-scenario"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() = %v, want ErrNotFound", err)
	}
}

func TestCheckReportsMismatches(t *testing.T) {
	full := 1
	f := &File{Expect: Expect{
		Order:     []string{"a", "b"},
		Resources: map[string]int{"r": 2, "missing": 0},
		Full:      &full,
	}}
	r := &Result{Order: []string{"b", "a"}, Resources: map[string]int{"r": 1}, Halted: true}

	err := f.Check(r)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("Check() = %v, want ErrMismatch", err)
	}
	for _, want := range []string{"order", `resource "missing" missing`, `resource "r" = 1, want 2`, "0 full pends, want 1", "halted = true, want false"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Check() error missing %q:\n%v", want, err)
		}
	}
}

func TestCheckBuild(t *testing.T) {
	f := &File{Expect: Expect{BuildError: "ceiling"}}
	if err := f.CheckBuild(nil); !errors.Is(err, ErrMismatch) {
		t.Fatalf("CheckBuild(nil) = %v, want ErrMismatch", err)
	}
	if err := f.CheckBuild(errors.New("other")); !errors.Is(err, ErrMismatch) {
		t.Fatalf("CheckBuild(other) = %v, want ErrMismatch", err)
	}
	if err := f.CheckBuild(kernel.ErrCeilingTooLow); err != nil {
		t.Fatalf("CheckBuild(ceiling) = %v", err)
	}
}
