package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/manifest"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/vm"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments("x1=5, X2=-3,7=0")
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := []vm.Cell{{Index: 1, Value: 5}, {Index: 2, Value: -3}, {Index: 7, Value: 0}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, got[i], want[i])
		}
	}

	if cells, err := parseAssignments("  "); err != nil || cells != nil {
		t.Errorf("empty input = %v, %v", cells, err)
	}
}

func TestParseAssignmentsErrors(t *testing.T) {
	for _, in := range []string{"x1", "y1=2", "x1=abc", "x=1", "x2147483648=1", "x1=5,"} {
		if _, err := parseAssignments(in); err == nil {
			t.Errorf("parseAssignments(%q) succeeded, want error", in)
		}
	}
}

func TestResolveLanguage(t *testing.T) {
	cfg := manifest.Default()
	cfg.Machine.Language = "goto"

	tests := []struct {
		flag, path string
		want       compiler.Language
	}{
		{"while", "fact.loop", compiler.LangWhile},
		{"", "fact.loop", compiler.LangLoop},
		{"", "prog.txt", compiler.LangGoto},
	}
	for _, tc := range tests {
		got, err := resolveLanguage(tc.flag, tc.path, cfg)
		if err != nil {
			t.Fatalf("resolveLanguage(%q, %q): %v", tc.flag, tc.path, err)
		}
		if got != tc.want {
			t.Errorf("resolveLanguage(%q, %q) = %v, want %v", tc.flag, tc.path, got, tc.want)
		}
	}

	if _, err := resolveLanguage("pascal", "x.loop", cfg); err == nil {
		t.Error("unknown language should fail")
	}
}

func TestPrintRegisters(t *testing.T) {
	var buf bytes.Buffer
	printRegisters(&buf, []vm.Cell{{Index: 1, Value: 0}, {Index: 12, Value: 1234567}})
	want := "x1  = 0\nx12 = 1,234,567\n"
	if buf.String() != want {
		t.Errorf("printRegisters = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printRegisters(&buf, nil)
	if !strings.Contains(buf.String(), "no registers") {
		t.Errorf("printRegisters(nil) = %q", buf.String())
	}
}

func TestPrintOutcome(t *testing.T) {
	tests := []struct {
		status api.RunStatus
		want   string
		code   int
	}{
		{api.RunStatus{Outcome: "completed", Steps: 1500}, "finished after 0s (1,500 steps)", exitOK},
		{api.RunStatus{Outcome: "terminated", Steps: 3}, "terminated after", exitTerminated},
		{api.RunStatus{Outcome: "fault", Error: "fault at 0 (pop): stack underflow"}, "stack underflow", exitFault},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		printOutcome(&buf, tc.status)
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("printOutcome(%s) = %q, want it to contain %q", tc.status.Outcome, buf.String(), tc.want)
		}
		if got := exitCode(tc.status.Outcome); got != tc.code {
			t.Errorf("exitCode(%s) = %d, want %d", tc.status.Outcome, got, tc.code)
		}
	}
}

func TestRunLocalRecordsHistory(t *testing.T) {
	cfg := manifest.Default()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	j := &job{
		path:   "fact.loop",
		source: "x3 := x1 ; x2 := 1 ; loop x1 do x2 := x2 * x3 ; x3 := x3 - 1 end",
		lang:   compiler.LangLoop,
		regs:   []vm.Cell{{Index: 1, Value: 5}},
		cfg:    cfg,
	}

	var out bytes.Buffer
	if code := j.runLocal(&out); code != exitOK {
		t.Fatalf("runLocal exit code = %d, output:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "x2 = 120") {
		t.Errorf("output missing x2 = 120:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Program finished") {
		t.Errorf("output missing outcome:\n%s", out.String())
	}

	var hist bytes.Buffer
	if err := printHistory(&hist, cfg, "", 5); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	if !strings.Contains(hist.String(), "completed") || !strings.Contains(hist.String(), "loop") {
		t.Errorf("history = %q", hist.String())
	}
}

func TestRunLocalCompileError(t *testing.T) {
	cfg := manifest.Default()
	cfg.History.Enabled = false

	j := &job{path: "bad.while", source: "while x1 != 1 do x1 := 0 end", lang: compiler.LangWhile, cfg: cfg}
	var out bytes.Buffer
	if code := j.runLocal(&out); code != exitError {
		t.Errorf("exit code = %d, want %d", code, exitError)
	}
	if out.Len() != 0 {
		t.Errorf("compile error should print nothing to stdout, got %q", out.String())
	}
}

func TestDisassembleLocal(t *testing.T) {
	j := &job{path: "a.loop", source: "x1 := 2", lang: compiler.LangLoop, cfg: manifest.Default()}
	var out bytes.Buffer
	if code := j.disassemble(&out, ""); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out.String(), "mov") {
		t.Errorf("listing = %q", out.String())
	}
}
