package integration_test

import (
	"context"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxstrauch/theia/client"
	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/history"
	"github.com/maxstrauch/theia/manifest"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/bytecode"
	"github.com/maxstrauch/theia/server"
	"github.com/maxstrauch/theia/vm"
)

// ---------------------------------------------------------------------------
// Integration test helpers
// ---------------------------------------------------------------------------

// multiply holds one program per language computing x3 = x1 * x2. The GOTO
// version leaves its result in x6 as well.
var multiply = map[compiler.Language]string{
	compiler.LangLoop: "x3 := 0 ; loop x1 do x4 := x2 ; loop x4 do x3 := x3 + 1 end end",
	compiler.LangWhile: `x3 := 0 ; x4 := x1 ;
		while x4 != 0 do
			x5 := x2 ;
			while x5 != 0 do x3 := x3 + 1 ; x5 := x5 - 1 end ;
			x4 := x4 - 1
		end`,
	compiler.LangGoto: `1 : x3 := 0 ;
		2 : x4 := x1 ;
		3 : if x4 = 0 goto 11 ;
		4 : x5 := x2 ;
		5 : if x5 = 0 goto 9 ;
		6 : x3 := x3 + 1 ;
		7 : x5 := x5 - 1 ;
		8 : if 0 = 0 goto 5 ;
		9 : x4 := x4 - 1 ;
		10 : if 0 = 0 goto 3 ;
		11 : x6 := x3`,
}

func compile(t *testing.T, src string, lang compiler.Language) bytecode.Program {
	t.Helper()
	prog, err := compiler.Compile(src, lang)
	if err != nil {
		t.Fatalf("compile %v: %v", lang, err)
	}
	return prog
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

func TestLanguagesAgree(t *testing.T) {
	for lang, src := range multiply {
		prog := compile(t, src, lang)
		for _, tc := range [][3]int64{{0, 7, 0}, {3, 0, 0}, {1, 1, 1}, {6, 7, 42}} {
			regs := vm.NewRegisters()
			regs.Load([]vm.Cell{{Index: 1, Value: tc[0]}, {Index: 2, Value: tc[1]}})

			res := vm.Exec(context.Background(), prog, regs)
			if res.Outcome != vm.Completed {
				t.Fatalf("%v %d*%d: %v", lang, tc[0], tc[1], res)
			}
			if got := regs.Get(3); got != tc[2] {
				t.Errorf("%v %d*%d: x3 = %d, want %d", lang, tc[0], tc[1], got, tc[2])
			}
		}
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	for lang, src := range multiply {
		a := compile(t, src, lang)
		b := compile(t, src, lang)
		if !a.Equal(b) {
			t.Errorf("%v: two compilations differ", lang)
		}
		if bytecode.Disassemble(a) != bytecode.Disassemble(b) {
			t.Errorf("%v: listings differ", lang)
		}
	}
}

func TestDisassembleIsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	opcodes := bytecode.AllOpcodes()

	for i := 0; i < 200; i++ {
		prog := make(bytecode.Program, rng.Intn(24))
		for j := range prog {
			if rng.Intn(2) == 0 {
				prog[j] = bytecode.Word(opcodes[rng.Intn(len(opcodes))])
			} else {
				prog[j] = bytecode.Word(rng.Uint32())
			}
		}
		listing := bytecode.Disassemble(prog)
		if !strings.HasPrefix(listing, "Code:") {
			t.Fatalf("listing of %v lacks header: %q", prog, listing)
		}

		// Running arbitrary words ends in some outcome, never a panic.
		regs := vm.NewRegisters()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		vm.Exec(ctx, prog, regs)
		cancel()
	}
}

func TestSessionKeepsRegistersAcrossRuns(t *testing.T) {
	session := vm.NewSession()
	session.Registers().Set(1, 4)

	inc := compile(t, "x1 := x1 + 1", compiler.LangLoop)
	for range 3 {
		if res := session.Run(context.Background(), inc).Wait(); res.Outcome != vm.Completed {
			t.Fatalf("run: %v", res)
		}
	}
	if got := session.Registers().Get(1); got != 7 {
		t.Errorf("x1 = %d, want 7", got)
	}
}

// ---------------------------------------------------------------------------
// Configured server and client
// ---------------------------------------------------------------------------

func TestConfiguredServerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	config := `
[machine]
language = "WHILE"

[history]
path = "runs.db"
limit = 2
`
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(dir, "programs", "while")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := manifest.FindOrDefault(nested)
	if err != nil {
		t.Fatalf("FindOrDefault: %v", err)
	}
	if cfg.Language() != compiler.LangWhile {
		t.Fatalf("language = %v, want WHILE", cfg.Language())
	}

	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	srv := server.New(
		server.WithLanguage(cfg.Language()),
		server.WithJournal(journal),
		server.WithHistoryLimit(cfg.History.Limit),
	)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	c := client.New("http://" + ln.Addr().String())
	ctx := context.Background()

	// No language in the request: the configured WHILE applies.
	for _, n := range []int64{3, 4, 5} {
		resp, err := c.Run(ctx, &api.RunRequest{
			Source:    multiply[compiler.LangWhile],
			Registers: []vm.Cell{{Index: 1, Value: n}, {Index: 2, Value: n}},
			Wait:      true,
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if resp.Diagnostic != nil {
			t.Fatalf("diagnostic: %+v", resp.Diagnostic)
		}
		regs, err := c.Registers(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if got := cellValue(regs, 3); got != n*n {
			t.Errorf("x3 = %d, want %d", got, n*n)
		}
	}

	// The journal keeps the two newest runs.
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := c.History(ctx, "", 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(entries) == 2 && cellValue(entries[0].Registers, 3) == 25 {
			if got := cellValue(entries[1].Registers, 3); got != 16 {
				t.Errorf("second entry x3 = %d, want 16", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal = %+v, want the two newest runs", entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func cellValue(cells []vm.Cell, index uint32) int64 {
	for _, c := range cells {
		if c.Index == index {
			return c.Value
		}
	}
	return 0
}
