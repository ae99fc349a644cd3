package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/maxstrauch/theia/client"
	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/history"
	"github.com/maxstrauch/theia/manifest"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/bytecode"
	"github.com/maxstrauch/theia/server"
	"github.com/maxstrauch/theia/vm"
)

// localSession names in-process runs in the journal.
const localSession = "local"

// job is one program given on the command line.
type job struct {
	path   string
	source string
	lang   compiler.Language
	regs   []vm.Cell
	trace  bool
	cfg    *manifest.Manifest
}

func (j *job) languageName() string {
	return strings.ToLower(j.lang.String())
}

// reportCompileError prints a compile error prefixed with the file name.
func (j *job) reportCompileError(err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", j.path, err)
	return exitError
}

func (j *job) disassemble(w io.Writer, remote string) int {
	if remote == "" {
		prog, err := compiler.Compile(j.source, j.lang)
		if err != nil {
			return j.reportCompileError(err)
		}
		fmt.Fprint(w, bytecode.Disassemble(prog))
		return exitOK
	}

	c := client.New(remote)
	resp, err := c.Disassemble(context.Background(), &api.DisassembleRequest{Source: j.source, Language: j.languageName()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if resp.Diagnostic != nil {
		return j.reportCompileError(diagnosticError(resp.Diagnostic))
	}
	fmt.Fprint(w, resp.Listing)
	return exitOK
}

// runLocal compiles and runs the program in-process. An interrupt stops
// the machine.
func (j *job) runLocal(w io.Writer) int {
	prog, err := compiler.Compile(j.source, j.lang)
	if err != nil {
		return j.reportCompileError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	regs := vm.NewRegisters()
	regs.Load(j.regs)
	res := vm.Start(ctx, prog, regs, vm.WithTrace(j.trace)).Wait()

	cells := regs.Snapshot()
	printRegisters(w, cells)
	status := api.RunStatus{
		Outcome:   res.Outcome.String(),
		Steps:     res.Steps,
		ElapsedNs: int64(res.Elapsed),
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	printOutcome(w, status)

	j.record(res, cells)
	return exitCode(status.Outcome)
}

// record journals a local run when history is enabled.
func (j *job) record(res vm.Result, cells []vm.Cell) {
	if !j.cfg.History.Enabled {
		return
	}
	journal, err := history.Open(j.cfg.HistoryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	defer journal.Close()

	ctx := context.Background()
	if _, err := journal.Record(ctx, history.NewEntry(localSession, j.languageName(), j.source, res, cells)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	if _, err := journal.Prune(ctx, j.cfg.History.Limit); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// runRemote runs the program on a server. An interrupt stops the remote run.
func (j *job) runRemote(w io.Writer, remote string) int {
	c := client.New(remote)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp, err := c.Run(ctx, &api.RunRequest{
		Source:    j.source,
		Language:  j.languageName(),
		Registers: j.regs,
		Trace:     j.trace,
		Wait:      true,
	})

	var status api.RunStatus
	switch {
	case err != nil && ctx.Err() != nil:
		stopped, stopErr := c.Stop(context.Background(), "")
		if stopErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", stopErr)
			return exitError
		}
		status = stopped.Status
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	case resp.Diagnostic != nil:
		return j.reportCompileError(diagnosticError(resp.Diagnostic))
	default:
		status = resp.Status
	}

	printRegisters(w, status.Registers)
	printOutcome(w, status)
	return exitCode(status.Outcome)
}

// serve runs the RPC server until interrupted.
func serve(cfg *manifest.Manifest) error {
	opts := []server.Option{
		server.WithLanguage(cfg.Language()),
		server.WithTrace(cfg.Machine.Trace),
	}
	if cfg.History.Enabled {
		journal, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, server.WithJournal(journal), server.WithHistoryLimit(cfg.History.Limit))
	}
	srv := server.New(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(cfg.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// printHistory prints recent runs from the local journal or a server.
func printHistory(w io.Writer, cfg *manifest.Manifest, remote string, n int) error {
	var entries []api.HistoryEntry
	if remote != "" {
		var err error
		entries, err = client.New(remote).History(context.Background(), "", n)
		if err != nil {
			if client.CodeOf(err) == connect.CodeFailedPrecondition {
				return errors.New("the server keeps no history")
			}
			return err
		}
	} else {
		journal, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return err
		}
		defer journal.Close()

		recent, err := journal.Recent(context.Background(), history.Query{Limit: n})
		if err != nil {
			return err
		}
		for _, e := range recent {
			entries = append(entries, api.HistoryEntry{
				ID:          e.ID,
				SessionID:   e.Session,
				Language:    e.Language,
				Outcome:     e.Outcome.String(),
				Error:       e.Error,
				Steps:       e.Steps,
				ElapsedNs:   int64(e.Elapsed),
				StartedAtNs: e.StartedAt.UnixNano(),
				Source:      e.Source,
			})
		}
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, e := range entries {
		started := time.Unix(0, e.StartedAtNs)
		fmt.Fprintf(w, "%-8s %-6s %-10s %12s steps  %-10s %s\n",
			shortID(e.ID), e.Language, e.Outcome, humanize.Comma(int64(e.Steps)),
			time.Duration(e.ElapsedNs).Round(time.Microsecond), humanize.Time(started))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printRegisters prints the register table in ascending index order.
func printRegisters(w io.Writer, cells []vm.Cell) {
	if len(cells) == 0 {
		fmt.Fprintln(w, "(no registers)")
		return
	}
	width := 0
	for _, c := range cells {
		if n := len(fmt.Sprintf("x%d", c.Index)); n > width {
			width = n
		}
	}
	for _, c := range cells {
		fmt.Fprintf(w, "%-*s = %s\n", width, fmt.Sprintf("x%d", c.Index), humanize.Comma(c.Value))
	}
}

// printOutcome prints how the run ended and how long it took.
func printOutcome(w io.Writer, status api.RunStatus) {
	elapsed := time.Duration(status.ElapsedNs).Round(time.Microsecond)
	steps := humanize.Comma(int64(status.Steps))

	switch status.Outcome {
	case vm.Completed.String():
		fmt.Fprintf(w, "Program finished after %s (%s steps)\n", elapsed, steps)
	case vm.Terminated.String():
		fmt.Fprintf(w, "Program terminated after %s (%s steps)\n", elapsed, steps)
	default:
		fmt.Fprintf(w, "Program failed after %s (%s steps): %s\n", elapsed, steps, status.Error)
	}
}

func exitCode(outcome string) int {
	switch outcome {
	case vm.Completed.String():
		return exitOK
	case vm.Terminated.String():
		return exitTerminated
	}
	return exitFault
}

// diagnosticError renders a remote compile error like a local one.
func diagnosticError(d *api.Diagnostic) error {
	if d.Line > 0 {
		return fmt.Errorf("line %d:%d: %s", d.Line, d.Column, d.Message)
	}
	return errors.New(d.Message)
}
