// theia CLI - compiles and runs LOOP, WHILE and GOTO programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/manifest"
	"github.com/maxstrauch/theia/server"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitFault      = 2
	exitTerminated = 130
)

func main() {
	langFlag := flag.String("lang", "", "Language: loop, while or goto (default: from the file extension, then theia.toml)")
	setFlag := flag.String("set", "", "Initial registers, e.g. x1=5,x2=3")
	disasm := flag.Bool("disasm", false, "Print the decompiled bytecode instead of running")
	trace := flag.Bool("trace", false, "Trace every executed instruction (implies -v)")
	serveMode := flag.Bool("serve", false, "Start the RPC server (Connect, gRPC and gRPC-Web)")
	addr := flag.String("addr", "", "Server listen address (default: theia.toml, then :4567)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	remote := flag.String("remote", "", "Run through the server at this URL instead of in-process")
	historyN := flag.Int("history", 0, "Print the last N journaled runs")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: theia [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles and runs a LOOP, WHILE or GOTO program.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  theia -set x1=5 fact.loop          # Run, print registers\n")
		fmt.Fprintf(os.Stderr, "  theia -disasm count.while          # Show the bytecode\n")
		fmt.Fprintf(os.Stderr, "  theia -lang goto prog.txt          # Override the language\n")
		fmt.Fprintf(os.Stderr, "  theia -history 10                  # Show recent runs\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  theia -serve -addr :8080           # RPC server\n")
		fmt.Fprintf(os.Stderr, "  theia -remote http://localhost:4567 fact.loop\n")
		fmt.Fprintf(os.Stderr, "  theia -lsp                         # Language server for editors\n")
	}
	flag.Parse()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	cfg, err := manifest.FindOrDefault(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	if *trace {
		cfg.Machine.Trace = true
	}

	verbosity := cfg.Log.Verbosity
	if (*verbose || cfg.Machine.Trace) && verbosity < 4 {
		verbosity = 4
	}
	commonlog.Configure(verbosity, cfg.LogFile())

	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	switch {
	case *lspMode:
		lsp := server.NewLSP(cfg.Language())
		if err := lsp.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(exitError)
		}
		os.Exit(exitOK)

	case *serveMode:
		if err := serve(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(exitError)
		}
		os.Exit(exitOK)

	case *historyN > 0:
		if err := printHistory(os.Stdout, cfg, *remote, *historyN); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitError)
		}
		os.Exit(exitOK)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitError)
	}
	path := flag.Arg(0)

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	lang, err := resolveLanguage(*langFlag, path, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	regs, err := parseAssignments(*setFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}

	j := &job{
		path:   path,
		source: string(source),
		lang:   lang,
		regs:   regs,
		trace:  cfg.Machine.Trace,
		cfg:    cfg,
	}

	var code int
	switch {
	case *disasm:
		code = j.disassemble(os.Stdout, *remote)
	case *remote != "":
		code = j.runRemote(os.Stdout, *remote)
	default:
		code = j.runLocal(os.Stdout)
	}
	os.Exit(code)
}

// resolveLanguage picks the language from the flag, then the file
// extension, then the configuration.
func resolveLanguage(flagValue, path string, cfg *manifest.Manifest) (compiler.Language, error) {
	if flagValue != "" {
		return compiler.ParseLanguage(flagValue)
	}
	if lang, ok := compiler.LanguageForPath(path); ok {
		return lang, nil
	}
	return cfg.Language(), nil
}
