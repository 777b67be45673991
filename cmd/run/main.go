package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/wasm-ffi/config"
	"github.com/wippyai/wasm-ffi/guest"
	"github.com/wippyai/wasm-ffi/runtime"
)

// demoConfig declares the built-in pair fixture when no configuration is
// given.
const demoConfig = `
[[types]]
name = "Pair"
kind = "struct"
fields = [{ name = "a", type = "int32" }, { name = "b", type = "int32" }]

[[functions]]
decl = "int32 sum_pair(Pair* self)"
[[functions]]
decl = "Pair* init_pair(Pair* self, int32 a, int32 b)"
[[functions]]
decl = "Pair* make_pair(int32 a, int32 b)"
[[functions]]
decl = "int32 pair_a(Pair* p)"
[[functions]]
decl = "int32 pair_b(Pair* p)"
[[functions]]
decl = "int32 strlen(char* s)"
[[functions]]
decl = "char* greeting()"
[[functions]]
decl = "int32 free_count()"
`

type options struct {
	wasmFile string
	cfgFile  string
	decls    string
	funcName string
	args     string
	list     bool
}

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to a wasm module (default: built-in pair fixture)")
		cfgFile     = flag.String("config", "", "Path to a TOML configuration")
		decls       = flag.String("bind", "", "Extra declarations to bind, separated by ';'")
		funcName    = flag.String("func", "", "Bound function to call")
		args        = flag.String("args", "", "Comma-separated arguments (#N for the N-th allocated object)")
		list        = flag.Bool("list", false, "List exports and bound functions and exit")
		interactive = flag.Bool("i", false, "Interactive inspector")
	)
	flag.Parse()

	opts := options{
		wasmFile: *wasmFile,
		cfgFile:  *cfgFile,
		decls:    *decls,
		funcName: *funcName,
		args:     *args,
		list:     *list,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Interactive mode needs a terminal; listing instead.")
			opts.list = true
		} else {
			if err := runInteractive(opts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is a loaded library with its runtime.
type session struct {
	rt   *runtime.Runtime
	lib  *runtime.Library
	name string
}

func (s *session) Close(ctx context.Context) error {
	return s.rt.Close(ctx)
}

func open(ctx context.Context, opts options) (*session, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.cfgFile != "":
		cfg, err = config.Load(opts.cfgFile)
	case opts.wasmFile == "":
		cfg, err = config.Parse([]byte(demoConfig))
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	runtime.SetLogger(logger)

	name, wasm := "pair", guest.PairModule()
	if opts.wasmFile != "" {
		if wasm, err = os.ReadFile(opts.wasmFile); err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		name = strings.TrimSuffix(filepath.Base(opts.wasmFile), filepath.Ext(opts.wasmFile))
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	lib, err := rt.LoadLibrary(ctx, name, wasm)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("load library: %w", err)
	}

	for _, decl := range strings.Split(opts.decls, ";") {
		if strings.TrimSpace(decl) == "" {
			continue
		}
		if _, err := lib.Bind(decl); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("bind %q: %w", decl, err)
		}
	}
	return &session{rt: rt, lib: lib, name: name}, nil
}

func run(opts options) error {
	ctx := context.Background()

	s, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	base, size := s.lib.HostSpace()
	fmt.Printf("Library: %s\n", s.name)
	fmt.Printf("Allocator: %T\n", s.lib.Allocator())
	if size > 0 {
		fmt.Printf("Host space: %d bytes at 0x%08x\n", size, base)
	}

	fmt.Printf("\nExports:\n")
	for _, name := range s.lib.Exports() {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("\nBound functions:\n")
	for _, fn := range s.lib.Engine().Functions() {
		fmt.Printf("  %s\n", fn.Signature())
	}

	if opts.list || opts.funcName == "" {
		return nil
	}

	fn, ok := s.lib.Engine().Function(opts.funcName)
	if !ok {
		return fmt.Errorf("function %s is not bound; declare it with -bind or in the configuration", opts.funcName)
	}
	args, err := parseArgs(fn.Signature(), splitArgs(opts.args), nil)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s...\n", fn.Signature())
	result, err := fn.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", opts.funcName, err)
	}
	fmt.Printf("Result: %s\n", formatValue(result))
	return nil
}
