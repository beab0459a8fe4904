package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/pcode/cache"
	"github.com/chazu/pcode/compiler"
	"github.com/chazu/pcode/server"
	"github.com/chazu/pcode/vm"
	"github.com/chazu/pcode/vm/image"
)

const (
	textExt  = ".pcode"
	imageExt = ".pcbc"

	readPrompt = "Input: "
)

// compile writes the text or binary form of a source file.
func (c *cli) compile(args []string) error {
	fs := c.newFlagSet("compile")
	out := fs.String("o", "", "Output file (- for stdout; default derived from the input)")
	asImage := fs.Bool("image", false, "Write the binary image instead of the text form")
	if err := c.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("compile: expected one source file")
	}
	path := fs.Arg(0)

	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, err := compiler.Compile(string(source))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var data []byte
	ext := textExt
	if *asImage {
		ext = imageExt
		if data, err = image.Marshal(p, image.HashSource(source)); err != nil {
			return err
		}
	} else {
		data = []byte(p.String())
	}

	target := *out
	if target == "" {
		target = strings.TrimSuffix(path, filepath.Ext(path)) + ext
	}
	if target == "-" {
		_, err = c.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d instructions)", target, p.Len())
	return nil
}

// runOptions are the machine flags of the run command. The long names
// match the historical P-code machine.
type runOptions struct {
	input    string
	debug    bool
	waitTime int
	memSize  int
	noCache  bool
}

func (o *runOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.input, "i", "", "Read input from this file instead of stdin")
	fs.StringVar(&o.input, "Input", "", "Same as -i")
	fs.BoolVar(&o.debug, "d", false, "Trace every instruction at debug level")
	fs.BoolVar(&o.debug, "Debug", false, "Same as -d")
	fs.IntVar(&o.waitTime, "w", -1, "Milliseconds to wait before each instruction")
	fs.IntVar(&o.waitTime, "WaitTime", -1, "Same as -w")
	fs.IntVar(&o.memSize, "m", -1, "Number of memory cells")
	fs.IntVar(&o.memSize, "MemSize", -1, "Same as -m")
	fs.BoolVar(&o.noCache, "no-cache", false, "Do not use the compile cache")
}

// machineConfig lays the flags over the manifest's machine settings.
func (c *cli) machineConfig(o *runOptions) (vm.Config, error) {
	cfg := c.manifest.MachineConfig()
	if o.debug {
		cfg.Trace = true
	}
	if o.waitTime >= 0 {
		cfg.StepDelay = time.Duration(o.waitTime) * time.Millisecond
	}
	if o.memSize >= 0 {
		cfg.MemoryCapacity = o.memSize
	}
	if cfg.Trace {
		// tracing is debug-level logging, so make sure it is visible
		ensureDebugLogging()
	}
	return cfg, cfg.Validate()
}

// ensureDebugLogging raises the machine logger to debug level so trace
// lines are written.
func ensureDebugLogging() {
	if !commonlog.AllowLevel(commonlog.Debug, "pcode", "vm") {
		commonlog.SetMaxLevel(commonlog.Debug, "pcode", "vm")
	}
}

// run loads a program in any of its three forms and executes it.
func (c *cli) run(args []string) error {
	fs := c.newFlagSet("run")
	var opts runOptions
	opts.register(fs)
	if err := c.parseFlags(fs, args); err != nil {
		return err
	}

	path, err := c.entry(fs.Args())
	if err != nil {
		return err
	}
	cfg, err := c.machineConfig(&opts)
	if err != nil {
		return err
	}

	p, err := c.loadProgram(path, !opts.noCache && c.manifest.Cache.Enabled)
	if err != nil {
		return err
	}

	in, closeIn, err := c.input(opts.input)
	if err != nil {
		return err
	}
	defer closeIn()

	machineOpts := []vm.Option{vm.WithInput(in), vm.WithOutput(c.stdout)}
	if opts.input == "" && c.terminal {
		machineOpts = append(machineOpts, vm.WithPrompt(c.stdout, readPrompt))
	}

	m, err := vm.Load(p, cfg, machineOpts...)
	if err != nil {
		return err
	}
	if err := m.Run(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("run %s halted after %d steps", m.RunID(), m.Steps())
	return nil
}

// entry returns the file named on the command line or the manifest's
// entry file.
func (c *cli) entry(args []string) (string, error) {
	switch len(args) {
	case 0:
		if path := c.manifest.EntryPath(); path != "" {
			return path, nil
		}
		return "", usagef("no file given and no project entry configured")
	case 1:
		return args[0], nil
	default:
		return "", usagef("expected one file, got %d", len(args))
	}
}

// input opens the program input. The returned func closes it.
func (c *cli) input(path string) (io.Reader, func(), error) {
	if path == "" {
		return c.stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// loadProgram reads a program by file type: images and text forms are
// decoded directly, anything else is compiled as source.
func (c *cli) loadProgram(path string, useCache bool) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch {
	case filepath.Ext(path) == imageExt || image.IsImage(data):
		p, _, err := image.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	case filepath.Ext(path) == textExt:
		p, err := vm.ReadProgram(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}

	if !useCache {
		p, err := compiler.Compile(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}

	cc, err := cache.Open(c.manifest.CachePath())
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	p, hit, err := cc.Compile(string(data), compiler.Compile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("%s: cache hit %t", path, hit)
	return p, nil
}

// disasm prints the text form of a program, or a numbered listing.
func (c *cli) disasm(args []string) error {
	fs := c.newFlagSet("disasm")
	listing := fs.Bool("n", false, "Print a listing with instruction positions")
	if err := c.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("disasm: expected one file")
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var p *vm.Program
	if filepath.Ext(path) == imageExt || image.IsImage(data) {
		var hash image.SourceHash
		if p, hash, err = image.Unmarshal(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(c.stdout, "; source %s\n", hash)
	} else if p, err = c.loadProgram(path, false); err != nil {
		return err
	}

	text := p.String()
	if *listing {
		text = vm.Disassemble(p)
	}
	_, err = io.WriteString(c.stdout, text)
	return err
}

// eval interprets a source file directly with the tree-walking evaluator.
func (c *cli) eval(args []string) error {
	fs := c.newFlagSet("eval")
	input := fs.String("i", "", "Read input from this file instead of stdin")
	if err := c.parseFlags(fs, args); err != nil {
		return err
	}
	path, err := c.entry(fs.Args())
	if err != nil {
		return err
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	in, closeIn, err := c.input(*input)
	if err != nil {
		return err
	}
	defer closeIn()

	if err := compiler.Evaluate(string(source), in, c.stdout); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// lsp serves the language server protocol on stdio until the client
// disconnects.
func (c *cli) lsp(args []string) error {
	fs := c.newFlagSet("lsp")
	if err := c.parseFlags(fs, args); err != nil {
		return err
	}
	return server.NewLSP(c.manifest.MachineConfig()).Run()
}
