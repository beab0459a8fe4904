// pcode CLI - compiles and runs programs for the P-code stack machine
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/tliron/kutil/util"

	"github.com/chazu/pcode/manifest"
)

var log = commonlog.GetLogger("pcode.cli")

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError marks bad command lines; they exit with code 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// cli carries the process environment so commands can be run in tests.
type cli struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	terminal bool // stdin is interactive
	manifest *manifest.Manifest
}

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = notices, 1 = info, 2 = debug)")
	logFile := flag.String("log", "", "Write log output to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pcode [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  compile [-o out] [-image] file.lang   Write the text (.pcode) or binary (.pcbc) form\n")
		fmt.Fprintf(os.Stderr, "  run [flags] [file]                    Run a .lang, .pcode or .pcbc file\n")
		fmt.Fprintf(os.Stderr, "  disasm [-n] file                      Print the text form (or a numbered listing)\n")
		fmt.Fprintf(os.Stderr, "  eval [-i file] file.lang              Interpret source without compiling\n")
		fmt.Fprintf(os.Stderr, "  lsp                                   Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pcode run hello.lang              # compile (cached) and run\n")
		fmt.Fprintf(os.Stderr, "  pcode run -d -w 200 loop.lang     # trace each instruction, 200ms apart\n")
		fmt.Fprintf(os.Stderr, "  pcode compile -image hello.lang   # writes hello.pcbc\n")
	}
	flag.Parse()

	m, err := loadManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		util.Exit(exitError)
	}

	verbositySet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			verbositySet = true
		}
	})
	if !verbositySet {
		*verbosity = m.Log.Verbosity
	}
	configureLogging(m, *verbosity, *logFile)

	c := &cli{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		terminal: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		manifest: m,
	}

	err = c.dispatch(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	var usage *usageError
	if errors.As(err, &usage) {
		flag.Usage()
	}
	util.Exit(exitCode(err))
}

// loadManifest finds the project manifest above the working directory,
// falling back to the defaults.
func loadManifest() (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		d := manifest.Default()
		m = &d
		if m.Dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// configureLogging sets up the log backend. An empty logFile falls back
// to the manifest, then to stderr.
func configureLogging(m *manifest.Manifest, verbosity int, logFile string) {
	if logFile == "" {
		logFile = m.LogPath()
	}
	if logFile == "" {
		commonlog.Configure(verbosity, nil)
	} else {
		commonlog.Configure(verbosity, &logFile)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitError
}

// dispatch runs the command named by args[0].
func (c *cli) dispatch(args []string) error {
	if len(args) == 0 {
		return usagef("no command given")
	}
	cmd, rest := args[0], args[1:]
	log.Debugf("command %s %v", cmd, rest)

	switch cmd {
	case "compile":
		return c.compile(rest)
	case "run":
		return c.run(rest)
	case "disasm":
		return c.disasm(rest)
	case "eval":
		return c.eval(rest)
	case "lsp":
		return c.lsp(rest)
	default:
		return usagef("unknown command %q", cmd)
	}
}

// newFlagSet returns a flag set whose parse errors become usage errors.
func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}
