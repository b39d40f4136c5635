// Command ioc compiles an io source file to an x86-64 Linux executable by
// way of NASM assembly, nasm and ld.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/fatih/color"

	"ioc/pkg/arena"
	"ioc/pkg/buildlog"
	"ioc/pkg/compiler"
	"ioc/pkg/cpu"
	"ioc/pkg/toolchain"
	"ioc/pkg/utils"
)

const usage = "usage: ioc [-S] [-r] [-B] [-v] [-o out] [-m bytes] [-l logfile] <input.io>"

// simStepLimit bounds a simulated run; every io program is straight-line code.
const simStepLimit = 1 << 20

// exitInterrupted is returned when the user stops the toolchain.
const exitInterrupted = 2

type options struct {
	input    string
	output   string
	asmOnly  bool
	simulate bool
	force    bool
	verbose  bool
	arenaCap int
	logPath  string
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	cmdColor  = color.New(color.FgCyan)
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// parseArgs reads the command line; argv[0] is the program name.
func parseArgs(argv []string) (options, error) {
	opt := options{
		output:   "out",
		arenaCap: arena.DefaultCapacity,
		logPath:  buildlog.DefaultPath,
	}

	opts, optind, err := getopt.Getopts(argv, "SrBvo:m:l:")
	if err != nil {
		return opt, err
	}
	for _, optV := range opts {
		switch optV.Option {
		case 'S':
			opt.asmOnly = true
		case 'r':
			opt.simulate = true
		case 'B':
			opt.force = true
		case 'v':
			opt.verbose = true
		case 'o':
			opt.output = optV.Value
		case 'm':
			n, err := strconv.Atoi(optV.Value)
			if err != nil || n <= 0 {
				return opt, fmt.Errorf("invalid -m value %q", optV.Value)
			}
			opt.arenaCap = n
		case 'l':
			opt.logPath = optV.Value
		}
	}

	rest := argv[optind:]
	if len(rest) != 1 {
		return opt, errors.New("expected exactly one input file")
	}
	if opt.asmOnly && opt.simulate {
		return opt, errors.New("-S and -r cannot be combined")
	}
	opt.input = rest[0]
	return opt, nil
}

func report(w io.Writer, err error) {
	errColor.Fprint(w, "error: ")
	fmt.Fprintln(w, err)
}

func run(argv []string, stdout, stderr io.Writer) int {
	opt, err := parseArgs(argv)
	if err != nil {
		report(stderr, err)
		fmt.Fprintln(stderr, usage)
		return 1
	}

	src, err := os.ReadFile(opt.input)
	if err != nil {
		report(stderr, err)
		return 1
	}

	res, err := compiler.Compile(string(src), compiler.Options{ArenaCapacity: opt.arenaCap})
	if err != nil {
		report(stderr, fmt.Errorf("%s: %w", opt.input, err))
		return 1
	}

	if opt.simulate {
		return simulate(opt, res, stderr)
	}

	out, err := utils.OutputPaths(opt.output)
	if err != nil {
		report(stderr, err)
		return 1
	}
	if err := utils.WriteFileAtomic(out.Asm, []byte(res.Assembly), 0o644); err != nil {
		report(stderr, err)
		return 1
	}
	if opt.verbose {
		fmt.Fprintf(stderr, "wrote %s (%d nodes, %d arena bytes)\n", out.Asm, res.Nodes, res.ArenaUse)
	}
	if opt.asmOnly {
		return 0
	}

	return build(opt, out, res.Assembly, stdout, stderr)
}

func simulate(opt options, res *compiler.Result, stderr io.Writer) int {
	c := cpu.NewCPU(cpu.DefaultStackSize)
	if opt.verbose {
		c.Trace = stderr
	}
	if err := c.Load(res.Program); err != nil {
		report(stderr, err)
		return 1
	}
	status, err := c.Run(simStepLimit)
	if err != nil {
		report(stderr, err)
		return 1
	}
	if opt.verbose {
		fmt.Fprintf(stderr, "exit status %d after %d steps\n", status, c.Steps)
	}
	return status
}

// build assembles and links out.Asm unless the build log shows the executable
// is already current.
func build(opt options, out utils.Outputs, assembly string, stdout, stderr io.Writer) int {
	tools := toolchain.DefaultTools
	runner := toolchain.NewRunner()
	runner.Stdout, runner.Stderr = stdout, stderr
	if opt.verbose {
		runner.Echo = func(s toolchain.Step) { cmdColor.Fprintln(stderr, s) }
	}
	runner.Add(tools.Assemble(out.Asm, out.Obj))
	runner.Add(tools.Link(out.Obj, out.Exe))

	asmHash := buildlog.HashAssembly(assembly)

	var blog *buildlog.Log
	if !opt.force && opt.logPath != "" {
		l, err := buildlog.Open(opt.logPath)
		if err != nil {
			warnColor.Fprintf(stderr, "warning: %v; building without a log\n", err)
		} else {
			blog = l
			defer blog.Close()
		}
	}

	if blog != nil {
		upToDate, err := blog.UpToDate(out.Exe, runner.CommandHash(), asmHash)
		if err != nil {
			warnColor.Fprintf(stderr, "warning: reading build log: %v\n", err)
		}
		if upToDate {
			if opt.verbose {
				fmt.Fprintf(stderr, "%s is up to date\n", out.Exe)
			}
			return 0
		}
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sigch)
		close(done)
	}()
	go func() {
		select {
		case <-sigch:
			runner.Interrupt()
		case <-done:
		}
	}()

	if err := runner.Run(); err != nil {
		report(stderr, err)
		if blog != nil {
			_ = blog.Forget(out.Exe)
		}
		if errors.Is(err, toolchain.ErrInterrupted) {
			return exitInterrupted
		}
		return 1
	}

	if blog != nil {
		entry := buildlog.Entry{Output: out.Exe, CommandHash: runner.CommandHash(), AsmHash: asmHash}
		if err := blog.Record(entry); err != nil {
			warnColor.Fprintf(stderr, "warning: writing build log: %v\n", err)
		}
	}
	return 0
}
