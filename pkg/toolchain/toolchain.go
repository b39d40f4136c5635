// Package toolchain drives the external assembler and linker that turn
// generated NASM source into a Linux executable.
package toolchain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/edwingeng/deque"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/tevino/abool/v2"
)

var (
	ErrInterrupted = errors.New("interrupted by user")
	ErrNotFound    = errors.New("tool not found in PATH")
)

// Tools names the programs used for each step.
type Tools struct {
	NASM string
	LD   string
}

// DefaultTools resolves nasm and ld through PATH.
var DefaultTools = Tools{NASM: "nasm", LD: "ld"}

// Available reports the first tool that cannot be found.
func (t Tools) Available() error {
	for _, name := range []string{t.NASM, t.LD} {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
	}
	return nil
}

// Assemble returns the step that assembles src into the ELF64 object obj.
func (t Tools) Assemble(src, obj string) Step {
	return Step{Name: "assemble", Path: t.NASM, Args: []string{"-felf64", "-o", obj, src}}
}

// Link returns the step that links obj into the executable exe.
func (t Tools) Link(obj, exe string) Step {
	return Step{Name: "link", Path: t.LD, Args: []string{"-o", exe, obj}}
}

// Step is one subprocess invocation.
type Step struct {
	Name string
	Path string
	Args []string
}

func (s Step) String() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// StepError reports a step whose process exited unsuccessfully.
type StepError struct {
	Step     Step
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed with exit status %d: %s", e.Step.Name, e.ExitCode, e.Step)
}

// Runner executes queued steps in FIFO order and stops at the first failure.
// Interrupt may be called from another goroutine, e.g. a signal handler.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	// Echo, if set, is called with each step right before it starts.
	Echo func(Step)

	queue       deque.Deque
	hash        uint64
	interrupted *abool.AtomicBool

	mu      sync.Mutex
	current *exec.Cmd
}

func NewRunner() *Runner {
	return &Runner{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		queue:       deque.NewDeque(),
		hash:        fnv1a.Init64,
		interrupted: abool.NewBool(false),
	}
}

// Add appends a step to the queue.
func (r *Runner) Add(s Step) {
	r.queue.PushBack(s)
	r.hash = fnv1a.AddString64(r.hash, s.String())
	r.hash = fnv1a.AddString64(r.hash, "\n")
}

// Pending returns the number of steps not yet started.
func (r *Runner) Pending() int {
	return r.queue.Len()
}

// CommandHash digests every command line added so far, in order.
func (r *Runner) CommandHash() string {
	return fmt.Sprintf("%016x", r.hash)
}

// Interrupt stops the runner: the running process receives SIGINT and no
// further step starts.
func (r *Runner) Interrupt() {
	r.interrupted.Set()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.Process != nil {
		_ = r.current.Process.Signal(os.Interrupt)
	}
}

// Run executes the queued steps.
func (r *Runner) Run() error {
	for !r.queue.Empty() {
		if r.interrupted.IsSet() {
			return ErrInterrupted
		}
		s := r.queue.PopFront().(Step)
		if r.Echo != nil {
			r.Echo(s)
		}
		if err := r.run(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) run(s Step) error {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	r.mu.Lock()
	r.current = cmd
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if r.interrupted.IsSet() {
		return ErrInterrupted
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %s: %w", s.Name, s.Path, ErrNotFound)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &StepError{Step: s, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("%s: %w", s.Name, err)
}
