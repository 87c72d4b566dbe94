// Package shell reads lifecycle commands line by line and hands them to an
// executor.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/ironsheep/image-lifecycle/internal/logging"
)

// Prompt is shown before each command when the input is a terminal.
const Prompt = "Enter Command: "

// Executor runs commands. *command.Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, line string) (bool, error)
	Shutdown(ctx context.Context) error
}

// Publisher receives the prompt. *bus.Bus satisfies it.
type Publisher interface {
	Publish(msg string) error
}

// Options configures a Shell.
type Options struct {
	// Async runs every command except exit on its own goroutine so a long
	// process or delete does not hold up the next line.
	Async bool
	// Interactive enables the prompt. See IsTerminal.
	Interactive bool
	// ShutdownTimeout bounds the wait for running tasks after exit.
	ShutdownTimeout time.Duration
	Prompt          Publisher
	Logger          *logging.Logger
}

// Shell is the command loop.
type Shell struct {
	exec Executor
	in   io.Reader
	opts Options
	log  *logging.Logger

	inflight sync.WaitGroup
}

// New creates a shell reading from in.
func New(exec Executor, in io.Reader, opts Options) *Shell {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Minute
	}
	return &Shell{exec: exec, in: in, opts: opts, log: log}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Run reads commands until exit, end of input or ctx ends. It then waits for
// commands still running and for every task to reach a terminal status.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lines := make(chan string)
	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.loop(ctx, lines)
	close(stop)

	var scanErr error
	select {
	case err := <-readErr:
		if err != nil {
			scanErr = fmt.Errorf("scanner error: %w", err)
		}
	default:
	}

	s.inflight.Wait()

	// Tasks get their own deadline even if ctx has already ended.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	return errors.Join(scanErr, s.exec.Shutdown(shutdownCtx))
}

func (s *Shell) loop(ctx context.Context, lines <-chan string) {
	for {
		s.prompt()

		var line string
		select {
		case <-ctx.Done():
			s.log.Info("interrupted, shutting down")
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if s.opts.Async && !isExit(line) {
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				_, _ = s.exec.Execute(ctx, line)
			}()
			continue
		}

		exit, err := s.exec.Execute(ctx, line)
		if err != nil {
			s.log.Debug("command returned error", zap.String("line", line), zap.Error(err))
		}
		if exit {
			return
		}
	}
}

func (s *Shell) prompt() {
	if !s.opts.Interactive || s.opts.Prompt == nil {
		return
	}
	_ = s.opts.Prompt.Publish(Prompt)
}

func isExit(line string) bool {
	name, _, _ := strings.Cut(line, " ")
	return name == "exit"
}
