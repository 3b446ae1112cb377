// Package shell is the interactive Data Forge prompt. Each line is split like
// a shell command line and run through a fresh cobra command tree; data
// commands are executed by a Dispatcher that owns the backend.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/render"
)

const (
	Banner        = "Welcome to Data Forge, your data exploration companion"
	DefaultPrompt = "dataforge> "
)

// ErrExit is returned by Exec for exit and quit.
var ErrExit = errors.New("exit")

// Options configures a Shell.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Format render.Format
	// Prompt is printed before each line; empty selects DefaultPrompt.
	Prompt string
	// Quiet suppresses the prompt, e.g. when input is piped.
	Quiet bool
}

// Shell reads command lines and prints their results.
type Shell struct {
	in     io.Reader
	out    io.Writer
	format render.Format
	prompt string
	disp   *Dispatcher
}

// New returns a shell over b. Close releases the dispatcher, not b.
func New(b *backend.Backend, opts Options) *Shell {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Quiet {
		opts.Prompt = ""
	}
	if opts.Format == "" {
		opts.Format = render.Table
	}
	return &Shell{
		in:     opts.In,
		out:    opts.Out,
		format: opts.Format,
		prompt: opts.Prompt,
		disp:   NewDispatcher(b),
	}
}

// Close stops the dispatcher.
func (s *Shell) Close() { s.disp.Close() }

// Run prints the banner and processes lines until EOF, exit or ctx is done.
// Command errors are printed as "Err: ..." and do not end the loop.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, Banner)
	sc := bufio.NewScanner(s.in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, s.prompt)
		if !sc.Scan() {
			if s.prompt != "" {
				fmt.Fprintln(s.out)
			}
			return sc.Err()
		}
		out, err := s.Exec(ctx, sc.Text())
		if errors.Is(err, ErrExit) {
			return nil
		}
		if out != "" {
			fmt.Fprint(s.out, out)
		}
		if err != nil {
			fmt.Fprintf(s.out, "Err: %v\n", err)
		}
	}
}

// Exec runs one command line and returns what it printed.
func (s *Shell) Exec(ctx context.Context, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", nil
	}
	args, err := splitArgs(line)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(args[0]) {
	case "exit", "quit", `\q`:
		return "", ErrExit
	}

	var buf bytes.Buffer
	root := s.newCommandTree(ctx)
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetIn(strings.NewReader(""))
	err = root.ExecuteContext(ctx)
	return buf.String(), err
}
