// Package command runs a shell command and reads its standard output.
//
//	logparsely --cmd 'kubectl logs -f deploy/api'
//
// The command runs under sh -c in its own process group. The group is killed
// when the Open context ends or when the reader is closed before the output
// is exhausted.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultWaitDelay bounds how long Close waits for the output pipe after the
// child has exited or been killed.
const DefaultWaitDelay = 2 * time.Second

// Options tune a Command.
type Options struct {
	Shell     string    // default "sh"
	Stderr    io.Writer // child's stderr; default os.Stderr
	Dir       string
	Env       []string // appended to the current environment
	WaitDelay time.Duration
}

// Command is a line source backed by a child process.
type Command struct {
	line string
	opt  Options
}

// New returns a source that runs line with opt.Shell -c.
func New(line string, opt Options) *Command {
	if opt.Shell == "" {
		opt.Shell = "sh"
	}
	if opt.Stderr == nil {
		opt.Stderr = os.Stderr
	}
	if opt.WaitDelay <= 0 {
		opt.WaitDelay = DefaultWaitDelay
	}
	return &Command{line: line, opt: opt}
}

// Open starts the child and returns its stdout. Close reports a non-zero
// exit as an error unless Close itself had to kill the child.
func (c *Command) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.opt.Shell, "-c", c.line)
	cmd.Stderr = c.opt.Stderr
	cmd.Dir = c.opt.Dir
	if len(c.opt.Env) > 0 {
		cmd.Env = append(os.Environ(), c.opt.Env...)
	}
	cmd.WaitDelay = c.opt.WaitDelay
	// Kill the whole process group: sh -c may fork, and an orphaned
	// grandchild would keep the pipe open.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("command: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command: start %q: %w", c.line, err)
	}
	return &proc{cmd: cmd, out: out, ctx: ctx}, nil
}

func (c *Command) String() string { return "command:" + c.line }

type proc struct {
	cmd *exec.Cmd
	out io.ReadCloser
	ctx context.Context

	mu  sync.Mutex
	eof bool

	once sync.Once
	err  error
}

func (p *proc) Read(b []byte) (int, error) {
	n, err := p.out.Read(b)
	if errors.Is(err, io.EOF) {
		p.mu.Lock()
		p.eof = true
		p.mu.Unlock()
	}
	return n, err
}

func (p *proc) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		killed := !p.eof
		p.mu.Unlock()
		if killed {
			_ = killProcessGroup(p.cmd)
		}
		err := p.cmd.Wait()
		switch {
		case err == nil, killed, p.ctx.Err() != nil:
		default:
			p.err = fmt.Errorf("command: %w", err)
		}
	})
	return p.err
}
