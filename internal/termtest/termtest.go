// Package termtest runs programs attached to a pseudo-terminal, so that
// line-editor behaviour can be exercised end to end.
package termtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/joeycumines/go-jsbridge/internal/testutil"
)

// Options configures a Console.
type Options struct {
	Name string
	Args []string
	// Env is appended to the current environment.
	Env []string
	Dir string
	// Timeout bounds each Expect call. Defaults to 30s.
	Timeout time.Duration
}

// Console is a process whose stdin, stdout and stderr are a terminal.
type Console struct {
	ptm     *os.File
	cmd     *exec.Cmd
	timeout time.Duration
	cancel  context.CancelFunc

	mu     sync.Mutex
	output strings.Builder

	exitCh  chan struct{}
	exitErr error
	closed  bool
}

// Start runs the program in an 80x24 terminal.
func Start(ctx context.Context, opts Options) (*Console, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLUMNS=80", "LINES=24")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Dir = opts.Dir

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("termtest: start %s: %w", opts.Name, err)
	}
	c := &Console{
		ptm:     ptm,
		cmd:     cmd,
		timeout: opts.Timeout,
		cancel:  cancel,
		exitCh:  make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	go c.readOutput()
	go func() {
		c.exitErr = cmd.Wait()
		close(c.exitCh)
	}()
	return c, nil
}

func (c *Console) readOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := c.ptm.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.output.Write(buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Type writes input a rune at a time, as a user would.
func (c *Console) Type(input string) error {
	for _, r := range input {
		if _, err := c.ptm.WriteString(string(r)); err != nil {
			return fmt.Errorf("termtest: write: %w", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// SendLine types input and presses enter.
func (c *Console) SendLine(input string) error {
	if err := c.Type(input); err != nil {
		return err
	}
	return c.SendKey("enter")
}

var keys = map[string]string{
	"enter":     "\n",
	"tab":       "\t",
	"backspace": "\x7f",
	"escape":    "\x1b",
	"ctrl-c":    "\x03",
	"ctrl-d":    "\x04",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
}

// SendKey sends a named key.
func (c *Console) SendKey(name string) error {
	seq, ok := keys[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("termtest: unknown key %q", name)
	}
	_, err := c.ptm.WriteString(seq)
	return err
}

// Output returns everything the program has written.
func (c *Console) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// OutputLen is an offset for ExpectSince, taken before sending input.
func (c *Console) OutputLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.Len()
}

// Expect waits for text anywhere in the output.
func (c *Console) Expect(text string) error { return c.ExpectSince(text, 0) }

// ExpectSince waits for text in the output written after offset start.
func (c *Console) ExpectSince(text string, start int) error {
	err := testutil.Poll(context.Background(), func() bool {
		out := c.Output()
		return start <= len(out) && strings.Contains(out[start:], text)
	}, c.timeout, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("termtest: %q not found: %w\noutput:\n%s", text, err, c.Output())
	}
	return nil
}

// ExpectExit waits for the program to exit and returns its exit code.
func (c *Console) ExpectExit() (int, error) {
	select {
	case <-c.exitCh:
	case <-time.After(c.timeout):
		return -1, fmt.Errorf("termtest: no exit after %v", c.timeout)
	}
	var exitErr *exec.ExitError
	switch {
	case c.exitErr == nil:
		return 0, nil
	case errors.As(c.exitErr, &exitErr):
		return exitErr.ExitCode(), nil
	}
	return -1, c.exitErr
}

// Close kills the program if it is still running and releases the
// terminal.
func (c *Console) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	<-c.exitCh
	return c.ptm.Close()
}
