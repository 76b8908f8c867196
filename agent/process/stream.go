package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Process is a running child whose stdout and stderr are exposed as line sequences.
// The caller should drain or close both sequences before calling Wait.
type Process struct {
	Stdout *Lines
	Stderr *Lines

	cmd *exec.Cmd
}

// Start spawns program with stdout and stderr each captured as a separate pipe.
// If the program cannot be spawned, the error is returned immediately.
func Start(program string, args []string) (*Process, error) {
	if program == "" {
		return nil, ErrEmptyProgram
	}
	cmd := exec.Command(program, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Process{
		Stdout: newLines(stdout),
		Stderr: newLines(stderr),
		cmd:    cmd,
	}, nil
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait waits for the process to exit and returns its exit code.
// A non-zero exit is not an error.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return -1, err
		}
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

// Kill kills the process without waiting for it.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// Lines is a lazy, single-pass sequence of text lines read from a pipe.
// Line terminators ("\n" or "\r\n") are stripped, and a final line without a terminator is still returned.
type Lines struct {
	r      *bufio.Reader
	closer io.Closer
	line   string
	err    error
	done   bool
}

func newLines(rc io.ReadCloser) *Lines {
	return &Lines{r: bufio.NewReader(rc), closer: rc}
}

// Next advances to the next line, returning false when the source is exhausted or fails.
func (l *Lines) Next() bool {
	if l.done {
		return false
	}
	s, err := l.r.ReadString('\n')
	if err != nil {
		l.done = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			l.err = err
		}
		if s == "" {
			return false
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	l.line = toText(s)
	return true
}

// Text returns the current line.
func (l *Lines) Text() string {
	return l.line
}

// Err returns the first non-EOF error encountered while reading.
func (l *Lines) Err() error {
	return l.err
}

// Close closes the underlying pipe. A child still writing to it gets EPIPE instead of blocking.
func (l *Lines) Close() error {
	l.done = true
	return l.closer.Close()
}
