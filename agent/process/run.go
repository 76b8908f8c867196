package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/guseggert/nativebridge/agent/protocol"
)

var ErrEmptyProgram = errors.New("program must not be empty")

// Run runs program to completion.
// It returns Success with the captured stdout when the program exits with status 0,
// Error with the captured stderr when it exits with any other status,
// and Error with a description when it is disallowed or cannot be spawned.
func Run(ctx context.Context, program string, args []string) protocol.Response {
	if program == "" {
		return protocol.Error(ErrEmptyProgram.Error())
	}
	if err := CheckPolicy(program, args); err != nil {
		return protocol.Error(err.Error())
	}

	cmd := exec.Command(program, args...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Start()
	if err != nil {
		return protocol.Error(err.Error())
	}

	// If the context is canceled, kill the process.
	// In the normal case the process has already exited by the time the context is done.
	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
		case <-exited:
		}
	}()

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return protocol.Error(err.Error())
		}
		return protocol.Error(toText(stderr.String()))
	}
	return protocol.Success(toText(stdout.String()))
}

// toText decodes process output, replacing invalid UTF-8.
func toText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
