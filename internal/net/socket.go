package net

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ListenUnix listens on a Unix socket at path, replacing any stale socket left by an earlier run,
// and sets the socket's permission bits to perm.
func ListenUnix(path string, perm os.FileMode) (net.Listener, error) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on unix socket %s: %w", path, err)
	}
	err = os.Chmod(path, perm)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	return listener, nil
}
