//go:build !windows

package agent

import (
	"errors"

	"golang.org/x/sys/unix"
)

func mustBeRoot() error {
	if unix.Geteuid() != 0 {
		return errors.New("darkdiskz-agent must run as root")
	}
	_ = unix.Umask(0o022)
	return nil
}
