//go:build windows

package pluginproc

import (
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op on Windows; there is no POSIX process group.
// A timed-out plugin is killed directly via Process.Kill instead.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the process directly since Windows has no
// equivalent of a POSIX process group signal.
func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
