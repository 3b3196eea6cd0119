//go:build !windows

package job

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the compiler in its own process group so that
// cancellation kills it together with any helper processes it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
