//go:build windows

package job

import "os/exec"

// setProcessGroup falls back to killing only the compiler process.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
