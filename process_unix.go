//go:build unix

package loadpipe

import (
	"os/exec"
	"syscall"
)

// killGroup puts the process in its own group and kills the whole group on
// cancel, so children that inherited its pipes go too.
func killGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
