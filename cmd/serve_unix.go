//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// shutdownSignals lists the signals that trigger a graceful daemon stop.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigTERM is the polite stop signal sent by `parley serve stop`.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL is the forced-stop fallback when the daemon ignores sigTERM.
func sigKILL() syscall.Signal { return syscall.SIGKILL }

// setDaemonAttrs puts the spawned daemon into its own session so it
// survives the launching CLI exiting.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
