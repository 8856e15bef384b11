//go:build !windows
// +build !windows

package muxer

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const pipeInputsSupported = true

func ConfigureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// pipeInput passes r to the child and returns its ffmpeg input name.
func pipeInput(cmd *exec.Cmd, r *os.File) string {
	cmd.ExtraFiles = append(cmd.ExtraFiles, r)
	// stdin, stdout and stderr come first
	return fmt.Sprintf("pipe:%d", 2+len(cmd.ExtraFiles))
}

func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Kill()
	}

	err = syscall.Kill(-pgid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
