//go:build windows
// +build windows

package muxer

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// windows can not pass extra file descriptors to a child process
const pipeInputsSupported = false

func ConfigureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func pipeInput(cmd *exec.Cmd, r *os.File) string {
	return ""
}

func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	kill := exec.Command("TASKKILL", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout
	return kill.Run()
}
