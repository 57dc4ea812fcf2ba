//go:build windows

package tool

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
