//go:build !windows

package tool

import "syscall"

const openNoFollow = syscall.O_NOFOLLOW
