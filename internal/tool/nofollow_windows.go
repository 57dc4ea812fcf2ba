//go:build windows

package tool

const openNoFollow = 0
