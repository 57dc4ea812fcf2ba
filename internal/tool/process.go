package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const truncatedMarker = "\n... (output truncated)"

type procResult struct {
	output   string
	err      error // start failure or non-zero exit
	timedOut bool
}

// runProcess runs name with args, capturing combined output up to maxOutput
// bytes. The whole process group is killed when timeout elapses.
func runProcess(ctx context.Context, timeout time.Duration, maxOutput int, dir string, env []string, name string, args ...string) procResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	out := &cappedBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	res := procResult{output: out.String(), err: err}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.timedOut = true
	}
	return res
}

// cappedBuffer keeps the first max bytes written and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
