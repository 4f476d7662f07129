package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ExecProber runs a command on the node; exit status 0 is healthy
type ExecProber struct {
	Command []string
}

// NewExecProber creates an exec prober
func NewExecProber(command []string) *ExecProber {
	return &ExecProber{Command: command}
}

// Probe runs the command once
func (e *ExecProber) Probe(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return failed(start, "no command specified")
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	message := fmt.Sprintf("Command: %v", e.Command)
	if err := cmd.Run(); err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, truncate(stderr.String()))
		}
		return failed(start, "%s", message)
	}

	if stdout.Len() > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(stdout.String()))
	}
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (e *ExecProber) Kind() Kind {
	return KindExec
}

func truncate(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
