// Package executor implements the executor side of the contract in §4.4: a
// process that receives a Task and streams back status.
package executor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/transport"
)

// Local runs a task as an OS subprocess via "sh -c", grounded in the
// teacher's ShellPlugin (os/exec.Command, stdout/stderr capture) but
// adapted to stream lines as they arrive rather than buffer to completion —
// two goroutines read stdout/stderr concurrently and fan lines into one
// channel in arrival order, per §4.4 and §5's promptly-drained-stream
// guidance.
type Local struct{}

// Execute runs task and returns a channel of ExecutionOutput messages: one
// Initializing, zero or more Running (one per output line), and exactly one
// terminal Success/Failed carrying the exit code as a decimal string. When
// the command cannot be started (empty shell_command, pipe setup or start
// failure), the terminal Failed message carries the error text instead of an
// exit code. The channel is closed once the terminal message has been sent.
func (Local) Execute(ctx context.Context, task transport.Task) <-chan transport.ExecutionOutput {
	out := make(chan transport.ExecutionOutput, 1)

	go func() {
		defer close(out)
		out <- transport.ExecutionOutput{Status: domain.Initializing}

		shellCommand := task.Execution.Exec.ShellCommand
		if shellCommand == "" {
			out <- transport.ExecutionOutput{Status: domain.Failed, Message: "empty shell_command"}
			return
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", shellCommand)
		for k, v := range task.Execution.Exec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			out <- transport.ExecutionOutput{Status: domain.Failed, Message: err.Error()}
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			out <- transport.ExecutionOutput{Status: domain.Failed, Message: err.Error()}
			return
		}

		if err := cmd.Start(); err != nil {
			out <- transport.ExecutionOutput{Status: domain.Failed, Message: err.Error()}
			return
		}

		lines := make(chan string)
		var wg sync.WaitGroup
		wg.Add(2)
		go scanInto(stdout, lines, &wg)
		go scanInto(stderr, lines, &wg)
		go func() {
			wg.Wait()
			close(lines)
		}()

		for line := range lines {
			out <- transport.ExecutionOutput{Status: domain.Running, Message: line}
		}

		waitErr := cmd.Wait()
		exitCode := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		status := domain.Success
		if exitCode != 0 {
			status = domain.Failed
		}
		out <- transport.ExecutionOutput{Status: status, Message: strconv.Itoa(exitCode)}
	}()

	return out
}

func scanInto(r io.Reader, lines chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
