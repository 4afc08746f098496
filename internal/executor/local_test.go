package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/transport"
)

func drain(t *testing.T, ch <-chan transport.ExecutionOutput) []transport.ExecutionOutput {
	t.Helper()
	var msgs []transport.ExecutionOutput
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for executor stream")
		}
	}
}

func TestLocalExecuteSuccess(t *testing.T) {
	l := Local{}
	task := transport.Task{
		WorkflowID: "wf",
		TaskID:     "A",
		Execution: domain.Execution{
			Exec: domain.Exec{ShellCommand: "echo hello"},
		},
	}

	msgs := drain(t, l.Execute(context.Background(), task))
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.Initializing, msgs[0].Status)

	terminal := msgs[len(msgs)-1]
	assert.Equal(t, domain.Success, terminal.Status)
	assert.Equal(t, "0", terminal.Message)

	var sawHello bool
	for _, m := range msgs {
		if m.Status == domain.Running && m.Message == "hello" {
			sawHello = true
		}
	}
	assert.True(t, sawHello, "expected a Running message carrying the echoed line")
}

func TestLocalExecuteFailure(t *testing.T) {
	l := Local{}
	task := transport.Task{
		Execution: domain.Execution{
			Exec: domain.Exec{ShellCommand: "exit 7"},
		},
	}

	msgs := drain(t, l.Execute(context.Background(), task))
	terminal := msgs[len(msgs)-1]
	assert.Equal(t, domain.Failed, terminal.Status)
	assert.Equal(t, "7", terminal.Message)
}
