// Package transport defines the wire vocabulary shared between the
// scheduler, the execution broker, and executor processes (§6). Every
// message is a plain JSON-tagged struct carried over HTTP/1.1 — the
// protobuf-like IDL in the source material is realised here as
// application/json for the three request/response RPCs and
// application/x-ndjson for the one streaming RPC, ExecuteTask.
package transport

import "github.com/flowty/flowty/internal/domain"

// RegistrationRequest is the payload of ExecutionBroker.RegisterExecutor.
type RegistrationRequest struct {
	URI                string                    `json:"uri"`
	ExecutorDefinition domain.ExecutorDefinition `json:"executor_definition"`
}

// RegistrationReply is the response to RegisterExecutor.
type RegistrationReply struct {
	UniqueID string `json:"unique_id"`
}

// Heartbeat is both the request and reply shape of ExecutionBroker.HeartBeat
// — a miss is encoded as a zero-value Heartbeat, per §4.2.
type Heartbeat struct {
	UniqueID string `json:"unique_id"`
}

// SearchRequest is the payload of ExecutionBroker.FindExecutor.
type SearchRequest struct {
	ExecutorDefinition domain.ExecutorDefinition `json:"executor_definition"`
	BlockList          []string                  `json:"block_list,omitempty"`
}

// SearchReply is the response to FindExecutor. An empty URI means no match.
type SearchReply struct {
	URI string `json:"uri"`
}

// Task is the payload of Executor.ExecuteTask.
type Task struct {
	WorkflowID string           `json:"workflow_id"`
	TaskID     string           `json:"task_id"`
	Execution  domain.Execution `json:"execution"`
}

// ExecutionOutput is one message in the ExecuteTask response stream. The
// stream must begin with {status: Initializing}, carry zero or more
// {status: Running, message: <line>} entries, and end with exactly one
// terminal {status: Success|Failed, message: <exit code as decimal string>}
// (§4.4).
type ExecutionOutput struct {
	Status  domain.ExecutionStatus `json:"status"`
	Message string                 `json:"message,omitempty"`
}
