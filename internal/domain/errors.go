package domain

import "fmt"

// ErrorKind is the closed taxonomy of error conditions the domain layer
// surfaces to callers. See §7 of the specification.
type ErrorKind string

const (
	// ErrExecution means an executor returned a non-success terminal status.
	ErrExecution ErrorKind = "execution_error"
	// ErrParsing means a workflow payload failed to decode, or a task had no
	// execution descriptor.
	ErrParsing ErrorKind = "parsing_error"
	// ErrIncompleteTaskDefinition means a DAG node lacks an executor or exec
	// payload at dispatch time.
	ErrIncompleteTaskDefinition ErrorKind = "incomplete_task_definition"
	// ErrExecutionBrokerUnreachable means a broker RPC failed at the
	// transport layer.
	ErrExecutionBrokerUnreachable ErrorKind = "execution_broker_unreachable"
	// ErrExecutorNotFound means the broker returned no matching executor.
	ErrExecutorNotFound ErrorKind = "executor_not_found"
	// ErrCyclicDependency means DAG construction detected a cycle.
	ErrCyclicDependency ErrorKind = "cyclic_dependency_error"
)

// Error is the single error type used across the domain layer. Each kind
// carries whatever context is relevant (workflow/task identity, message).
type Error struct {
	Kind     ErrorKind
	Workflow string
	Task     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Task != "" && e.Message != "":
		return fmt.Sprintf("%s: task %s: %s", e.Kind, e.Task, e.Message)
	case e.Task != "":
		return fmt.Sprintf("%s: task %s", e.Kind, e.Task)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, &domain.Error{Kind: domain.ErrCyclicDependency}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind ErrorKind, workflow, task, message string) *Error {
	return &Error{Kind: kind, Workflow: workflow, Task: task, Message: message}
}

// NewCyclicDependencyError builds an ErrCyclicDependency for the given workflow.
func NewCyclicDependencyError(workflow string) *Error {
	return newErr(ErrCyclicDependency, workflow, "", "workflow dependency graph contains a cycle")
}

// NewParsingError builds an ErrParsing for the given workflow.
func NewParsingError(workflow, message string) *Error {
	return newErr(ErrParsing, workflow, "", message)
}

// NewIncompleteTaskDefinitionError builds an ErrIncompleteTaskDefinition.
func NewIncompleteTaskDefinitionError(workflow, task, message string) *Error {
	return newErr(ErrIncompleteTaskDefinition, workflow, task, message)
}

// NewExecutorNotFoundError builds an ErrExecutorNotFound.
func NewExecutorNotFoundError(workflow, task string) *Error {
	return newErr(ErrExecutorNotFound, workflow, task, "no matching executor registered")
}

// NewExecutionBrokerUnreachableError builds an ErrExecutionBrokerUnreachable.
func NewExecutionBrokerUnreachableError(workflow, task string, cause error) *Error {
	e := newErr(ErrExecutionBrokerUnreachable, workflow, task, "execution broker unreachable")
	e.Err = cause
	return e
}

// NewExecutionError builds an ErrExecution from an executor-reported failure.
func NewExecutionError(workflow, task, message string) *Error {
	return newErr(ErrExecution, workflow, task, message)
}
