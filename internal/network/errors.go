package network

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by a Provider or Handle when the named network
	// or container endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAttach marks a failed connect of a container to the network.
	ErrAttach = errors.New("attach container to network")
	// ErrDetach marks a failed disconnect from the runtime's default network.
	ErrDetach = errors.New("detach container from default network")
	// ErrNetwork marks any other failed network operation, such as stale cleanup.
	ErrNetwork = errors.New("network operation failed")
)

// Error reports a failed membership operation. Kind is one of ErrAttach,
// ErrDetach or ErrNetwork; Err is the provider error.
type Error struct {
	Op        string
	Network   string
	Container string
	Kind      error
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Container != "" {
		sb.WriteString(" container " + e.Container)
	}
	if e.Network != "" {
		sb.WriteString(" on network " + e.Network)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidationError indicates an invalid address plan or input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}
