package mcp

import (
	"errors"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

var (
	// ErrInvalidParams marks a call rejected before execution. The capability
	// server uses it as the prefix of its protocol-level error message.
	ErrInvalidParams = errors.New("invalid params")

	// ErrProtocol marks transport, handshake and subprocess failures.
	ErrProtocol = errors.New("protocol error")

	ErrUnknownCapability = errors.New("unknown capability")
	ErrClosed            = errors.New("capability channel closed")
)

// ProtocolError reports a failure of the channel itself. It aborts the
// agent run that observed it.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProtocol, e.Err}
}

// InvalidParamsError reports a rejected argument for a named capability.
type InvalidParamsError struct {
	Capability string
	Detail     string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidParams, e.Capability, e.Detail)
}

func (e *InvalidParamsError) Unwrap() error {
	return ErrInvalidParams
}

func invalidParams(capability, format string, a ...any) error {
	return &InvalidParamsError{Capability: capability, Detail: fmt.Sprintf(format, a...)}
}

// isInvalidParams reports a JSON-RPC INVALID_PARAMS reply, or a handler
// error whose message carries the marker.
func isInvalidParams(err error) bool {
	return errors.Is(err, mcptypes.ErrInvalidParams) || isInvalidParamsMessage(err.Error())
}

// isInvalidParamsMessage recognises the server's invalid-params errors after
// they crossed the process boundary as plain text.
func isInvalidParamsMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), ErrInvalidParams.Error())
}

// invalidParamsDetail strips everything up to and including the marker.
func invalidParamsDetail(msg string) string {
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, ErrInvalidParams.Error())
	if idx == -1 {
		return msg
	}
	detail := strings.TrimSpace(msg[idx+len(ErrInvalidParams.Error()):])
	return strings.TrimSpace(strings.TrimPrefix(detail, ":"))
}
