package mcp

import (
	"os/exec"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ArgType is the semantic type of a capability argument.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgNumber  ArgType = "number"
	ArgInteger ArgType = "integer"
	ArgBoolean ArgType = "boolean"
)

// Argument declares one named, typed capability parameter.
type Argument struct {
	Name        string
	Type        ArgType
	Description string
	Required    bool
}

// Capability is an operation the reasoning engine may invoke. It is
// immutable once registered.
type Capability struct {
	Name        string
	Description string
	Arguments   []Argument
	ResultType  string
}

// ArgValue is a validated argument value carrying its declared type.
type ArgValue struct {
	Name  string
	Type  ArgType
	Value any
}

// InvocationRequest is built by Request after validation against the
// capability's argument schema and is consumed exactly once by Invoke.
type InvocationRequest struct {
	Capability string
	Args       []ArgValue
}

// ArgumentMap returns the wire form of the arguments.
func (r InvocationRequest) ArgumentMap() map[string]any {
	out := make(map[string]any, len(r.Args))
	for _, a := range r.Args {
		out[a.Name] = a.Value
	}
	return out
}

// Arg returns the named argument value.
func (r InvocationRequest) Arg(name string) (any, bool) {
	for _, a := range r.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// InvocationResult is the answer to exactly one InvocationRequest.
type InvocationResult struct {
	Success bool
	Payload string
	Error   string
}

// ChannelConfig describes how to reach the capability server.
type ChannelConfig struct {
	Command          string
	Args             []string
	Env              map[string]string
	HandshakeTimeout time.Duration
	InvokeTimeout    time.Duration
}

type serverProcess struct {
	Command string
	Args    []string
	Process *exec.Cmd
	Client  *client.Client
	Tools   []mcptypes.Tool
}
