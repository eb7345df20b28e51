package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	globalconfig "nlsql/config"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	probeTimeout            = 2 * time.Second
)

// Channel is a client connection to the capability server. It allows at most
// one outstanding invocation; concurrent callers queue on Invoke.
type Channel struct {
	mu            sync.Mutex
	client        *client.Client
	proc          *serverProcess
	catalogue     *Catalogue
	invokeTimeout time.Duration
	closed        atomic.Bool
	broken        error
}

// Open launches the capability server subprocess and completes the
// initialization handshake. Any failure is a *ProtocolError.
func Open(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	proc, err := startServerProcess(cfg)
	if err != nil {
		return nil, &ProtocolError{Op: "start", Err: err}
	}

	ch, err := attach(ctx, proc.Client, proc, cfg)
	if err != nil {
		proc.stop(context.Background())
		return nil, err
	}
	return ch, nil
}

// Attach performs the handshake over an already started client, such as an
// in-process one.
func Attach(ctx context.Context, c *client.Client, cfg ChannelConfig) (*Channel, error) {
	return attach(ctx, c, nil, cfg)
}

func attach(ctx context.Context, c *client.Client, proc *serverProcess, cfg ChannelConfig) (*Channel, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "nlsql",
				Version: "1.0.0",
			},
		},
	}

	initResult, err := c.Initialize(hctx, initReq)
	if err != nil {
		return nil, &ProtocolError{Op: "initialize", Err: err}
	}

	toolsResult, err := c.ListTools(hctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, &ProtocolError{Op: "list capabilities", Err: err}
	}
	if len(toolsResult.Tools) == 0 {
		return nil, &ProtocolError{Op: "list capabilities", Err: errors.New("server advertised no capabilities")}
	}

	if proc != nil {
		proc.Tools = toolsResult.Tools
	}

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Debugf("[MCP] Handshake complete with %s %s, %d capabilities",
			initResult.ServerInfo.Name, initResult.ServerInfo.Version, len(toolsResult.Tools))
	}

	return &Channel{
		client:        c,
		proc:          proc,
		catalogue:     CatalogueFromTools(toolsResult.Tools),
		invokeTimeout: cfg.InvokeTimeout,
	}, nil
}

// Catalogue returns the capabilities advertised during the handshake.
func (ch *Channel) Catalogue() *Catalogue {
	return ch.catalogue
}

// Broken reports whether a protocol error has made the channel unusable.
func (ch *Channel) Broken() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed.Load() || ch.broken != nil
}

// Invoke sends one request and waits for its result. Execution failures come
// back as an unsuccessful InvocationResult with an "Error: " payload;
// rejected arguments as *InvalidParamsError; channel failures as
// *ProtocolError.
func (ch *Channel) Invoke(ctx context.Context, req InvocationRequest) (InvocationResult, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch {
	case ch.closed.Load():
		return InvocationResult{}, &ProtocolError{Op: "invoke " + req.Capability, Err: ErrClosed}
	case ch.broken != nil:
		return InvocationResult{}, &ProtocolError{Op: "invoke " + req.Capability, Err: ch.broken}
	}

	callCtx := ctx
	if ch.invokeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ch.invokeTimeout)
		defer cancel()
	}

	result, err := ch.client.CallTool(callCtx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      req.Capability,
			Arguments: req.ArgumentMap(),
		},
	})
	if err != nil {
		return ch.classifyFailure(ctx, callCtx, req, err)
	}

	text := ResultText(result)
	switch {
	case result.IsError && isInvalidParamsMessage(text):
		return InvocationResult{}, &InvalidParamsError{Capability: req.Capability, Detail: invalidParamsDetail(text)}
	case result.IsError:
		return executionFailure(text), nil
	case strings.HasPrefix(text, "Error:"):
		return executionFailure(text), nil
	}
	return InvocationResult{Success: true, Payload: text}, nil
}

// classifyFailure decides what a CallTool error means. Must hold ch.mu.
func (ch *Channel) classifyFailure(ctx, callCtx context.Context, req InvocationRequest, err error) (InvocationResult, error) {
	switch {
	case ctx.Err() != nil:
		return InvocationResult{}, fmt.Errorf("invocation of %s cancelled: %w", req.Capability, ctx.Err())

	case isInvalidParams(err):
		return InvocationResult{}, &InvalidParamsError{Capability: req.Capability, Detail: invalidParamsDetail(err.Error())}
	}

	// The server may simply be slow or have rejected the call; only a
	// failed liveness probe makes this a channel failure.
	if perr := ch.probe(ctx); perr != nil {
		ch.broken = err
		if globalconfig.DebugLog != nil {
			globalconfig.DebugLog.Debugf("[MCP] Channel broken after %s: %v (probe: %v)", req.Capability, err, perr)
		}
		return InvocationResult{}, &ProtocolError{Op: "invoke " + req.Capability, Err: err}
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return executionFailure(fmt.Sprintf("Error: %s timed out after %s", req.Capability, ch.invokeTimeout)), nil
	}
	return executionFailure("Error: " + err.Error()), nil
}

func (ch *Channel) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()
	return ch.client.Ping(pctx)
}

func executionFailure(payload string) InvocationResult {
	return InvocationResult{
		Success: false,
		Payload: payload,
		Error:   strings.TrimSpace(strings.TrimPrefix(payload, "Error:")),
	}
}

// Close shuts the channel down and terminates the subprocess, if any. It does
// not wait for an outstanding invocation, which fails once the transport goes.
func (ch *Channel) Close(ctx context.Context) error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}

	if ch.proc != nil {
		ch.proc.stop(ctx)
		return nil
	}
	return ch.client.Close()
}

// ResultText concatenates the text content of a tool result.
func ResultText(result *mcptypes.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcptypes.TextContent:
			parts = append(parts, c.Text)
		case *mcptypes.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
