package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	globalconfig "nlsql/config"
)

// startServerProcess launches the capability server as a subprocess speaking
// MCP over its stdin/stdout. The handshake is performed separately.
func startServerProcess(cfg ChannelConfig) (*serverProcess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("no capability server command configured")
	}

	env := buildEnv(cfg.Env)
	var capturedCmd *exec.Cmd

	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Debugf("[MCP] Starting capability server: %s %v", cfg.Command, cfg.Args)
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		env,
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return nil, err
	}

	if capturedCmd != nil && capturedCmd.Process != nil && globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Debugf("[MCP] Capability server started with PID %d", capturedCmd.Process.Pid)
	}

	if stderr, ok := client.GetStderr(mcpClient); ok {
		go drainStderr(stderr)
	}

	return &serverProcess{
		Command: cfg.Command,
		Args:    cfg.Args,
		Process: capturedCmd,
		Client:  mcpClient,
	}, nil
}

// stop closes the client, giving it one second before killing the process.
func (p *serverProcess) stop(ctx context.Context) {
	clientClosed := false
	if p.Client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- p.Client.Close()
		}()

		select {
		case err := <-closeDone:
			switch {
			case err != nil && globalconfig.DebugLog != nil:
				globalconfig.DebugLog.Debugf("[MCP] Error closing capability client: %v", err)
			case err == nil:
				clientClosed = true
			}
		case <-closeCtx.Done():
			if globalconfig.DebugLog != nil {
				globalconfig.DebugLog.Debugf("[MCP] Close timeout, killing capability server")
			}
		}
	}

	if !clientClosed && p.Process != nil && p.Process.Process != nil {
		if err := p.Process.Process.Kill(); err != nil && globalconfig.DebugLog != nil {
			globalconfig.DebugLog.Debugf("[MCP] Error killing capability server (PID %d): %v", p.Process.Process.Pid, err)
		}
	}
}

func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if globalconfig.DebugLog != nil {
			globalconfig.DebugLog.Debugf("[MCP] server stderr: %s", scanner.Text())
		}
	}
}

func buildEnv(extra map[string]string) []string {
	// Keep PATH and the debug switch visible to the subprocess.
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
