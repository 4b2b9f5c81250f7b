package acp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/neostackide/idecore/internal/common/logger"
	"go.uber.org/zap"
)

// process owns the spawned agent subprocess and the ACP SDK connection
// layered over its stdin/stdout. Grounded on kdlbs-kandev's
// internal/agentctl/server/adapter/transport/acp/adapter.go's Connect +
// Initialize pair: spawning is still ours (the subprocess isn't managed by
// a separate process.Manager here), but the wire protocol itself is the
// coder/acp-go-sdk connection, not a hand-rolled JSON-RPC client.
type process struct {
	cmd  *exec.Cmd
	conn *acp.ClientSideConnection

	cancel context.CancelFunc

	mu        sync.Mutex
	stderrBuf []string

	log *logger.Logger
}

// commandFactoryFunc allows tests to substitute the spawned command.
type commandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

var defaultCommandFactory commandFactoryFunc = func(ctx context.Context, name string, args ...string) *exec.Cmd {
	// #nosec G204 -- command/args come from operator-supplied Config, not raw user input.
	return exec.CommandContext(ctx, name, args...)
}

// spawn starts the configured executable and wires an ACP SDK connection
// over its stdin/stdout. client implements acp.Client (the Runtime itself,
// per SPEC_FULL.md §4.2's agent-initiated callback table) and receives
// ReadTextFile/WriteTextFile/terminal/permission calls directly from the
// SDK's own read loop -- there is no manual response-framing layer left to
// get wrong. On any failure after partial setup, all opened pipes are
// closed before returning the error (SpawnFailed, per SPEC_FULL.md §4.2
// step 1).
func spawn(parent context.Context, cfg Config, log *logger.Logger, client acp.Client, factory commandFactoryFunc) (*process, error) {
	if factory == nil {
		factory = defaultCommandFactory
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("acp: spawn: command is required")
	}

	ctx, cancel := context.WithCancel(parent)
	cmd := factory(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkspaceRoot
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acp: spawn: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		cancel()
		return nil, fmt.Errorf("acp: spawn: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		cancel()
		return nil, fmt.Errorf("acp: spawn: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		cancel()
		return nil, fmt.Errorf("acp: spawn: start: %w", err)
	}

	conn := acp.NewClientSideConnection(client, stdin, stdout)
	conn.SetLogger(slog.Default().With("component", "acp-conn"))

	p := &process{
		cmd:    cmd,
		conn:   conn,
		cancel: cancel,
		log:    log,
	}
	go p.captureStderr(stderr)

	return p, nil
}

func (p *process) captureStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			line := string(buf[:n])
			p.mu.Lock()
			p.stderrBuf = append(p.stderrBuf, line)
			if len(p.stderrBuf) > 50 {
				p.stderrBuf = p.stderrBuf[len(p.stderrBuf)-50:]
			}
			p.mu.Unlock()
			p.log.Debug("agent stderr", zap.String("data", line))
		}
		if err != nil {
			return
		}
	}
}

// kill terminates the subprocess; its pipes are closed once wait returns.
// Safe to call more than once.
func (p *process) kill() {
	p.cancel()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// wait blocks until the subprocess exits.
func (p *process) wait() error {
	return p.cmd.Wait()
}
