package acp

import (
	"context"
	"os/exec"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// catFactory substitutes the real agent binary with /bin/cat, which echoes
// anything written to its stdin back out its stdout -- good enough to
// exercise spawn/kill without a real ACP agent.
func catFactory(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "cat")
}

// noopACPClient is a minimal acp.Client used only to satisfy spawn's
// signature in tests that don't exercise the callback surface (that surface
// is covered directly against *Runtime in session_test.go).
type noopACPClient struct{}

func (noopACPClient) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	return acp.RequestPermissionResponse{}, nil
}
func (noopACPClient) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	return nil
}
func (noopACPClient) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, nil
}
func (noopACPClient) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, nil
}
func (noopACPClient) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, nil
}
func (noopACPClient) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}
func (noopACPClient) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, nil
}
func (noopACPClient) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}
func (noopACPClient) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, nil
}

var _ acp.Client = noopACPClient{}

func TestSpawn_MissingCommand(t *testing.T) {
	_, err := spawn(context.Background(), Config{}, testLogger(t), noopACPClient{}, nil)
	assert.Error(t, err)
}

func TestSpawn_StartsProcessAndConn(t *testing.T) {
	p, err := spawn(context.Background(), Config{Command: "cat"}, testLogger(t), noopACPClient{}, catFactory)
	require.NoError(t, err)
	require.NotNil(t, p.conn)
	defer p.kill()

	assert.NotNil(t, p.cmd.Process)
}

func TestKill_IsIdempotent(t *testing.T) {
	p, err := spawn(context.Background(), Config{Command: "cat"}, testLogger(t), noopACPClient{}, catFactory)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		p.kill()
		p.kill()
	})
}

func TestKill_CausesWaitToReturn(t *testing.T) {
	p, err := spawn(context.Background(), Config{Command: "cat"}, testLogger(t), noopACPClient{}, catFactory)
	require.NoError(t, err)

	p.kill()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.wait()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after kill")
	}
}
