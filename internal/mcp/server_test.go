package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neostackide/idecore/internal/bridge"
	"github.com/neostackide/idecore/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := testLogger(t)
	bridgeServer := bridge.NewServer(log)
	s := NewServer(log, bridgeServer.Handle())

	ctx, cancel := context.WithCancel(context.Background())
	go bridgeServer.Run(ctx)
	t.Cleanup(func() {
		cancel()
		bridgeServer.Handle().Shutdown()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestInitialize(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	defer resp.Body.Close()

	var rpcResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.NotNil(t, rpcResp["result"])
	assert.Nil(t, rpcResp["error"])
}

func TestToolsList_ReturnsFiveTools(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	defer resp.Body.Close()

	var rpcResp struct {
		Result struct {
			Tools []json.RawMessage `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.Len(t, rpcResp.Result.Tools, 5)
}

func TestNotification_Returns202(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `{"jsonrpc":"2.0","method":"initialized"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestParseError_Returns200WithIDNull(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `not json`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rpcResp struct {
		ID    json.RawMessage `json:"id"`
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, -32700, rpcResp.Error.Code)
	assert.Equal(t, "null", string(rpcResp.ID))
}

func TestToolsCall_InvalidParams(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{}}`)
	defer resp.Body.Close()

	var rpcResp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, -32602, rpcResp.Error.Code)
}

func TestToolsCall_NoUEClient_ReturnsToolLevelError(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"create_asset","arguments":{"path":"/Game/X","asset_class":"Blueprint"}}}`)
	defer resp.Body.Close()

	var rpcResp struct {
		Result struct {
			IsError bool `json:"is_error"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	assert.True(t, rpcResp.Result.IsError)
	require.Len(t, rpcResp.Result.Content, 1)
	assert.Contains(t, rpcResp.Result.Content[0].Text, "UE5 is not connected")
	assert.Contains(t, rpcResp.Result.Content[0].Text, "tool=create_asset")
}
