// Package mcp implements C4, the MCP HTTP/JSON-RPC server: SPEC_FULL.md
// §4.4. The transport is hand-rolled net/http rather than
// mark3labs/mcp-go's StreamableHTTPServer (used by
// apps/backend/internal/mcpserver/server.go) because the wire contract
// here is stricter: one-request-per-connection, an exact 202-for-
// notifications rule, and an exact parse-error/200/id:null rule that the
// library's own transport does not reproduce. mcp-go's schema builder is
// still used for the tool catalog itself (internal/mcp/catalog.go).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/neostackide/idecore/internal/bridge"
	"github.com/neostackide/idecore/internal/common/logger"
	"github.com/neostackide/idecore/internal/notify"
	mcpjsonrpc "github.com/neostackide/idecore/pkg/mcp/jsonrpc"
	"go.uber.org/zap"
)

// BoundPort is the process-wide atomic the UI reads to display the bound
// port without a round-trip (SPEC_FULL.md §6.4).
var BoundPort atomic.Int32

// Server is the C4 MCP server: one dedicated OS thread (goroutine) running
// a multi-threaded executor (SPEC_FULL.md §5).
type Server struct {
	log           *logger.Logger
	notifications *notify.Channel[Notification]
	bridge        *bridge.Handle

	catalog   []catalogEntry
	toolNames map[string]bool

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a C4 server that forwards tools/call to the given C3
// fabric handle.
func NewServer(log *logger.Logger, bridgeHandle *bridge.Handle) *Server {
	catalog := buildCatalog()
	return &Server{
		log:           log.WithFields(zap.String("component", "mcp")),
		notifications: notify.NewChannel[Notification](128),
		bridge:        bridgeHandle,
		catalog:       catalog,
		toolNames:     toolNames(catalog),
	}
}

func (s *Server) Notifications() <-chan Notification { return s.notifications.Receive() }

func (s *Server) emit(n Notification) { s.notifications.Send(n) }

// Listen binds the first free port in [PortRangeStart, PortRangeEnd]
// (SPEC_FULL.md §4.4 Port binding, identical strategy to C3).
func (s *Server) Listen() error {
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		s.listener = ln
		BoundPort.Store(int32(port))

		mux := http.NewServeMux()
		mux.HandleFunc("/mcp", s.handleMCP)
		mux.HandleFunc("/mcp/", s.handleMCP)
		mux.HandleFunc("/health", s.handleHealth)
		s.httpSrv = &http.Server{Handler: mux}

		s.emit(Notification{Kind: NotifyServerStarted, ServerStarted: &ServerStartedNotification{Port: port}})
		return nil
	}
	return fmt.Errorf("BindFailed: no free port in [%d, %d]", PortRangeStart, PortRangeEnd)
}

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	if s.httpSrv == nil {
		return fmt.Errorf("mcp: Serve called before Listen")
	}
	err := s.httpSrv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMCP implements SPEC_FULL.md §4.4's HTTP surface and JSON-RPC
// dispatch table for POST /mcp.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := readBody(r)
	if err != nil {
		s.writeParseError(w)
		return
	}

	var req mcpjsonrpc.Request
	if len(body) == 0 || json.Unmarshal(body, &req) != nil {
		s.writeParseError(w)
		return
	}

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("{}"))
		return
	}

	switch req.Method {
	case "initialize":
		s.writeResult(w, req.ID, map[string]interface{}{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{"listChanged": false}},
			"serverInfo":      map[string]interface{}{"name": serverName, "version": serverVersion},
		})
	case "tools/list":
		tools := make([]json.RawMessage, 0, len(s.catalog))
		for _, e := range s.catalog {
			tools = append(tools, e.raw)
		}
		s.writeResult(w, req.ID, map[string]interface{}{"tools": tools})
	case "tools/call":
		s.handleToolsCall(w, r.Context(), req)
	case "ping":
		s.writeResult(w, req.ID, map[string]interface{}{"pong": true})
	default:
		s.writeError(w, req.ID, mcpjsonrpc.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	lengthHeader := r.Header.Get("Content-Length")
	if lengthHeader == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(lengthHeader)
	if err != nil || n <= 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.Body, body); err != nil {
		return nil, err
	}
	return body, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall implements SPEC_FULL.md §4.4's tools/call semantics,
// preserving the protocol-error-vs-tool-error distinction: validation
// failures are JSON-RPC errors, everything downstream of a dispatched call
// is a *tool-level* result with is_error set or unset.
func (s *Server) handleToolsCall(w http.ResponseWriter, ctx context.Context, req mcpjsonrpc.Request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.writeError(w, req.ID, mcpjsonrpc.CodeInvalidParams, "invalid params: name is required")
		return
	}

	s.emit(Notification{Kind: NotifyToolCalled, ToolCalled: &ToolCalledNotification{Tool: params.Name}})

	var args interface{}
	if len(params.Arguments) > 0 {
		_ = json.Unmarshal(params.Arguments, &args)
	}

	callCtx, cancel := context.WithTimeout(ctx, ToolCallTimeout)
	defer cancel()

	resp, err := s.bridge.CallBlocking(callCtx, bridge.Cmd{
		Kind: bridge.CmdKindSendCommandToAny,
		SendCommandToAny: &bridge.SendCommandToAnyCmd{
			Cmd:  bridge.CmdExecuteTool,
			Args: map[string]interface{}{"tool": params.Name, "args": args},
		},
	})
	if err != nil {
		s.writeToolError(w, req.ID, fmt.Sprintf("tool=%s: %s", params.Name, err.Error()))
		return
	}

	event := resp.Event
	if !event.Success {
		s.writeToolError(w, req.ID, fmt.Sprintf("tool=%s: %s", params.Name, event.Error))
		return
	}

	text := prettyJSON(event.Data)
	s.writeResult(w, req.ID, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
	})
}

func prettyJSON(v interface{}) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(out)
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	resp := mcpjsonrpc.Response{JSONRPC: "2.0", ID: id, Result: result}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

// writeToolError writes a *tool-level* error: JSON-RPC success with
// ToolCallResult.is_error=true (SPEC_FULL.md §4.4 / §7).
func (s *Server) writeToolError(w http.ResponseWriter, id json.RawMessage, message string) {
	resp := mcpjsonrpc.Response{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content":  []map[string]interface{}{{"type": "text", "text": message}},
			"is_error": true,
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := mcpjsonrpc.Response{JSONRPC: "2.0", ID: id, Error: &mcpjsonrpc.Error{Code: code, Message: message}}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

// writeParseError always returns HTTP 200 with id:null, per SPEC_FULL.md
// §4.4.
func (s *Server) writeParseError(w http.ResponseWriter) {
	resp := mcpjsonrpc.Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage("null"),
		Error:   &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeParseError, Message: "parse error"},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}
