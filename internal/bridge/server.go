// Package bridge implements C3, the UE WebSocket bridge runtime:
// SPEC_FULL.md §4.3. Grounded on the gateway/websocket Hub/Handler pair and
// the orchestrator/streaming read/write pump, generalized from a
// gin-mounted hub to a standalone net/http server that binds its own port
// range, since this bridge is not mounted inside any larger application.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/neostackide/idecore/internal/common/logger"
	"github.com/neostackide/idecore/internal/notify"
	"github.com/neostackide/idecore/internal/rpc"
	"go.uber.org/zap"
)

// ErrNoClients is returned (wrapped) when SendCommand/SendCommandToAny has
// no matching connected UE client (SPEC_FULL.md §4.3).
var ErrNoClients = fmt.Errorf("UE5 is not connected")

// Handle is the RPC fabric instantiated over bridge's Cmd/Resp types.
type Handle = rpc.Handle[Cmd, Resp]

// BoundPort is the process-wide atomic the UI reads to display the bound
// port without a round-trip (SPEC_FULL.md §6.4).
var BoundPort atomic.Int32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Localhost-only server; the UE plugin is the only expected caller.
		return true
	},
}

// Server is the C3 UE bridge runtime: one dedicated OS thread (goroutine)
// running a multi-threaded executor (SPEC_FULL.md §5 -- fan-out I/O, unlike
// C2's single-threaded executor).
type Server struct {
	handle        *Handle
	notifications *notify.Channel[Notification]
	log           *logger.Logger

	registry *registry
	httpSrv  *http.Server
	listener net.Listener

	pendingMu sync.Mutex
	pending   map[string]rpc.RequestID // correlation id -> fabric request id

	stopped atomic.Bool
}

// NewServer creates an idle (unbound) C3 server.
func NewServer(log *logger.Logger) *Server {
	return &Server{
		handle:        rpc.New[Cmd, Resp](log, 64),
		notifications: notify.NewChannel[Notification](256),
		log:           log.WithFields(zap.String("component", "bridge")),
		registry:      newRegistry(),
		pending:       make(map[string]rpc.RequestID),
	}
}

func (s *Server) Handle() *Handle { return s.handle }

func (s *Server) Notifications() <-chan Notification { return s.notifications.Receive() }

func (s *Server) emit(n Notification) { s.notifications.Send(n) }

// Listen binds the first free port in [PortRangeStart, PortRangeEnd],
// returning BindFailed if none is available (SPEC_FULL.md §4.3 Port
// binding / §8 Boundary behavior).
func (s *Server) Listen() error {
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		s.listener = ln
		BoundPort.Store(int32(port))
		mux := http.NewServeMux()
		mux.HandleFunc("/", s.handleUpgrade)
		s.httpSrv = &http.Server{Handler: mux}
		s.emit(Notification{Kind: NotifyServerStarted, ServerStarted: &ServerStartedNotification{Port: port}})
		return nil
	}
	return fmt.Errorf("BindFailed: no free port in [%d, %d]", PortRangeStart, PortRangeEnd)
}

// Serve runs the accept loop until the listener is closed. Call after
// Listen, typically in its own goroutine.
func (s *Server) Serve() error {
	if s.httpSrv == nil {
		return fmt.Errorf("bridge: Serve called before Listen")
	}
	err := s.httpSrv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.acceptConnection(conn)
}

// acceptConnection implements SPEC_FULL.md §4.3 step 1-3: bounded
// handshake, registry insertion, then reader/writer pump spawn.
func (s *Server) acceptConnection(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var frame HandshakeFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "handshake" {
		conn.Close()
		return
	}

	if frame.Version != ProtocolVersion {
		ack := HandshakeAck{
			Type:    "handshake_ack",
			Success: false,
			Error:   fmt.Sprintf("Protocol version mismatch: expected %d, got %d", ProtocolVersion, frame.Version),
		}
		writeJSON(conn, ack)
		conn.Close()
		return
	}

	sessionID := uuid.NewString()
	writeJSON(conn, HandshakeAck{Type: "handshake_ack", SessionID: sessionID, Success: true})

	client := newUEClient(conn, frame, sessionID)
	s.registry.add(client)
	s.emit(Notification{Kind: NotifyClientConnected, ClientConnected: &ClientConnectedNotification{Client: client.view()}})

	go s.writePump(client)
	s.readPump(client, func(event BridgeEvent) { s.routeEvent(client, event) })

	// readPump returned: the connection is gone.
	if _, ok := s.registry.remove(client.SessionID); ok {
		s.emit(Notification{Kind: NotifyClientDisconnected, ClientDisconnected: &ClientDisconnectedNotification{SessionID: client.SessionID}})
	}
}

// routeEvent implements SPEC_FULL.md §4.3's inbound event routing: deliver
// to a matching PendingCommand if correlated, and always emit
// CommandResponse for unsolicited updates.
func (s *Server) routeEvent(client *UEClient, event BridgeEvent) {
	if event.RequestID != "" {
		s.pendingMu.Lock()
		reqID, ok := s.pending[event.RequestID]
		if ok {
			delete(s.pending, event.RequestID)
		}
		s.pendingMu.Unlock()

		if ok {
			s.handle.Deliver(reqID, Resp{Event: event}, nil)
		}
	}
	s.emit(Notification{Kind: NotifyCommandResponse, CommandResponse: &CommandResponseNotification{Event: event}})
}

// Run is the worker loop driving the RPC fabric's command channel.
func (s *Server) Run(ctx context.Context) {
	s.log.Info("bridge runtime started")
	defer s.log.Info("bridge runtime stopped")

	for {
		env, ok := s.handle.Next()
		if !ok {
			return
		}
		if env.Shutdown {
			s.stop()
			s.handle.DrainPending()
			return
		}

		switch env.Cmd.Kind {
		case CmdKindSendCommand:
			s.handleSendCommand(env)
		case CmdKindSendCommandToAny:
			s.handleSendCommandToAny(env)
		case CmdKindStop:
			s.stop()
		default:
			s.log.Warn("unknown bridge command", zap.String("kind", env.Cmd.Kind))
		}
	}
}

func (s *Server) handleSendCommand(env rpc.Envelope[Cmd]) {
	cmd := env.Cmd.SendCommand
	client, ok := s.registry.get(cmd.SessionID)
	if !ok {
		if env.HasID {
			s.handle.Deliver(env.ID, Resp{}, ErrNoClients)
		}
		return
	}
	s.dispatchTo(client, cmd.Cmd, cmd.Args, env)
}

func (s *Server) handleSendCommandToAny(env rpc.Envelope[Cmd]) {
	cmd := env.Cmd.SendCommandToAny
	client, ok := s.registry.any()
	if !ok {
		if env.HasID {
			s.handle.Deliver(env.ID, Resp{}, ErrNoClients)
		}
		return
	}
	s.dispatchTo(client, cmd.Cmd, cmd.Args, env)
}

func (s *Server) dispatchTo(client *UEClient, cmdName string, args interface{}, env rpc.Envelope[Cmd]) {
	correlationID := uuid.NewString()
	if env.HasID {
		s.pendingMu.Lock()
		s.pending[correlationID] = env.ID
		s.pendingMu.Unlock()
	}

	payload, err := json.Marshal(OutboundCommand{Cmd: cmdName, RequestID: correlationID, Args: args})
	if err != nil {
		if env.HasID {
			s.handle.Deliver(env.ID, Resp{}, err)
		}
		return
	}
	if !client.enqueue(payload) {
		s.log.Warn("outbound queue full, dropping command", zap.String("session_id", client.SessionID))
		if env.HasID {
			s.handle.Deliver(env.ID, Resp{}, fmt.Errorf("outbound queue full"))
		}
	}
}

// stop implements SPEC_FULL.md §4.3 Shutdown/Stop: flips the stopped flag,
// closes every client's outbound queue (its writer pump then closes the
// connection, and acceptConnection removes the client from the registry and
// emits ClientDisconnected once its reader returns), closes the HTTP server,
// and emits ServerStopped. Idempotent.
func (s *Server) stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, c := range s.registry.all() {
		c.closeSend()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	s.emit(Notification{Kind: NotifyServerStopped})
}

// Clients returns a snapshot of currently connected clients for inspection.
func (s *Server) Clients() []ClientView {
	clients := s.registry.all()
	out := make([]ClientView, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.view())
	}
	return out
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
