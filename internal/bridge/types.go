package bridge

import "time"

// ProtocolVersion is the required UE bridge handshake version
// (SPEC_FULL.md §6.2).
const ProtocolVersion = 2

// HandshakeTimeout bounds how long a freshly-upgraded connection has to
// send its handshake frame (SPEC_FULL.md §4.3 step 1).
const HandshakeTimeout = 5 * time.Second

// OutboundQueueSize is the bounded capacity of each UEClient's outbound
// queue (SPEC_FULL.md §3 UEClient.Attributes).
const OutboundQueueSize = 32

// RpcTimeout is a 30-second bound for a SendCommand / SendCommandToAny
// round trip (SPEC_FULL.md §4.3 Timeouts). Nothing in this module applies
// it: CallBlocking is bounded only by the context its caller passes (the
// MCP server passes its own ToolCallTimeout).
const RpcTimeout = 30 * time.Second

// PortRangeStart/End is the localhost port range C3 tries in order
// (SPEC_FULL.md §4.3 Port binding).
const (
	PortRangeStart = 27020
	PortRangeEnd   = 27029
)

// Command vocabulary is opaque to the bridge; semantics live in the UE
// plugin (SPEC_FULL.md §4.3). Listed here as named constants only because
// the pack's style favors named constants over bare strings at call sites.
const (
	CmdPieStart       = "pie_start"
	CmdPieStop        = "pie_stop"
	CmdHotReload      = "hot_reload"
	CmdStartStreaming = "start_streaming"
	CmdStopStreaming  = "stop_streaming"
	CmdExecuteTool    = "execute_tool"
	CmdOpenAsset      = "OpenAsset"
)

// HandshakeFrame is the client->server handshake payload.
type HandshakeFrame struct {
	Type           string `json:"type"`
	Version        int    `json:"version"`
	ProjectID      string `json:"projectId"`
	ProjectPath    string `json:"projectPath"`
	ProjectName    string `json:"projectName"`
	EngineVersion  string `json:"engineVersion"`
	Pid            int    `json:"pid"`
}

// HandshakeAck is the server->client handshake reply.
type HandshakeAck struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// OutboundCommand is the server->client command frame.
type OutboundCommand struct {
	Cmd       string      `json:"cmd"`
	RequestID string      `json:"requestId"`
	Args      interface{} `json:"args"`
}

// BridgeEvent is the client->server event frame.
type BridgeEvent struct {
	Event     string          `json:"event"`
	Success   bool            `json:"success"`
	RequestID string          `json:"requestId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
}

// --- RPC fabric command/response (C1 instantiated for C3) ---

type Cmd struct {
	Kind            string
	SendCommand     *SendCommandCmd
	SendCommandToAny *SendCommandToAnyCmd
	Stop            *struct{}
	Shutdown        *struct{}
}

const (
	CmdKindSendCommand      = "send_command"
	CmdKindSendCommandToAny = "send_command_to_any"
	CmdKindStop             = "stop"
	CmdKindShutdown         = "shutdown"
)

type SendCommandCmd struct {
	SessionID string
	Cmd       string
	Args      interface{}
}

type SendCommandToAnyCmd struct {
	Cmd  string
	Args interface{}
}

type Resp struct {
	Event BridgeEvent
}

// --- UI notifications (C5) ---

type Notification struct {
	Kind             string
	ServerStarted    *ServerStartedNotification
	ClientConnected  *ClientConnectedNotification
	ClientDisconnected *ClientDisconnectedNotification
	CommandResponse  *CommandResponseNotification
	ServerStopped    *struct{}
}

const (
	NotifyServerStarted      = "server_started"
	NotifyClientConnected    = "client_connected"
	NotifyClientDisconnected = "client_disconnected"
	NotifyCommandResponse    = "command_response"
	NotifyServerStopped      = "server_stopped"
)

type ServerStartedNotification struct {
	Port int
}

// ClientView is the UI-facing projection of a UEClient.
type ClientView struct {
	SessionID     string
	ProjectID     string
	ProjectPath   string
	ProjectName   string
	EngineVersion string
	Pid           int
	ConnectedAt   time.Time
}

type ClientConnectedNotification struct {
	Client ClientView
}

type ClientDisconnectedNotification struct {
	SessionID string
}

type CommandResponseNotification struct {
	Event BridgeEvent
}
