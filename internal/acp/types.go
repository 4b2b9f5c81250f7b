package acp

import "time"

// Status is the ACP connection status machine. SPEC_FULL.md §12.1 keeps the
// original's five-state machine (the distilled spec.md only names three of
// these) because the end-to-end scenario in spec.md §8.1 requires a
// Processing->Connected round trip that a three-state machine can't express
// without losing information.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusProcessing   Status = "processing"
	StatusError        Status = "error"
)

// Config configures one agent subprocess connection.
type Config struct {
	Command         string
	Args            []string
	WorkspaceRoot   string
	Env             []string
	ProtocolVersion int
	InitTimeout     time.Duration
}

// Cmd is the command enum driven through the RPC fabric (internal/rpc).
type Cmd struct {
	Kind                string
	Connect             *ConnectCmd
	Prompt              *PromptCmd
	Cancel              *CancelCmd
	Disconnect          *DisconnectCmd
	RespondToPermission *RespondToPermissionCmd
	Shutdown            *struct{}
}

const (
	CmdConnect             = "connect"
	CmdPrompt              = "prompt"
	CmdCancel              = "cancel"
	CmdDisconnect          = "disconnect"
	CmdRespondToPermission = "respond_to_permission"
	CmdShutdown            = "shutdown"
)

type ConnectCmd struct {
	Config Config
}

type PromptCmd struct {
	Text string
}

type CancelCmd struct{}

type DisconnectCmd struct{}

type RespondToPermissionCmd struct {
	ID             string
	Approved       bool
	Cancelled      bool
	SelectedOption string
}

// Resp is the uniform response shape delivered through the RPC fabric.
type Resp struct {
	SessionID  string
	StopReason string
}

// --- UI notifications (C5, SPEC_FULL.md §4.5) ---

// Notification is the tagged union of everything C2 publishes to the UI
// collaborator's fan-out channel. Exactly one of the typed fields is set,
// selected by Kind, following the dispatch-by-variant table in
// SPEC_FULL.md §4.2.
type Notification struct {
	Kind               string
	StatusChanged      *StatusChangedNotification
	Message            *MessageNotification
	TextChunk          *TextChunkNotification
	ThinkingChunk      *ThinkingChunkNotification
	ToolStarted        *ToolStartedNotification
	ToolCompleted      *ToolCompletedNotification
	PlanUpdated        *PlanUpdatedNotification
	SessionInfoUpdated *SessionInfoUpdatedNotification
	PermissionRequest  *PermissionRequestNotification
	Connected          *ConnectedNotification
	Disconnected       *DisconnectedNotification
}

const (
	NotifyStatusChanged      = "status_changed"
	NotifyMessage            = "message"
	NotifyTextChunk          = "text_chunk"
	NotifyThinkingChunk      = "thinking_chunk"
	NotifyToolStarted        = "tool_started"
	NotifyToolCompleted      = "tool_completed"
	NotifyPlanUpdated        = "plan_updated"
	NotifySessionInfoUpdated = "session_info_updated"
	NotifyPermissionRequest  = "permission_request"
	NotifyConnected          = "connected"
	NotifyDisconnected       = "disconnected"
)

type StatusChangedNotification struct {
	Status Status
}

// MessageRole distinguishes the synthetic "user message" notification
// emitted when a prompt is issued from agent-originated chunks.
type MessageRole string

const MessageRoleUser MessageRole = "user"

type MessageNotification struct {
	Role MessageRole
	Text string
}

type TextChunkNotification struct {
	Text string
}

type ThinkingChunkNotification struct {
	Text string
}

type ToolStartedNotification struct {
	ToolID string
	Name   string
	Input  string // pretty-printed raw_input
}

type ToolCompletedNotification struct {
	ToolID  string
	Name    string // not filled from tool-call updates; always empty
	Success bool
	Output  string // pretty-printed raw_output; the update's content blocks are not included
}

type PlanEntry struct {
	Content string
	Status  string
}

type PlanUpdatedNotification struct {
	Entries []PlanEntry
}

// SessionInfoUpdatedNotification keeps SPEC_FULL.md §12.2's supplemented
// Cwd field alongside spec.md's documented Title field.
type SessionInfoUpdatedNotification struct {
	Title string
	Cwd   string
}

type PermissionOptionView struct {
	ID          string
	Label       string
	Recommended bool
}

type PermissionRequestNotification struct {
	ID          string
	Description string
	Options     []PermissionOptionView
}

type ConnectedNotification struct {
	SessionID string
}

type DisconnectedNotification struct {
	Reason string
}

// --- terminal state (SPEC_FULL.md §12.4) ---

// TerminalLine is one line of buffered terminal output with a monotonic
// sequence number, letting the UI render partial output incrementally.
type TerminalLine struct {
	Seq  int64
	Text string
}

type TerminalExitStatus struct {
	ExitCode *int
	Signal   string
}

type TerminalState struct {
	Lines      []TerminalLine
	ExitStatus *TerminalExitStatus
}
