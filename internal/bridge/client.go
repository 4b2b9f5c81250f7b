package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// UEClient is one connected Unreal-Editor plugin, exclusively owned by the
// registry (SPEC_FULL.md §3). Its outbound queue's send endpoint may be
// cheaply cloned by readers holding only the registry's read lock.
type UEClient struct {
	SessionID     string
	ProjectID     string
	ProjectPath   string
	ProjectName   string
	EngineVersion string
	Pid           int
	ConnectedAt   time.Time

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newUEClient(conn *websocket.Conn, frame HandshakeFrame, sessionID string) *UEClient {
	return &UEClient{
		SessionID:     sessionID,
		ProjectID:     frame.ProjectID,
		ProjectPath:   frame.ProjectPath,
		ProjectName:   frame.ProjectName,
		EngineVersion: frame.EngineVersion,
		Pid:           frame.Pid,
		ConnectedAt:   time.Now(),
		conn:          conn,
		send:          make(chan []byte, OutboundQueueSize),
	}
}

func (c *UEClient) view() ClientView {
	return ClientView{
		SessionID:     c.SessionID,
		ProjectID:     c.ProjectID,
		ProjectPath:   c.ProjectPath,
		ProjectName:   c.ProjectName,
		EngineVersion: c.EngineVersion,
		Pid:           c.Pid,
		ConnectedAt:   c.ConnectedAt,
	}
}

// enqueue attempts a non-blocking send onto the bounded outbound queue.
func (c *UEClient) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once, signalling the writer
// pump to terminate.
func (c *UEClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// registry is the C3 client registry, protected by a reader/writer lock:
// connect and disconnect take the write lock (from each connection's own
// handler goroutine); readers (the command dispatcher) take the read lock
// briefly.
type registry struct {
	mu      sync.RWMutex
	clients map[string]*UEClient
}

func newRegistry() *registry {
	return &registry{clients: make(map[string]*UEClient)}
}

func (r *registry) add(c *UEClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.SessionID] = c
}

func (r *registry) remove(sessionID string) (*UEClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[sessionID]
	if ok {
		delete(r.clients, sessionID)
	}
	return c, ok
}

func (r *registry) get(sessionID string) (*UEClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[sessionID]
	return c, ok
}

// any returns an unspecified client from the registry -- iteration order
// over a Go map is randomized per spec.md §9's documented ambiguity.
func (r *registry) any() (*UEClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		return c, true
	}
	return nil, false
}

func (r *registry) all() []*UEClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UEClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
