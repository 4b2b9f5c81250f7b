// Package rpc implements the request/response fabric shared by the ACP
// runtime, the UE bridge, and the MCP server: a typed command channel, an
// id-keyed pending-response map, and a worker loop that owns an async
// executor. Each component instantiates Handle over its own command and
// response types; the fabric itself carries no domain knowledge.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/neostackide/idecore/internal/common/logger"
	"go.uber.org/zap"
)

// RequestID is the fabric's own 64-bit correlation id. It is distinct from
// any on-wire correlation id (e.g. the UE bridge's UUID requestId) — see
// GLOSSARY in SPEC_FULL.md.
type RequestID uint64

// Result carries either a value or an error, delivered exactly once to a
// PendingResponder.
type Result[Resp any] struct {
	Value Resp
	Err   error
}

// PendingResponder is a one-shot delivery target: either a callback or a
// buffered channel of capacity 1. Invoked exactly once.
type PendingResponder[Resp any] struct {
	once sync.Once
	ch   chan Result[Resp]
	cb   func(Result[Resp])
}

func newChannelResponder[Resp any]() *PendingResponder[Resp] {
	return &PendingResponder[Resp]{ch: make(chan Result[Resp], 1)}
}

func newCallbackResponder[Resp any](cb func(Result[Resp])) *PendingResponder[Resp] {
	return &PendingResponder[Resp]{cb: cb}
}

// deliver invokes the responder exactly once. Subsequent calls are no-ops.
func (p *PendingResponder[Resp]) deliver(r Result[Resp]) {
	p.once.Do(func() {
		if p.cb != nil {
			p.cb(r)
			return
		}
		p.ch <- r
	})
}

// envelope is what actually travels down the command channel: the command
// itself, plus an optional request id when a reply is expected.
type envelope[Cmd any] struct {
	id       RequestID
	hasID    bool
	cmd      Cmd
	shutdown bool
}

// ErrClosed is delivered to every pending responder still registered when
// the handle shuts down.
var ErrClosed = fmt.Errorf("rpc: handle closed")

// Handle is the shared, cheap-to-clone handle described in SPEC_FULL.md
// §3: a send endpoint for Cmd, a monotonic request counter, and a mapping
// RequestID -> PendingResponder[Resp]. The receive endpoint is held by the
// worker loop (see Next).
type Handle[Cmd any, Resp any] struct {
	commands chan envelope[Cmd]
	counter  atomic.Uint64

	mu      sync.Mutex
	pending map[RequestID]*PendingResponder[Resp]

	log *logger.Logger
}

// New creates a Handle with the given command-channel buffer size.
func New[Cmd any, Resp any](log *logger.Logger, buffer int) *Handle[Cmd, Resp] {
	return &Handle[Cmd, Resp]{
		commands: make(chan envelope[Cmd], buffer),
		pending:  make(map[RequestID]*PendingResponder[Resp]),
		log:      log,
	}
}

// SendAsync enqueues a command with no reply expected.
func (h *Handle[Cmd, Resp]) SendAsync(cmd Cmd) {
	h.commands <- envelope[Cmd]{cmd: cmd}
}

// CallAsync allocates a fresh RequestID, registers cb under it, and enqueues
// the command. cb is invoked exactly once: by a matching Deliver, or with
// ErrClosed on shutdown.
func (h *Handle[Cmd, Resp]) CallAsync(cmd Cmd, cb func(Result[Resp])) RequestID {
	id := RequestID(h.counter.Add(1))
	h.register(id, newCallbackResponder(cb))
	h.commands <- envelope[Cmd]{id: id, hasID: true, cmd: cmd}
	return id
}

// CallBlocking behaves like CallAsync but blocks the caller on a bounded
// (capacity 1) channel until the response arrives, ctx is cancelled, or the
// handle shuts down.
func (h *Handle[Cmd, Resp]) CallBlocking(ctx context.Context, cmd Cmd) (Resp, error) {
	id := RequestID(h.counter.Add(1))
	responder := newChannelResponder[Resp]()
	h.register(id, responder)

	select {
	case h.commands <- envelope[Cmd]{id: id, hasID: true, cmd: cmd}:
	case <-ctx.Done():
		h.drop(id)
		var zero Resp
		return zero, ctx.Err()
	}

	select {
	case r := <-responder.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		h.drop(id)
		var zero Resp
		return zero, ctx.Err()
	}
}

func (h *Handle[Cmd, Resp]) register(id RequestID, responder *PendingResponder[Resp]) {
	h.mu.Lock()
	h.pending[id] = responder
	h.mu.Unlock()
}

func (h *Handle[Cmd, Resp]) drop(id RequestID) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// Deliver is called worker-side to resolve a pending call. Removes the
// entry and invokes its responder exactly once; idempotent (logged, not
// erroring) if the id is absent — SPEC_FULL.md §4.1.
func (h *Handle[Cmd, Resp]) Deliver(id RequestID, value Resp, err error) {
	h.mu.Lock()
	responder, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()

	if !ok {
		h.log.Warn("deliver for unknown request id", zap.Uint64("request_id", uint64(id)))
		return
	}
	responder.deliver(Result[Resp]{Value: value, Err: err})
}

// Shutdown enqueues a shutdown sentinel. The worker loop drains remaining
// commands and then calls DrainPending to complete every responder still
// registered with ErrClosed.
func (h *Handle[Cmd, Resp]) Shutdown() {
	h.commands <- envelope[Cmd]{shutdown: true}
}

// DrainPending completes every still-registered responder with ErrClosed.
// Called by the worker loop once it has observed the shutdown sentinel.
func (h *Handle[Cmd, Resp]) DrainPending() {
	h.mu.Lock()
	remaining := h.pending
	h.pending = make(map[RequestID]*PendingResponder[Resp])
	h.mu.Unlock()

	for id, responder := range remaining {
		h.log.Debug("completing pending responder on shutdown", zap.Uint64("request_id", uint64(id)))
		var zero Resp
		responder.deliver(Result[Resp]{Value: zero, Err: ErrClosed})
	}
}

// Commands returns the receive endpoint of the command channel. Only the
// worker loop that owns this Handle's executor should read from it.
func (h *Handle[Cmd, Resp]) Commands() <-chan envelope[Cmd] {
	return h.commands
}

// Envelope describes one dequeued command for the worker loop to act on.
type Envelope[Cmd any] struct {
	ID       RequestID
	HasID    bool
	Cmd      Cmd
	Shutdown bool
}

// Next reads the next command off the channel in a worker-loop-friendly
// shape. Returns ok=false if the channel is closed (not used in normal
// operation; components close via the Shutdown sentinel instead).
func (h *Handle[Cmd, Resp]) Next() (Envelope[Cmd], bool) {
	e, ok := <-h.commands
	if !ok {
		return Envelope[Cmd]{}, false
	}
	return Envelope[Cmd]{ID: e.id, HasID: e.hasID, Cmd: e.cmd, Shutdown: e.shutdown}, true
}
