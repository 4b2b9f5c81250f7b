// Package events implements the optional, additive NATS mirror described
// in SPEC_FULL.md §12.3: when EventsConfig.Namespace is non-empty, every C2
// (acp.Notification), C3 (bridge.Notification), and C4 (mcp.Notification)
// fan-out is republished to a NATS subject under that namespace. Nothing in
// C1-C5's in-process delivery depends on this; the mirror only ever
// observes the same channels the UI collaborator already reads.
//
// Grounded on apps/backend/internal/events/bus/nats.go's connection-option
// set and Publish pattern.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/neostackide/idecore/internal/acp"
	"github.com/neostackide/idecore/internal/bridge"
	"github.com/neostackide/idecore/internal/common/logger"
	"github.com/neostackide/idecore/internal/mcp"
)

// Mirror republishes C1-C5 notifications onto NATS subjects scoped under a
// namespace. Disabled entirely (Connect never called) when no namespace is
// configured.
type Mirror struct {
	conn      *nats.Conn
	namespace string
	log       *logger.Logger
}

// Connect dials NATS. Returns an error the caller should treat as
// non-fatal: the mirror is additive, so a dead NATS server should not take
// down the integration core (SPEC_FULL.md §12.3).
func Connect(url, namespace string, log *logger.Logger) (*Mirror, error) {
	conn, err := nats.Connect(url,
		nats.Name("idecore-mirror"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS mirror disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS mirror reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS mirror error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: failed to connect to NATS: %w", err)
	}
	return &Mirror{conn: conn, namespace: namespace, log: log.WithFields(zap.String("component", "events_mirror"))}, nil
}

// Close drains and closes the underlying connection.
func (m *Mirror) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.log.Warn("error draining NATS mirror connection", zap.Error(err))
		m.conn.Close()
	}
}

func (m *Mirror) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Error("failed to marshal mirrored notification", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := m.conn.Publish(m.namespace+"."+subject, data); err != nil {
		m.log.Warn("failed to publish mirrored notification", zap.String("subject", subject), zap.Error(err))
	}
}

// MirrorACP republishes every acp.Notification under
// "<namespace>.acp.<kind>" until ch is closed or done fires.
func (m *Mirror) MirrorACP(done <-chan struct{}, ch <-chan acp.Notification) {
	go func() {
		for {
			select {
			case <-done:
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				m.publish("acp."+n.Kind, n)
			}
		}
	}()
}

// MirrorBridge republishes every bridge.Notification under
// "<namespace>.bridge.<kind>".
func (m *Mirror) MirrorBridge(done <-chan struct{}, ch <-chan bridge.Notification) {
	go func() {
		for {
			select {
			case <-done:
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				m.publish("bridge."+n.Kind, n)
			}
		}
	}()
}

// MirrorMCP republishes every mcp.Notification under
// "<namespace>.mcp.<kind>".
func (m *Mirror) MirrorMCP(done <-chan struct{}, ch <-chan mcp.Notification) {
	go func() {
		for {
			select {
			case <-done:
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				m.publish("mcp."+n.Kind, n)
			}
		}
	}()
}
