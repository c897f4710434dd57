package messaging

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// WebSocketPublisher publishes envelopes over a WebSocket connection.
// The connection is dialed lazily on first publish and re-dialed once
// per publish attempt after a write failure.
type WebSocketPublisher struct {
	url  string
	log  *logger.Logger
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketPublisher creates a publisher for the given ws:// or
// wss:// endpoint.
func NewWebSocketPublisher(url string, log *logger.Logger) *WebSocketPublisher {
	return &WebSocketPublisher{
		url: url,
		log: log,
	}
}

// Publish encodes the event and writes it to the socket. A failed
// write drops the connection and retries once on a fresh dial; the
// event is only considered delivered when the write succeeds.
func (p *WebSocketPublisher) Publish(ctx context.Context, queue string, event types.BreakoutEvent) error {
	data, err := Encode(queue, event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	writeErr := p.writeLocked(ctx, data)
	if writeErr == nil {
		return nil
	}

	p.log.Warn("publish write failed, reconnecting",
		zap.String("queue", queue),
		zap.Error(writeErr))
	p.closeLocked()

	if err := p.writeLocked(ctx, data); err != nil {
		return errors.Wrapf(errors.ErrCodePublishFailed, err, "failed to publish to queue %s", queue)
	}

	return nil
}

func (p *WebSocketPublisher) writeLocked(ctx context.Context, data []byte) error {
	if p.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
		if err != nil {
			return errors.Wrapf(errors.ErrCodePublishFailed, err, "failed to dial %s", p.url)
		}

		p.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
	}

	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *WebSocketPublisher) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close shuts the connection down.
func (p *WebSocketPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()

	return nil
}

var _ Publisher = (*WebSocketPublisher)(nil)
