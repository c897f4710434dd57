// Package messaging publishes confirmed breakout signals to the
// downstream order-placement queue.
package messaging

import (
	"context"

	"github.com/quantdyne/breakout/internal/types"
)

// Publisher delivers breakout events to a named queue. Delivery is
// at-least-once; the caller only records a breakout in its ledger when
// Publish returns nil.
type Publisher interface {
	Publish(ctx context.Context, queue string, event types.BreakoutEvent) error
	Close() error
}
