package messaging

import (
	"encoding/json"

	"github.com/quantdyne/breakout/internal/types"
	"github.com/quantdyne/breakout/pkg/errors"
)

// Envelope is the wire format: the queue name plus the event payload.
type Envelope struct {
	Queue string              `json:"queue"`
	Event types.BreakoutEvent `json:"event"`
}

// Encode serializes an envelope to JSON.
func Encode(queue string, event types.BreakoutEvent) ([]byte, error) {
	data, err := json.Marshal(Envelope{Queue: queue, Event: event})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePublishFailed, "failed to encode breakout event", err)
	}

	return data, nil
}

// Decode parses an envelope from JSON and validates the event.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode breakout event", err)
	}

	if err := env.Event.Validate(); err != nil {
		return Envelope{}, err
	}

	return env, nil
}
