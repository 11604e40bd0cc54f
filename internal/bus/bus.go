package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrNoReplyTo is returned when responding to a message that was not a request.
	ErrNoReplyTo = errors.New("message has no reply subject")

	// ErrNoConsumer is returned when a work message has nobody to run it.
	ErrNoConsumer = errors.New("no consumer for work topic")

	// ErrBackpressure is returned when every consumer of a work topic is full.
	ErrBackpressure = errors.New("work queue full")
)

// New builds the bus named by cfg.Type: "channel" for a single process,
// "nats" to share work across instances.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
}
