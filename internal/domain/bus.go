package domain

import "context"

// EventBus carries async generation requests, case lifecycle events and
// bus-backed LLM calls. The channel bus serves a single process; NATS
// spreads work across instances.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers messages on topic to handler until the returned
	// subscription is cancelled. Work topics reach one subscriber each.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks for a single Respond.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)
	Respond(ctx context.Context, msg *Message, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation sends.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// MetaTraceID carries the publishing request's trace ID to consumers.
const MetaTraceID = "trace_id"

// Subscription is an active Subscribe registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects "channel" (in-process) or "nats".
type EventBusConfig struct {
	Type string `mapstructure:"type"`

	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup load-balances work topics across Kestrel instances.
	NATSQueueGroup string `mapstructure:"nats_queue_group"`
}

// Case workflow topics.
const (
	TopicCaseGenerate  = "kestrel.case.generate"
	TopicCaseGenerated = "kestrel.case.generated"
	TopicCaseApproved  = "kestrel.case.approved"
	TopicCaseRejected  = "kestrel.case.rejected"
	TopicLLMGenerate   = "kestrel.llm.generate"
)

// IsWorkTopic reports whether each message on topic must be handled by
// exactly one consumer rather than broadcast to every subscriber.
func IsWorkTopic(topic string) bool {
	return topic == TopicCaseGenerate || topic == TopicLLMGenerate
}

type traceIDKey struct{}

// WithTraceID returns ctx carrying id. An empty id leaves ctx unchanged.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFrom returns the trace ID stored by WithTraceID.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
