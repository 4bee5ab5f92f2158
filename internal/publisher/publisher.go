// Package publisher defines how run-completion notifications leave the process.
package publisher

import (
	"context"

	"go.opentelemetry.io/otel"
)

// Publisher sends a JSON-encodable payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributed payloads contribute message attributes, such as a run ID or
// status, that subscribers can filter on without decoding the body.
type Attributed interface {
	Attributes() map[string]string
}

// AttributesOf returns the payload's attributes, or nil.
func AttributesOf(payload any) map[string]string {
	a, ok := payload.(Attributed)
	if !ok {
		return nil
	}
	src := a.Attributes()
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MessageAttributes returns the payload's attributes plus the trace context
// of ctx injected by the global propagator, or nil when both are empty.
func MessageAttributes(ctx context.Context, payload any) map[string]string {
	attrs := AttributesOf(payload)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, &AttributeCarrier{Attrs: attrs})
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// AttributeCarrier implements propagation.TextMapCarrier for message
// attributes.
type AttributeCarrier struct {
	Attrs map[string]string
}

// Get returns the value stored under key.
func (c *AttributeCarrier) Get(key string) string {
	return c.Attrs[key]
}

// Set stores value under key.
func (c *AttributeCarrier) Set(key, value string) {
	c.Attrs[key] = value
}

// Keys lists the stored keys.
func (c *AttributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		keys = append(keys, k)
	}
	return keys
}
