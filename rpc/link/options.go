package link

import (
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/hashicorp/go-metrics"
)

// Option configures a Connection at construction time
type Option func(c *Connection)

// WithSerializer sets the serializer for content frames.
// The default is a JSON serializer over a fresh serializer.TypeRegistry
func WithSerializer(s serializer.ISerializer) Option {
	return func(c *Connection) {
		c.serializer = s
	}
}

// WithPool dispatches inbound frames on a shared pool. The connection registers
// itself as client but never closes the pool
func WithPool(p *DispatchPool) Option {
	return func(c *Connection) {
		c.pool = p
	}
}

// WithMetricSink sets the sink for link telemetry, default is metrics.Default()
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *Connection) {
		c.sink = ms
	}
}

// WithMetricLabels adds labels to every metric emitted by the connection
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *Connection) {
		c.labels = append(c.labels, labels...)
	}
}

// WithSecurity negotiates cfg in Initialize before any frame is exchanged
func WithSecurity(cfg transport.SecurityConfig) Option {
	return func(c *Connection) {
		c.security = &cfg
	}
}
