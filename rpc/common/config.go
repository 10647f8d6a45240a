package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Formatting helpers
// --------------------------------------------------------------------------

// configWriter renders configuration structs as aligned sections
type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) addSection(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) addField(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

func (w *configWriter) String() string { return w.sb.String() }

// --------------------------------------------------------------------------
// Connection configuration
// --------------------------------------------------------------------------

// DispatchMode selects where inbound frames are dispatched
type DispatchMode string

const (
	// DispatchInline runs handlers on the connection's read loop
	DispatchInline DispatchMode = "inline"
	// DispatchPool hands frames to the shared worker pool keyed by connection id
	DispatchPool DispatchMode = "pool"
)

// ConnectionConfig holds the per link parameters
type ConnectionConfig struct {
	// ReadBufferSize is the size of the buffer the read loop reads into
	ReadBufferSize int `toml:"read_buffer_size"`
	// SendBufferSize is the largest slice handed to a single transport write
	SendBufferSize int `toml:"send_buffer_size"`
	// RequestTimeout applies to SendRequest calls whose context has no deadline
	RequestTimeout time.Duration `toml:"request_timeout"`
	// MaxContentLength bounds a single content part or raw frame
	MaxContentLength int32 `toml:"max_content_length"`
	// Dispatch selects inline or pool dispatch
	Dispatch DispatchMode `toml:"dispatch"`
}

// DefaultConnectionConfig returns the default link parameters
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ReadBufferSize:   64 * 1024,
		SendBufferSize:   64 * 1024,
		RequestTimeout:   30 * time.Second,
		MaxContentLength: 64 << 20,
		Dispatch:         DispatchPool,
	}
}

// String returns a formatted string representation of the connection configuration
func (c *ConnectionConfig) String() string {
	w := &configWriter{}
	w.addSection("Connection")
	w.addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	w.addField("Send Buffer", fmt.Sprintf("%d bytes", c.SendBufferSize))
	w.addField("Request Timeout", c.RequestTimeout.String())
	w.addField("Max Content Length", fmt.Sprintf("%d bytes", c.MaxContentLength))
	w.addField("Dispatch", string(c.Dispatch))
	return w.String()
}

// --------------------------------------------------------------------------
// Worker pool configuration
// --------------------------------------------------------------------------

// PoolConfig holds the parameters of the adaptive worker pool
type PoolConfig struct {
	// MinThreads and MaxThreads bound the number of workers
	MinThreads int `toml:"min_threads"`
	MaxThreads int `toml:"max_threads"`
	// ClientsPerThread is the number of registered clients one worker is sized for
	ClientsPerThread int `toml:"clients_per_thread"`
	// Capacity is the number of pending items above which Enqueue blocks
	Capacity int `toml:"capacity"`
	// ScalingInterval is the period of the scaling tick
	ScalingInterval time.Duration `toml:"scaling_interval"`
	// IdleTimeout is the time a worker must be without work before it may be removed
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// StartProtection is the time after start during which a worker is never removed
	StartProtection time.Duration `toml:"start_protection"`
	// BoostBarrier is the number of pending items above the rolling peak that triggers a boost
	BoostBarrier int `toml:"boost_barrier"`
	// BoostCooldown is the minimum time between two boosts
	BoostCooldown time.Duration `toml:"boost_cooldown"`
	// StepDownCooldown is the minimum time between two boost step downs
	StepDownCooldown time.Duration `toml:"step_down_cooldown"`
	// ReshardOnGrow redistributes queued items when workers are added
	ReshardOnGrow bool `toml:"reshard_on_grow"`
}

// DefaultPoolConfig returns the default pool parameters
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinThreads:       2,
		MaxThreads:       32,
		ClientsPerThread: 16,
		Capacity:         16 * 1024,
		ScalingInterval:  250 * time.Millisecond,
		IdleTimeout:      10 * time.Second,
		StartProtection:  5 * time.Second,
		BoostBarrier:     256,
		BoostCooldown:    time.Second,
		StepDownCooldown: 5 * time.Second,
		ReshardOnGrow:    false,
	}
}

// Validate checks the pool parameters for consistency
func (c *PoolConfig) Validate() error {
	switch {
	case c.MinThreads < 1:
		return fmt.Errorf("pool: min threads must be at least 1, got %d", c.MinThreads)
	case c.MaxThreads < c.MinThreads:
		return fmt.Errorf("pool: max threads %d below min threads %d", c.MaxThreads, c.MinThreads)
	case c.ClientsPerThread < 1:
		return fmt.Errorf("pool: clients per thread must be at least 1, got %d", c.ClientsPerThread)
	case c.Capacity < 1:
		return fmt.Errorf("pool: capacity must be at least 1, got %d", c.Capacity)
	case c.ScalingInterval <= 0:
		return fmt.Errorf("pool: scaling interval must be positive, got %s", c.ScalingInterval)
	}
	return nil
}

// String returns a formatted string representation of the pool configuration
func (c *PoolConfig) String() string {
	w := &configWriter{}
	w.addSection("Worker Pool")
	w.addField("Threads", fmt.Sprintf("%d - %d", c.MinThreads, c.MaxThreads))
	w.addField("Clients Per Thread", strconv.Itoa(c.ClientsPerThread))
	w.addField("Capacity", strconv.Itoa(c.Capacity))
	w.addField("Scaling Interval", c.ScalingInterval.String())
	w.addField("Idle Timeout", c.IdleTimeout.String())
	w.addField("Start Protection", c.StartProtection.String())
	w.addField("Boost Barrier", strconv.Itoa(c.BoostBarrier))
	w.addField("Boost Cooldown", c.BoostCooldown.String())
	w.addField("Step Down Cooldown", c.StepDownCooldown.String())
	w.addField("Reshard On Grow", strconv.FormatBool(c.ReshardOnGrow))
	return w.String()
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SecurityMode selects how a link is secured before framing starts
type SecurityMode string

const (
	// SecurityNone uses the plain transport
	SecurityNone SecurityMode = "none"
	// SecurityTLS runs the whole link over TLS
	SecurityTLS SecurityMode = "tls"
	// SecurityAuthOnly performs a TLS handshake for authentication, then continues in plaintext
	SecurityAuthOnly SecurityMode = "auth-only"
)

// TransportConfig holds the socket and security parameters
type TransportConfig struct {
	// Endpoint is the address to listen on or connect to
	Endpoint string `toml:"endpoint"`
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `toml:"dial_timeout"`
	// TCP specific options
	TCPNoDelay   bool          `toml:"tcp_no_delay"`
	TCPKeepAlive time.Duration `toml:"tcp_keep_alive"`
	TCPLingerSec int           `toml:"tcp_linger_sec"`
	// Socket buffer sizes, 0 keeps the OS default
	SocketReadBuffer  int `toml:"socket_read_buffer"`
	SocketWriteBuffer int `toml:"socket_write_buffer"`
	// Security settings
	Security           SecurityMode `toml:"security"`
	CertFile           string       `toml:"cert_file"`
	KeyFile            string       `toml:"key_file"`
	CAFile             string       `toml:"ca_file"`
	ServerName         string       `toml:"server_name"`
	InsecureSkipVerify bool         `toml:"insecure_skip_verify"`
}

// DefaultTransportConfig returns the default transport parameters
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Endpoint:          "localhost:8080",
		DialTimeout:       5 * time.Second,
		TCPNoDelay:        true,
		TCPKeepAlive:      30 * time.Second,
		TCPLingerSec:      -1,
		SocketReadBuffer:  512 * 1024,
		SocketWriteBuffer: 512 * 1024,
		Security:          SecurityNone,
	}
}

// String returns a formatted string representation of the transport configuration
func (c *TransportConfig) String() string {
	w := &configWriter{}
	w.addSection("Transport")
	w.addField("Endpoint", c.Endpoint)
	w.addField("Dial Timeout", c.DialTimeout.String())
	w.addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	w.addField("TCP Keep Alive", c.TCPKeepAlive.String())
	w.addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))
	w.addField("Socket Read Buffer", fmt.Sprintf("%d bytes", c.SocketReadBuffer))
	w.addField("Socket Write Buffer", fmt.Sprintf("%d bytes", c.SocketWriteBuffer))
	w.addSection("Security")
	w.addField("Mode", string(c.Security))
	if c.Security != SecurityNone && c.Security != "" {
		w.addField("Certificate", c.CertFile)
		w.addField("Key", c.KeyFile)
		w.addField("CA", c.CAFile)
		w.addField("Server Name", c.ServerName)
		w.addField("Skip Verify", strconv.FormatBool(c.InsecureSkipVerify))
	}
	return w.String()
}

// --------------------------------------------------------------------------
// Metrics configuration
// --------------------------------------------------------------------------

// MetricsConfig controls telemetry export
type MetricsConfig struct {
	// ServiceName prefixes all link metric keys
	ServiceName string `toml:"service_name"`
	// Endpoint serves Prometheus metrics when not empty (e.g. ":9090")
	Endpoint string `toml:"endpoint"`
}

// DefaultMetricsConfig returns the default metrics parameters
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{ServiceName: "dmsg"}
}

// String returns a formatted string representation of the metrics configuration
func (c *MetricsConfig) String() string {
	w := &configWriter{}
	w.addSection("Metrics")
	w.addField("Service Name", c.ServiceName)
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = "disabled"
	}
	w.addField("Endpoint", endpoint)
	return w.String()
}

// --------------------------------------------------------------------------
// Complete configuration
// --------------------------------------------------------------------------

// Config bundles everything a dmsg process needs
type Config struct {
	LogLevel   string           `toml:"log_level"`
	Connection ConnectionConfig `toml:"connection"`
	Pool       PoolConfig       `toml:"pool"`
	Transport  TransportConfig  `toml:"transport"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// DefaultConfig returns the complete default configuration
func DefaultConfig() Config {
	return Config{
		LogLevel:   "info",
		Connection: DefaultConnectionConfig(),
		Pool:       DefaultPoolConfig(),
		Transport:  DefaultTransportConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// String returns a formatted string representation of the complete configuration
func (c *Config) String() string {
	w := &configWriter{}
	w.addSection("Logging")
	w.addField("Log Level", c.LogLevel)
	return w.String() + c.Connection.String() + c.Pool.String() + c.Transport.String() + c.Metrics.String()
}
