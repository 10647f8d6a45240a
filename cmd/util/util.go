package util

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/dMsg/rpc/call"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/ValentinKolb/dMsg/rpc/transport/quic"
	"github.com/ValentinKolb/dMsg/rpc/transport/tcp"
	"github.com/ValentinKolb/dMsg/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "dmsg"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupFlags adds the flags shared by all link commands. Defaults come from common.DefaultConfig
func SetupFlags(cmd *cobra.Command) {
	d := common.DefaultConfig()
	f := cmd.PersistentFlags()

	f.String("config", "", WrapString("Optional TOML configuration file (see dmsg config). Flags and environment variables override its values"))
	f.String("log-level", d.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	f.String("serializer", "json", WrapString("Serializer to use (json, gob, binary). binary only encodes scalars and bytes, calls need json or gob"))
	f.String("transport", "tcp", WrapString("Transport to use (tcp, unix, quic)"))

	// transport
	f.String("endpoint", d.Transport.Endpoint, WrapString("The address to listen on or connect to (e.g. localhost:8080, /tmp/dmsg.sock)"))
	f.Duration("dial-timeout", d.Transport.DialTimeout, WrapString("Timeout for connection establishment and security handshake"))
	f.Bool("tcp-nodelay", d.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (tcp only)"))
	f.Duration("tcp-keepalive", d.Transport.TCPKeepAlive, WrapString("The keepalive interval, 0 disables keepalive (tcp only)"))
	f.Int("tcp-linger", d.Transport.TCPLingerSec, WrapString("The linger time in seconds, negative keeps the OS default (tcp only)"))
	f.Int("socket-read-buffer", d.Transport.SocketReadBuffer/1024, WrapString("The socket read buffer size in KB, 0 keeps the OS default"))
	f.Int("socket-write-buffer", d.Transport.SocketWriteBuffer/1024, WrapString("The socket write buffer size in KB, 0 keeps the OS default"))

	// security
	f.String("security", string(d.Transport.Security), WrapString("Link security mode (none, tls, auth-only). quic is always encrypted"))
	f.String("cert-file", "", WrapString("PEM certificate file"))
	f.String("key-file", "", WrapString("PEM private key file"))
	f.String("ca-file", "", WrapString("PEM CA file used to verify the peer. On the server it makes client certificates mandatory"))
	f.String("server-name", "", WrapString("Expected server name in the server certificate (client only)"))
	f.Bool("insecure-skip-verify", false, WrapString("Skip verification of the server certificate (client only, for testing)"))

	// connection
	f.Int("read-buffer", d.Connection.ReadBufferSize/1024, WrapString("Size of the link read buffer in KB"))
	f.Int("send-buffer", d.Connection.SendBufferSize/1024, WrapString("Largest slice handed to a single transport write in KB"))
	f.Duration("request-timeout", d.Connection.RequestTimeout, WrapString("Timeout of requests without own deadline"))
	f.Int32("max-content-length", d.Connection.MaxContentLength, WrapString("Upper bound of a single content part in bytes"))
	f.String("dispatch", string(d.Connection.Dispatch), WrapString("Where handlers run (inline, pool)"))

	// pool
	f.Int("pool-min-threads", d.Pool.MinThreads, WrapString("Minimum number of dispatch workers"))
	f.Int("pool-max-threads", d.Pool.MaxThreads, WrapString("Maximum number of dispatch workers"))
	f.Int("pool-clients-per-thread", d.Pool.ClientsPerThread, WrapString("Number of links one dispatch worker is sized for"))
	f.Int("pool-capacity", d.Pool.Capacity, WrapString("Pending items above which the read loops are paused"))
	f.Bool("pool-reshard", d.Pool.ReshardOnGrow, WrapString("Redistribute queued items when workers are added"))

	// metrics
	f.String("service-name", d.Metrics.ServiceName, WrapString("Prefix of all link metric keys"))
	f.String("metrics-endpoint", d.Metrics.Endpoint, WrapString("Serve Prometheus metrics on this address (e.g. :9090), empty disables the endpoint"))
}

// InitConfig loads .env files and sets up the environment binding of viper
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// GetConfig builds the configuration from the defaults, the optional TOML file and
// all flags or environment variables that were set explicitly
func GetConfig(cmd *cobra.Command) (common.Config, error) {
	cfg := common.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
	}

	o := overrides{flags: cmd.Flags()}
	o.string("log-level", func(v string) { cfg.LogLevel = v })

	o.string("endpoint", func(v string) { cfg.Transport.Endpoint = v })
	o.duration("dial-timeout", func(v time.Duration) { cfg.Transport.DialTimeout = v })
	o.bool("tcp-nodelay", func(v bool) { cfg.Transport.TCPNoDelay = v })
	o.duration("tcp-keepalive", func(v time.Duration) { cfg.Transport.TCPKeepAlive = v })
	o.int("tcp-linger", func(v int) { cfg.Transport.TCPLingerSec = v })
	o.int("socket-read-buffer", func(v int) { cfg.Transport.SocketReadBuffer = v * 1024 })
	o.int("socket-write-buffer", func(v int) { cfg.Transport.SocketWriteBuffer = v * 1024 })

	o.string("security", func(v string) { cfg.Transport.Security = common.SecurityMode(v) })
	o.string("cert-file", func(v string) { cfg.Transport.CertFile = v })
	o.string("key-file", func(v string) { cfg.Transport.KeyFile = v })
	o.string("ca-file", func(v string) { cfg.Transport.CAFile = v })
	o.string("server-name", func(v string) { cfg.Transport.ServerName = v })
	o.bool("insecure-skip-verify", func(v bool) { cfg.Transport.InsecureSkipVerify = v })

	o.int("read-buffer", func(v int) { cfg.Connection.ReadBufferSize = v * 1024 })
	o.int("send-buffer", func(v int) { cfg.Connection.SendBufferSize = v * 1024 })
	o.duration("request-timeout", func(v time.Duration) { cfg.Connection.RequestTimeout = v })
	o.int("max-content-length", func(v int) { cfg.Connection.MaxContentLength = int32(v) })
	o.string("dispatch", func(v string) { cfg.Connection.Dispatch = common.DispatchMode(v) })

	o.int("pool-min-threads", func(v int) { cfg.Pool.MinThreads = v })
	o.int("pool-max-threads", func(v int) { cfg.Pool.MaxThreads = v })
	o.int("pool-clients-per-thread", func(v int) { cfg.Pool.ClientsPerThread = v })
	o.int("pool-capacity", func(v int) { cfg.Pool.Capacity = v })
	o.bool("pool-reshard", func(v bool) { cfg.Pool.ReshardOnGrow = v })

	o.string("service-name", func(v string) { cfg.Metrics.ServiceName = v })
	o.string("metrics-endpoint", func(v string) { cfg.Metrics.Endpoint = v })

	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NewTypeRegistry returns the registry shared by all cli commands
func NewTypeRegistry() (*serializer.TypeRegistry, error) {
	r := serializer.NewTypeRegistry()
	if err := call.RegisterTypes(r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetSerializer creates the configured serializer
func GetSerializer(r *serializer.TypeRegistry) (serializer.ISerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(r), nil
	case "gob":
		return serializer.NewGOBSerializer(r), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetClientConnector creates the configured client connector
func GetClientConnector(cfg common.Config) (transport.IClientConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewClientConnector(cfg.Transport), nil
	case "unix":
		return unix.NewClientConnector(cfg.Transport), nil
	case "quic":
		tlsCfg, err := transport.LoadTLSConfig(cfg.Transport, false)
		if err != nil {
			return nil, err
		}
		return quic.NewClientConnector(cfg.Transport, tlsCfg), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerConnector creates the configured server connector
func GetServerConnector(cfg common.Config) (transport.IServerConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewServerConnector(cfg.Transport), nil
	case "unix":
		return unix.NewServerConnector(cfg.Transport), nil
	case "quic":
		tlsCfg, err := transport.LoadTLSConfig(cfg.Transport, true)
		if err != nil {
			return nil, err
		}
		return quic.NewServerConnector(cfg.Transport, tlsCfg), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// overrides applies viper values of keys that were set by flag or environment
type overrides struct {
	flags *pflag.FlagSet
}

func (o overrides) set(key string) bool {
	if f := o.flags.Lookup(key); f != nil && f.Changed {
		return true
	}
	env := strings.ToUpper(EnvPrefix + "_" + strings.ReplaceAll(key, "-", "_"))
	_, ok := os.LookupEnv(env)
	return ok
}

func (o overrides) string(key string, apply func(string)) {
	if o.set(key) {
		apply(viper.GetString(key))
	}
}

func (o overrides) int(key string, apply func(int)) {
	if o.set(key) {
		apply(viper.GetInt(key))
	}
}

func (o overrides) bool(key string, apply func(bool)) {
	if o.set(key) {
		apply(viper.GetBool(key))
	}
}

func (o overrides) duration(key string, apply func(time.Duration)) {
	if o.set(key) {
		apply(viper.GetDuration(key))
	}
}

func validate(cfg *common.Config) error {
	switch cfg.Connection.Dispatch {
	case common.DispatchInline, common.DispatchPool:
	default:
		return fmt.Errorf("invalid dispatch mode %q (expected inline or pool)", cfg.Connection.Dispatch)
	}
	switch cfg.Transport.Security {
	case common.SecurityNone, common.SecurityTLS, common.SecurityAuthOnly:
	default:
		return fmt.Errorf("invalid security mode %q (expected none, tls or auth-only)", cfg.Transport.Security)
	}
	if cfg.Connection.ReadBufferSize <= 0 || cfg.Connection.SendBufferSize <= 0 {
		return fmt.Errorf("read and send buffer must be positive")
	}
	return cfg.Pool.Validate()
}
