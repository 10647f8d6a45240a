package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/ValentinKolb/dMsg/rpc/server"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/spf13/cobra"
)

var (
	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start a dMsg server",
		Long: `Start a dMsg server. Every request that no call method answers is echoed back,
calls are served by the builtin methods echo, upper, sum, stats and raw.echo.
The configuration can be set via command line flags or environment variables.
The format of the environment variables is DMSG_<flag> (e.g. DMSG_POOL_MAX_THREADS=64)`,
		RunE: run,
	}
)

func init() {
	key := "metrics-interval"
	ServeCmd.Flags().Duration(key, 10*time.Second, cmdUtil.WrapString("Aggregation interval of the in memory link metrics. Send SIGUSR1 to dump them"))
}

// run starts the dMsg server and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	cfg, err := cmdUtil.GetConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := cmdUtil.NewTypeRegistry()
	if err != nil {
		return err
	}
	s, err := cmdUtil.GetSerializer(registry)
	if err != nil {
		return err
	}
	connector, err := cmdUtil.GetServerConnector(cfg)
	if err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("metrics-interval")
	sink, err := setupLinkMetrics(cfg.Metrics, interval)
	if err != nil {
		return err
	}

	cmdUtil.Logger.Infof("starting dMsg server")
	cmdUtil.Logger.Infof(cfg.String())

	dispatcher := newDispatcher()
	accepted := vm.NewCounter("dmsg_links_accepted_total")

	srv := server.NewServer(cfg, connector,
		server.WithLinkOptions(link.WithSerializer(s), link.WithMetricSink(sink)),
		server.WithConnectHandler(func(c *link.Connection) {
			accepted.Inc()
			dispatcher.Attach(c)
			attachEcho(c)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := srv.Listen(); err != nil {
		return err
	}
	if cfg.Metrics.Endpoint != "" {
		go serveMetrics(ctx, cfg.Metrics.Endpoint, srv)
	}
	return srv.Serve(ctx)
}

// attachEcho answers every request no handler took with its own payload
func attachEcho(c *link.Connection) {
	c.OnPayloadReceived(func(dc *link.DispatchContext, payload any) {
		if dc.IsRequest() && !dc.Handled() {
			if err := dc.Respond(payload); err != nil {
				cmdUtil.Logger.Debugf("echo on link %d failed: %v", c.ID(), err)
			}
		}
	})
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// setupLinkMetrics installs an in memory go-metrics sink as global sink
func setupLinkMetrics(cfg common.MetricsConfig, interval time.Duration) (metrics.MetricSink, error) {
	inm := metrics.NewInmemSink(interval, 6*interval)
	metrics.DefaultInmemSignal(inm)

	conf := metrics.DefaultConfig(cfg.ServiceName)
	conf.EnableHostname = false
	conf.EnableServiceLabel = true
	if _, err := metrics.NewGlobal(conf, inm); err != nil {
		return nil, fmt.Errorf("failed to set up link metrics: %v", err)
	}
	return inm, nil
}

// serveMetrics exposes the pool and link gauges in Prometheus format until ctx is done
func serveMetrics(ctx context.Context, endpoint string, srv *server.Server) {
	set := vm.NewSet()
	set.NewGauge("dmsg_links_open", func() float64 { return float64(srv.Connections()) })
	if p := srv.Pool(); p != nil {
		set.NewGauge("dmsg_pool_threads", func() float64 { return float64(p.ThreadCount()) })
		set.NewGauge("dmsg_pool_pending", func() float64 { return float64(p.Pending()) })
		set.NewGauge("dmsg_pool_clients", func() float64 { return float64(p.Clients()) })
		set.NewGauge("dmsg_pool_processed", func() float64 { return float64(p.Stats().Processed) })
		set.NewGauge("dmsg_pool_latency_p99_us", func() float64 { return p.Stats().LatencyP99 })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		set.WritePrometheus(w)
		vm.WritePrometheus(w, true)
	})
	httpServer := &http.Server{Addr: endpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	cmdUtil.Logger.Infof("serving metrics on %s/metrics", endpoint)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cmdUtil.Logger.Errorf("metrics endpoint failed: %v", err)
	}
}
