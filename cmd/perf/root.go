package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/cmd/util"
	libUtil "github.com/ValentinKolb/dMsg/lib/util"
	"github.com/ValentinKolb/dMsg/rpc/call"
	"github.com/ValentinKolb/dMsg/rpc/client"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dMsg servers",
		Long: `Open a number of links to a dmsg server and measure the throughput of
requests, large requests, calls and one way sends. The links share one
dispatch pool, like the links of a server do.`,
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfLinks            = 4
	perfNumThreads       = 10
	perfLargeValueSizeKB = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. request,call)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Parallelism multiplier of the benchmark (goroutines per CPU)"))
	key = "links"
	PerfCmd.Flags().Int(key, 4, util.WrapString("Number of links to open"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How large the payload of the request-large test should be (in KB)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLinks = viper.GetInt("links")
	perfNumThreads = viper.GetInt("threads")
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	if skip := viper.GetString("skip"); skip != "" {
		perfSkip = strings.Split(skip, ",")
	}
	if perfLinks < 1 {
		return fmt.Errorf("links must be at least 1, got %d", perfLinks)
	}
	return nil
}

// benchmark is one measured operation, run on the link chosen for the calling goroutine
type benchmark struct {
	name string
	op   func(ctx context.Context, c *link.Connection) error
}

// result is the outcome of one benchmark
type result struct {
	name     string
	bench    testing.BenchmarkResult
	perLink  libUtil.Stats
	failures int64
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := util.GetConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for dMsg servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Links: %d, Threads: %d\n", perfLinks, perfNumThreads)
	fmt.Println()

	links, pool, err := openLinks(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range links {
			_ = c.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}()

	large := make([]byte, perfLargeValueSizeKB*1024)
	benchmarks := []benchmark{
		{"request", func(ctx context.Context, c *link.Connection) error {
			_, err := c.SendRequest(ctx, "ping")
			return err
		}},
		{"request-large", func(ctx context.Context, c *link.Connection) error {
			_, err := c.SendRequest(ctx, large)
			return err
		}},
		{"call", func(ctx context.Context, c *link.Connection) error {
			_, err := call.InvokeAs[string](ctx, c, "upper", "ping")
			return err
		}},
		{"call-multi", func(ctx context.Context, c *link.Connection) error {
			_, err := call.Invoke(ctx, c, "sum", 1, 2, 3, 4)
			return err
		}},
		{"send", func(ctx context.Context, c *link.Connection) error {
			return c.SendWait(ctx, "ping")
		}},
	}

	fmt.Println("starting tests...")
	results := make([]result, 0, len(benchmarks))
	for _, b := range benchmarks {
		if shouldSkip(b.name) {
			results = append(results, result{name: b.name})
			printResult(results[len(results)-1])
			continue
		}
		r := runBenchmark(b, links, cfg.Connection.RequestTimeout)
		results = append(results, r)
		printResult(r)
	}

	if pool != nil {
		st := pool.Stats()
		fmt.Printf("\nclient dispatch pool: %d threads, %d processed, latency mean %.0fµs p99 %.0fµs\n",
			st.Threads, st.Processed, st.LatencyMean, st.LatencyP99)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// openLinks dials perfLinks links that share one dispatch pool
func openLinks(ctx context.Context, cfg common.Config) ([]*link.Connection, *link.DispatchPool, error) {
	registry, err := util.NewTypeRegistry()
	if err != nil {
		return nil, nil, err
	}
	s, err := util.GetSerializer(registry)
	if err != nil {
		return nil, nil, err
	}
	connector, err := util.GetClientConnector(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []link.Option{link.WithSerializer(s)}
	var pool *link.DispatchPool
	if cfg.Connection.Dispatch == common.DispatchPool {
		pool = link.NewDispatchPool(cfg.Pool)
		if err := pool.Initialize(); err != nil {
			return nil, nil, err
		}
		opts = append(opts, link.WithPool(pool))
	}

	links := make([]*link.Connection, 0, perfLinks)
	for i := 0; i < perfLinks; i++ {
		c, err := client.Dial(ctx, connector, cfg, opts...)
		if err != nil {
			for _, open := range links {
				_ = open.Close()
			}
			if pool != nil {
				pool.Close()
			}
			return nil, nil, err
		}
		links = append(links, c)
	}
	return links, pool, nil
}

// runBenchmark spreads the parallel goroutines round robin over the links
func runBenchmark(b benchmark, links []*link.Connection, timeout time.Duration) result {
	var failures atomic.Int64
	var ops []atomic.Int64

	bench := testing.Benchmark(func(tb *testing.B) {
		// testing.Benchmark calls this function repeatedly, the last run counts
		ops = make([]atomic.Int64, len(links))
		failures.Store(0)
		var next atomic.Int64

		tb.SetParallelism(perfNumThreads)
		tb.ResetTimer()

		tb.RunParallel(func(pb *testing.PB) {
			i := int(next.Add(1)-1) % len(links)
			c := links[i]
			for pb.Next() {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				if err := b.op(ctx, c); err != nil {
					if failures.Add(1) == 1 {
						util.Logger.Warningf("(%s) - operation failed: %v", b.name, err)
					}
				}
				cancel()
				ops[i].Add(1)
			}
		})
	})

	perLink := make([]float64, len(ops))
	for i := range ops {
		perLink[i] = float64(ops[i].Load())
	}
	return result{name: b.name, bench: bench, perLink: libUtil.NewStats(perLink), failures: failures.Load()}
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(r result) {
	if r.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", r.name)
		return
	}

	nsPerOp := math.Max(float64(r.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tfairness %.2f\tfailures %d\n",
		r.name, nsPerOp, time.Duration(nsPerOp), opsPerSec, r.perLink.Fairness(), r.failures)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result, cfg common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped", "Failures",
		"LinkFairness", "LinkOpsMin", "LinkOpsMax",
		"Endpoint", "Transport", "Serializer", "Security", "Dispatch",
		"Links", "Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if r.bench.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(r.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			r.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatInt(r.failures, 10),
			fmt.Sprintf("%.3f", r.perLink.Fairness()),
			fmt.Sprintf("%.0f", r.perLink.Min),
			fmt.Sprintf("%.0f", r.perLink.Max),
			cfg.Transport.Endpoint,
			viper.GetString("transport"),
			viper.GetString("serializer"),
			string(cfg.Transport.Security),
			string(cfg.Connection.Dispatch),
			strconv.Itoa(perfLinks),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}
	return nil
}
