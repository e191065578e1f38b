package main

import (
	"bufio"
	"context"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pg-sharding/dsrouter/pkg/config"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/tracing"
	"github.com/pg-sharding/dsrouter/router/instance"
	"github.com/pg-sharding/dsrouter/router/metrics"
	"github.com/pg-sharding/dsrouter/router/statistics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	rcfgPath string

	logLevel           string
	prettyLogging      bool
	driverName         string
	sendReadsToPrimary bool
	allowBail          bool
	metricsAddr        string
	jaegerURL          string
)

var rootCmd = &cobra.Command{
	Use:   "dsrouter [query|route|bench] --config `path-to-config`",
	Short: "dsrouter",
	Long:  "dataset aware query router for primary/replica clusters",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		dslog.Zero.Fatal().Err(err).Msg("")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rcfgPath, "config", "c", "/etc/dsrouter/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warning, error, fatal")
	rootCmd.PersistentFlags().BoolVar(&prettyLogging, "pretty-log", false, "write logs in human readable form")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "database driver: mysql or postgres")
	rootCmd.PersistentFlags().BoolVar(&sendReadsToPrimary, "send-reads-to-primary", false, "route every statement to the primary")
	rootCmd.PersistentFlags().BoolVar(&allowBail, "allow-bail", false, "exit on unrecoverable errors")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&jaegerURL, "jaeger-url", "", "jaeger sampling server url")

	rootCmd.AddCommand(queryCmd, routeCmd, benchCmd)
}

// runtime is what every command needs besides the instance itself.
type runtime struct {
	cfg    *config.Router
	shared *instance.Shared
	stats  *statistics.Statistics

	closers []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			dslog.Zero.Error().Err(err).Msg("failed to release resource")
		}
	}
}

func setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.LoadRouterCfg(rcfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	dslog.ReloadLogger(cfg.LogFile, cfg.LogLevel, cfg.PrettyLog)

	rt := &runtime{cfg: cfg}

	closer, err := tracing.Init(cfg.JaegerUrl)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize jaeger tracer")
	}
	rt.closers = append(rt.closers, closer.Close)

	quantiles, err := statistics.ParseQuantiles(cfg.Quantiles)
	if err != nil {
		rt.close()
		return nil, err
	}
	reg := prometheus.NewRegistry()
	rt.stats = statistics.New(reg, quantiles)
	if cfg.MetricsAddr != "" {
		srv := metrics.StartMetricsServer(cfg.MetricsAddr, reg)
		rt.closers = append(rt.closers, func() error {
			return srv.Shutdown(context.Background())
		})
	}

	sh, closeShared, err := instance.NewShared(cfg, rt.stats)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.shared = sh
	rt.closers = append(rt.closers, closeShared)
	return rt, nil
}

func (r *runtime) newInstance() (*instance.Instance, error) {
	return instance.NewFromConfig(r.cfg, nil, r.shared)
}

// statements returns args, or the lines of in when there are none.
// Lines ending in ";" close a statement; other lines are joined.
func statements(args []string, in io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var (
		res []string
		sb  strings.Builder
	)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSuffix(line, ";"))
		if strings.HasSuffix(line, ";") {
			res = append(res, sb.String())
			sb.Reset()
		}
	}
	if sb.Len() > 0 {
		res = append(res, sb.String())
	}
	return res, sc.Err()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	Execute()
}
