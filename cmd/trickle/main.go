package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/casualjim/trickle"
	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/config"
	"github.com/casualjim/trickle/metrics"
	"github.com/casualjim/trickle/pkg/natsx"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/casualjim/trickle/pubsub"
	"github.com/casualjim/trickle/transport"
	"github.com/openai/openai-go/option"
	"github.com/phsym/zeroslog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// flags holds the options shared by every command.
type flags struct {
	EnvFile        string
	BaseURL        string
	APIKey         string
	Model          string
	System         string
	Temperature    float64
	MaxTokens      int
	Providers      []string
	AllowFallbacks bool
	Timeout        time.Duration
	MetricsAddr    string
	NATSURL        string
	Render         bool
	DumpRequest    bool
	Verbose        bool
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func main() {
	f := &flags{}
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "trickle",
		Short:         "Stream chat completions from an OpenAI-compatible service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(f.Verbose)
			var err error
			if cfg, err = config.Load(f.EnvFile); err != nil {
				return err
			}
			applyConfig(cmd, f, cfg)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.EnvFile, "env-file", ".env", "Load environment variables from this file when it exists")
	pf.StringVar(&f.BaseURL, "base-url", "", "API root of the completion service (env TRICKLE_BASE_URL)")
	pf.StringVar(&f.APIKey, "api-key", "", "Bearer token (env TRICKLE_API_KEY or OPENAI_API_KEY)")
	pf.StringVarP(&f.Model, "model", "m", "", "Model identifier (env TRICKLE_MODEL)")
	pf.StringVarP(&f.System, "system", "s", "", "System prompt")
	pf.Float64VarP(&f.Temperature, "temperature", "t", 0, "Sampling temperature, between 0 and 2")
	pf.IntVar(&f.MaxTokens, "max-tokens", 0, "Cap on the number of completion tokens")
	pf.StringSliceVar(&f.Providers, "provider", nil, "Preferred upstream providers, most preferred first (env TRICKLE_PROVIDER_ORDER)")
	pf.BoolVar(&f.AllowFallbacks, "allow-fallbacks", true, "Allow routing to providers outside --provider (env TRICKLE_ALLOW_FALLBACKS)")
	pf.DurationVar(&f.Timeout, "timeout", 0, "Give up on a response after this long (env TRICKLE_TIMEOUT)")
	pf.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (env TRICKLE_METRICS_ADDR)")
	pf.StringVar(&f.NATSURL, "nats", "", "Mirror stream events to this NATS server (env NATS_URL)")
	pf.BoolVar(&f.Render, "render", false, "Render the response as markdown once it is complete")
	pf.BoolVar(&f.DumpRequest, "dump-request", false, "Print the request body before sending it")
	pf.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCommand(f, &cfg))
	rootCmd.AddCommand(completeCommand(f, &cfg))

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// applyConfig fills the flags the user did not set from the configuration.
func applyConfig(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if !changed("base-url") {
		f.BaseURL = cfg.BaseURL
	}
	if !changed("api-key") {
		f.APIKey = cfg.APIKey
	}
	if !changed("model") {
		f.Model = cfg.Model
	}
	if !changed("provider") {
		f.Providers = cfg.ProviderOrder
	}
	if !changed("allow-fallbacks") && cfg.AllowFallbacks != nil {
		f.AllowFallbacks = *cfg.AllowFallbacks
	}
	if !changed("timeout") {
		f.Timeout = cfg.Timeout
	}
	if f.MetricsAddr == "" {
		f.MetricsAddr = cfg.MetricsAddr
	}
	if f.NATSURL == "" {
		f.NATSURL = cfg.NATSURL
	}
}

func requestOptions(cmd *cobra.Command, f *flags) []completion.Option {
	var options []completion.Option
	if cmd.Flags().Changed("temperature") {
		options = append(options, completion.Temperature(f.Temperature))
	}
	if f.MaxTokens > 0 {
		options = append(options, completion.MaxTokens(f.MaxTokens))
	}
	if len(f.Providers) > 0 {
		options = append(options, completion.ProviderOrder(f.Providers...), completion.AllowFallbacks(f.AllowFallbacks))
	}
	return options
}

// newEngine builds the engine and starts the optional metrics endpoint. The
// returned cleanup closes what was opened.
func newEngine(f *flags, cfg *config.Config) (*trickle.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tr, err := transport.NewHTTP(
		transport.WithBaseURL(f.BaseURL),
		transport.WithAPIKey(f.APIKey),
		transport.WithAppInfo(cfg.AppReferer, cfg.AppTitle),
	)
	if err != nil {
		return nil, cleanup, err
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(f.BaseURL, "/") + "/"),
		option.WithAPIKey(f.APIKey),
	}
	if cfg.AppReferer != "" {
		clientOpts = append(clientOpts, option.WithHeader("HTTP-Referer", cfg.AppReferer))
	}
	if cfg.AppTitle != "" {
		clientOpts = append(clientOpts, option.WithHeader("X-Title", cfg.AppTitle))
	}

	engineOpts := []trickle.Option{
		trickle.WithTransport(tr),
		trickle.WithCompleter(transport.NewOpenAI(clientOpts...)),
	}

	if f.MetricsAddr != "" {
		engineOpts = append(engineOpts, trickle.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
		closers = append(closers, serveMetrics(f.MetricsAddr))
	}

	if f.NATSURL != "" {
		nc, err := natsx.NewClient(f.NATSURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to nats: %w", err)
		}
		closers = append(closers, nc.Close)
		engineOpts = append(engineOpts, trickle.WithBroker(pubsub.NATS(nc)))
	}

	engine, err := trickle.New(engineOpts...)
	if err != nil {
		return nil, cleanup, err
	}
	return engine, cleanup, nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := slogx.Component("metrics")
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slogx.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// cancelOnInterrupt cancels the active streams on SIGINT or SIGTERM. When no
// stream is active the process exits.
func cancelOnInterrupt(engine *trickle.Engine) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				if engine.Len() == 0 {
					fmt.Fprintln(os.Stderr)
					os.Exit(130)
				}
				engine.CancelAllStreams()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
