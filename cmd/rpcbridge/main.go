package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/rpcbridge"
	"github.com/glimte/rpcbridge/bridge"
	"github.com/glimte/rpcbridge/config"
	"github.com/glimte/rpcbridge/health"
	"github.com/glimte/rpcbridge/interceptors"
	"github.com/glimte/rpcbridge/internal/rabbitmq"
	"github.com/glimte/rpcbridge/remote"
	rabbitmqTransport "github.com/glimte/rpcbridge/transports/rabbitmq"
	"github.com/glimte/rpcbridge/transports/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const configHint = `remote endpoint is not configured.
Set remote.url in $HOME/.config/rpcbridge/config.yaml (or the file named by
RPCBRIDGE_CONFIG), export RPCBRIDGE_REMOTE_URL, or pass --url.`

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	url       string
	transport string
	logLevel  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "rpcbridge",
		Short: "Call methods in a remote context over a message channel",
		Long: `rpcbridge launches a remote context in bridge mode, waits for it to signal
readiness and then correlates requests and responses over the shared channel.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVarP(&flags.url, "url", "u", "", "Remote endpoint URL (overrides remote.url)")
	rootCmd.PersistentFlags().StringVarP(&flags.transport, "transport", "t", "", "Transport: websocket, amqp or memory (overrides remote.transport)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (overrides log.level)")

	rootCmd.AddCommand(newInvokeCmd(flags), newServeCmd(flags))
	return rootCmd
}

// loadConfig applies command line overrides on top of config.Load
func loadConfig(flags *globalFlags) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if flags.url != "" {
		cfg.Remote.URL = flags.url
	}
	if flags.transport != "" {
		cfg.Remote.Transport = strings.ToLower(strings.TrimSpace(flags.transport))
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func newInvokeCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "invoke <method> [json-arg...]",
		Short: "Invoke a remote method and print its JSON result",
		Long: `Invoke a remote method. Each argument is parsed as JSON; anything that is not
valid JSON is sent as a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}

			client, err := rpcbridge.NewClient(cfg,
				rpcbridge.WithLogger(logger),
				rpcbridge.WithInterceptors(interceptors.NewLoggingInterceptor(logger)),
			)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			if !client.IsConfigured() {
				fmt.Fprintln(cmd.ErrOrStderr(), configHint)
				return bridge.ErrNotConfigured
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			unsubscribe := client.Activity().Subscribe(func(s bridge.ActivityState) {
				if s.Busy {
					fmt.Fprintln(cmd.ErrOrStderr(), s.Label)
				}
			})
			defer unsubscribe()

			result, err := client.Call(ctx, args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits for the bridge deadlines)")
	return cmd
}

// parseArgs turns command line words into call arguments
func parseArgs(words []string) []any {
	args := make([]any, 0, len(words))
	for _, word := range words {
		if json.Valid([]byte(word)) {
			args = append(args, json.RawMessage(word))
			continue
		}
		args = append(args, word)
	}
	return args
}

func printResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo remote context (echo, sum, fail, slow)",
		Long: `Serve the demo methods in bridge mode. With the websocket transport the
context listens on --addr at /exec; with amqp it consumes the service queue
named by bridge.query_value on the broker at remote.url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			responder := remote.NewResponder(remote.WithLogger(logger))
			if err := remote.RegisterDemo(responder); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			registry := health.NewRegistry()
			registry.Register(health.NewResponderChecker(responder))

			switch cfg.Remote.Transport {
			case config.TransportWebSocket:
				return serveHTTP(ctx, cfg, newServeRouter(cfg, responder, registry, logger), logger)
			case config.TransportAMQP:
				return serveAMQP(ctx, cfg, responder, registry, logger)
			default:
				return fmt.Errorf("serve does not support the %s transport", cfg.Remote.Transport)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// newServeRouter mounts health endpoints and, when responder is set, the
// bridge endpoint at /exec
func newServeRouter(cfg config.Config, responder *remote.Responder, registry *health.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/livez", health.LivenessHandler())
	r.Method(http.MethodGet, "/healthz", health.NewHandler(registry, 5*time.Second))
	if responder != nil {
		r.Handle("/exec", websocket.NewServer(responder,
			websocket.WithBridgeQuery(cfg.Bridge.QueryParam, cfg.Bridge.QueryValue),
			websocket.WithServerLogger(logger),
		))
	}
	return r
}

func serveHTTP(ctx context.Context, cfg config.Config, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// serveAMQP consumes the service queue and serves health endpoints on the
// side
func serveAMQP(ctx context.Context, cfg config.Config, responder *remote.Responder, registry *health.Registry, logger *slog.Logger) error {
	if cfg.Remote.URL == "" {
		return errors.New(configHint)
	}

	cm := rabbitmq.NewConnectionManager(cfg.Remote.URL, rabbitmq.WithLogger(logger))
	defer cm.Close()

	server, err := rabbitmqTransport.NewServer(cm, cfg.Bridge.QueryValue, responder,
		rabbitmqTransport.WithServerLogger(logger))
	if err != nil {
		return err
	}
	registry.Register(health.NewBrokerChecker(cm))
	registry.Register(health.NewQueueChecker(server.Queue(), cm))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- serveHTTP(ctx, cfg, newServeRouter(cfg, nil, registry, logger), logger)
	}()

	err = server.Serve(ctx)
	cancel()
	if herr := <-httpErr; err == nil {
		err = herr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
