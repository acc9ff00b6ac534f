package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/vega/internal/config"
	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/metrics"
	"github.com/oriys/vega/internal/observability"
	"github.com/oriys/vega/internal/subscriber"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	var (
		subscription string
		endpoint     string
		insecure     bool
		logLevel     string
		listenAddr   string
		printBody    bool
		deliveryLog  string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a streaming pull subscriber against a subscription",
		Long:  "Opens a StreamingPull stream against the configured endpoint, printing (or discarding) each delivered message and acking it, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("subscription") {
				cfg.Stream.Subscription = subscription
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.Stream.Endpoint = endpoint
			}
			if cmd.Flags().Changed("insecure") {
				cfg.Stream.Insecure = insecure
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if deliveryLog != "" {
				if err := logging.DefaultDeliveryLogger().SetOutput(deliveryLog); err != nil {
					return fmt.Errorf("open delivery log: %w", err)
				}
			}

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
			}

			receiver := subscriber.ReceiverFunc(func(ctx context.Context, msg *subscriber.Message) subscriber.Decision {
				if printBody {
					fmt.Printf("%s\t%s\n", msg.ID, string(msg.Data))
				}
				return subscriber.Ack
			})

			sub, err := subscriber.New(cfg, receiver,
				subscriber.WithLifecycleObserver(func(s subscriber.State) {
					logging.Op().Info("vegapull: lifecycle transition", "state", s.String())
				}),
			)
			if err != nil {
				return fmt.Errorf("construct subscriber: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sub.Start(ctx)

			var httpServer *http.Server
			if listenAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.PrometheusHandler())
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					inFlight, messages, bytes, deadline := sub.Snapshot()
					w.WriteHeader(http.StatusOK)
					fmt.Fprintf(w, `{"status":"%s","in_flight":%d,"outstanding_messages":%d,"outstanding_bytes":%d,"ack_deadline_seconds":%d}`,
						sub.State(), inFlight, messages, bytes, deadline)
				})
				httpServer = &http.Server{Addr: listenAddr, Handler: mux}
				go func() {
					logging.Op().Info("vegapull: HTTP endpoint started", "addr", listenAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("vegapull: HTTP server error", "error", err)
					}
				}()
			}

			logging.Op().Info("vegapull: subscriber started", "subscription", cfg.Stream.Subscription, "endpoint", cfg.Stream.Endpoint)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("vegapull: shutdown signal received")

			cancel()
			sub.Close()

			if httpServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)
			}

			if err := sub.Err(); err != nil {
				return fmt.Errorf("subscriber failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subscription, "subscription", "", "Full subscription name to pull from")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "host:port of the pub/sub service")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS when dialing the endpoint")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&listenAddr, "listen", ":9102", "HTTP listen address for /metrics and /health")
	cmd.Flags().BoolVar(&printBody, "print", true, "Print each message's id and body to stdout before acking")
	cmd.Flags().StringVar(&deliveryLog, "delivery-log", "", "Write a JSON-lines ack/nack delivery log to this path")

	return cmd
}
