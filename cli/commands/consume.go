package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

// printHandler writes one line per envelope received on topic.
func printHandler(out io.Writer, mu *sync.Mutex, topic string) relay.IntegrationHandler {
	return relay.IntegrationHandlerFunc(func(ctx context.Context, env *relay.Integration) error {
		data, err := json.Marshal(env.Data())
		if err != nil {
			data = []byte(fmt.Sprint(env.Data()))
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, styles.FormatEnvelope(topic, env.Name(), env.EventID(), string(data)))
		return nil
	})
}

// NewConsumeCommand creates the consume command
func NewConsumeCommand(opts *globalOptions) *cobra.Command {
	var (
		metricsAddr string
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "consume <topic>...",
		Short: "Print envelopes received on topics",
		Long: `Subscribe to topics through the configured transport and print every
envelope received until interrupted.

Examples:
  relay consume OrderPlaced
  relay consume OrderPlaced OrderShipped --metrics-addr :9090`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			rt, err := newRuntime(ctx, cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			if metricsAddr != "" {
				srv, err := serveMetrics(metricsAddr, rt)
				if err != nil {
					return err
				}
				defer srv.Close()
				fmt.Fprintln(out, styles.FormatInfo("Metrics on http://"+metricsAddr+"/metrics"))
			}

			var mu sync.Mutex
			for _, topic := range args {
				handler := rt.metrics.WrapIntegrationHandler(printHandler(out, &mu, topic))
				if err := rt.bus.Subscribe(ctx, topic, handler); err != nil {
					return fmt.Errorf("subscribe %s: %w", topic, err)
				}
				fmt.Fprintln(out, styles.FormatSuccess("Subscribed to "+topic))
			}

			<-ctx.Done()
			fmt.Fprintln(out, styles.FormatInfo("Stopping"))
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (default: until interrupted)")

	return cmd
}

// serveMetrics exposes the runtime's collectors on addr.
func serveMetrics(addr string, rt *runtime) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	if err := rt.metrics.Register(registry); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv, nil
}
