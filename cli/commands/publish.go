package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// outcomeRecorder keeps the last publish outcome.
type outcomeRecorder struct {
	mu      sync.Mutex
	outcome relay.PublishOutcome
}

func (o *outcomeRecorder) ObservePublish(name string, outcome relay.PublishOutcome, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcome = outcome
}

func (o *outcomeRecorder) last() relay.PublishOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// NewPublishCommand creates the publish command
func NewPublishCommand(opts *globalOptions) *cobra.Command {
	var (
		data    string
		eventID string
		topic   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish <name>",
		Short: "Publish one integration envelope",
		Long: `Publish one integration envelope through the configured transport.

A name:eventId pair that was already delivered within the store TTL is
skipped. Without --event-id a fresh UUID is used.

Examples:
  relay publish OrderPlaced --data '{"orderId":"42"}' --event-id 42
  relay publish OrderPlaced --topic orders --data '{"orderId":"42"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var payload interface{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("--data is not valid JSON: %w", err)
				}
			}

			env := relay.NewIntegration(args[0], payload)
			if eventID != "" {
				env = relay.NewIntegrationWithID(args[0], eventID, payload)
			}

			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			recorder := &outcomeRecorder{}
			rt, err := newRuntime(ctx, cfg, out, relay.WithPublishObserver(recorder))
			if err != nil {
				return err
			}
			defer rt.Close()

			var publishOpts []relay.PublishOption
			if topic != "" {
				publishOpts = append(publishOpts, relay.WithTopic(topic))
			}
			if err := rt.bus.Publish(ctx, env, publishOpts...); err != nil {
				return err
			}

			outcome := recorder.last()
			fmt.Fprintln(out, styles.StatusBadge(string(outcome))+" "+env.Key())
			if outcome == relay.OutcomeDeduplicated {
				fmt.Fprintln(out, styles.FormatWarning("already delivered within "+cfg.Store.TTL.String()))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON payload")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Event id (default: random UUID)")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic (default: the envelope name)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")

	return cmd
}
