package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/config"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
)

var (
	sendUser        string
	sendMode        string
	sendTemperature float64
	sendMaxTokens   int
	sendContext     string
	sendTimeout     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Publish a request and wait for its reply",
	Long: "Publishes a request on the configured bus, prints its activity and waits for the reply.\n" +
		"With the memory bus the relay runs in-process for the duration of the command.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendUser, "user", "u", "cli", "User id")
	sendCmd.Flags().StringVarP(&sendMode, "mode", "m", envelope.ModeStandard, "Agent mode (standard|autonomous)")
	sendCmd.Flags().Float64Var(&sendTemperature, "temperature", envelope.DefaultTemperature, "Sampling temperature")
	sendCmd.Flags().IntVar(&sendMaxTokens, "max-tokens", envelope.DefaultMaxTokens, "Maximum tokens in the reply")
	sendCmd.Flags().StringVar(&sendContext, "context", "", "Free-text context for the request")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 3*time.Minute, "How long to wait for the reply")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	payload := map[string]any{
		"id":          envelope.NewID(),
		"user":        sendUser,
		"message":     strings.Join(args, " "),
		"agent_mode":  sendMode,
		"temperature": sendTemperature,
		"max_tokens":  sendMaxTokens,
	}
	if sendContext != "" {
		payload["context"] = sendContext
	}

	b, local, err := openClientBus(ctx, cfg)
	if err != nil {
		return err
	}
	if local != nil {
		if err := local.service.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = local.service.Stop(context.Background()) }()
	} else {
		defer b.Close()
	}

	out, err := exchange(ctx, b, bus.ChannelsFromConfig(cfg.Bus), payload, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if out["type"] == envelope.TypeError {
		return fmt.Errorf("request failed: %v", out["details"])
	}
	return nil
}

// openClientBus returns a bus for one request/reply exchange. The memory
// driver has no peers, so it runs a relay in-process and returns it.
func openClientBus(ctx context.Context, cfg *config.Config) (bus.Bus, *app, error) {
	switch strings.ToLower(cfg.Bus.Driver) {
	case "", "memory":
		a, err := buildApp(ctx, cfg, bus.NewMemoryBus())
		if err != nil {
			return nil, nil, err
		}
		return a.bus, a, nil
	case "kafka":
		// A private group reading from the tail sees only replies to this request.
		b, err := bus.NewKafkaBus(bus.KafkaOptions{
			Brokers:     cfg.Bus.KafkaBrokers,
			GroupID:     "conduit-cli-" + uuid.NewString(),
			StartOffset: kafka.LastOffset,
		})
		return b, nil, err
	default:
		b, err := bus.Open(ctx, cfg.Bus)
		return b, nil, err
	}
}

// exchange publishes payload, prints matching activity and returns the
// terminal envelope for its id.
func exchange(ctx context.Context, b bus.Bus, ch bus.Channels, payload map[string]any, w io.Writer) (map[string]any, error) {
	id, _ := payload["id"].(string)
	replies := make(chan map[string]any, 1)

	respSub, err := b.Subscribe(ctx, ch.Response, func(_ context.Context, data []byte) {
		var m map[string]any
		if json.Unmarshal(data, &m) != nil || m["id"] != id {
			return
		}
		select {
		case replies <- m:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ch.Response, err)
	}
	defer respSub.Unsubscribe()

	actSub, err := b.Subscribe(ctx, ch.Activity, func(_ context.Context, data []byte) {
		var ev envelope.RoundEvent
		if json.Unmarshal(data, &ev) != nil || ev.RequestID != id {
			return
		}
		fmt.Fprintf(w, "%s round %d %s (%s)\n", color.YellowString("▸"), ev.Round, ev.Tool, ev.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ch.Activity, err)
	}
	defer actSub.Unsubscribe()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := b.Publish(ctx, ch.Request, data); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}
	fmt.Fprintf(w, "%s %s\n", color.CyanString("Sent"), id)

	select {
	case m := <-replies:
		printEnvelope(w, m)
		return m, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("no reply for %s before timeout", id)
		}
		return nil, ctx.Err()
	}
}

func printEnvelope(w io.Writer, m map[string]any) {
	if m["type"] == envelope.TypeError {
		fmt.Fprintf(w, "%s %v: %v\n", color.RedString("Error"), m["error"], m["details"])
		return
	}
	fmt.Fprintln(w, m["response"])
	fmt.Fprintf(w, "%s model=%v rounds=%v tools=%v %vms\n",
		color.GreenString("Done"), m["model"], m["round_count"], m["tools_used"], m["processing_time_ms"])
}
