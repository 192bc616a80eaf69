package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
	"github.com/MadnessEngineering/whispermind-conduit/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last status reported by the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Service.ShutdownTimeout)
		defer cancel()
		p, err := status.Read(ctx, store, cfg.Store.StatusKey)
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("no status recorded under %q (is the relay running against this store?)", cfg.Store.StatusKey)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			data, _ := json.MarshalIndent(p, "", "  ")
			fmt.Fprintln(out, string(data))
			return nil
		}
		state := color.GreenString(p.Status)
		if p.Status != status.Online {
			state = color.RedString(p.Status)
		}
		fmt.Fprintf(out, "Service:  %s %s\n", p.Service, p.Version)
		fmt.Fprintf(out, "Status:   %s (%s)\n", state, p.Message)
		fmt.Fprintf(out, "Model:    %s\n", p.Model)
		fmt.Fprintf(out, "Active:   %d\n", p.ActiveRequests)
		fmt.Fprintf(out, "Tools:    %v\n", p.Capabilities.Tools)
		fmt.Fprintf(out, "Reported: %s\n", p.Timestamp.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status payload")
}
