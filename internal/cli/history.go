package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Print a user's recent conversation entries",
	Args:  cobra.ExactArgs(1),
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

		entries, total, err := conversation.NewStore(store).History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d of %d entries for %s\n", color.CyanString("History:"), len(entries), total, args[0])
		for _, e := range entries {
			marker := color.GreenString("ok ")
			if e.Type == envelope.TypeError {
				marker = color.RedString("err")
			}
			fmt.Fprintf(out, "%s %s [%dms, %d rounds]\n  > %s\n  < %s\n",
				marker, e.Timestamp.Format("2006-01-02 15:04:05"), e.ProcessingTimeMs, e.RoundCount, e.UserMessage, e.Response)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 5, "Number of entries to show")
}
