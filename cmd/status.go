package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var (
	statusSession string
	statusLimit   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List enrolled sessions, or the recent match history of one session",
	Run: func(cmd *cobra.Command, args []string) {
		if statusSession != "" {
			runMatchHistory(cmd.Context())
			return
		}
		runListReferences(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusSession, "session", "s", "", "Show match history for this session")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Maximum number of match events to show")
	rootCmd.AddCommand(statusCmd)
}

func runListReferences(ctx context.Context) {
	refs, err := DB.ListReferences(ctx)
	if err != nil {
		utils.Die("Failed to list references", err, nil)
	}

	if len(refs) == 0 {
		fmt.Println("No sessions enrolled.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSOURCE\tENROLLED")
	fmt.Fprintln(w, "-------\t------\t--------")

	for _, r := range refs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.SessionID, r.Source, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runMatchHistory(ctx context.Context) {
	id := parseSession(statusSession, false)
	events, err := DB.ListMatches(ctx, id, statusLimit)
	if err != nil {
		utils.Die("Failed to list match events", err, nil)
	}

	if len(events) == 0 {
		fmt.Println("No match events recorded for this session.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tSIMILARITY\tMATCH\tSOURCE\tFRAME")
	fmt.Fprintln(w, "----\t----------\t-----\t------\t-----")

	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%d%%\t%t\t%s\t%d\n", ev.CreatedAt.Local().Format("2006-01-02 15:04:05"), ev.Percent, ev.Matched, ev.Source, ev.FrameIndex)
	}
	w.Flush()
}
