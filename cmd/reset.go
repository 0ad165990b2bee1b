package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetSession string
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a session's reference or the whole database",
	Long:  "With --session, deletes that session's reference so it can be enrolled again. Without it, drops all tables.",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)

		if resetSession != "" {
			id := parseSession(resetSession, false)
			if !resetYes && !confirm(reader, fmt.Sprintf("⚠️  Delete the reference for session %s?", id)) {
				return
			}
			err := DB.DeleteReference(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println("ℹ️  Session has no reference.")
				return
			}
			if err != nil {
				utils.Die("Failed to delete reference", err, nil)
			}
			fmt.Printf("🗑️  Reference for %s removed. The session can be enrolled again.\n", id)
			return
		}

		if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
			fmt.Println("🗑️  Clearing Database...")
			if err := DB.Reset(cmd.Context()); err != nil {
				utils.Die("Failed to reset database", err, nil)
			}
			fmt.Println("✨ System Reset Complete.")
		}
	},
}

func init() {
	resetCmd.Flags().StringVarP(&resetSession, "session", "s", "", "Only delete this session's reference")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
