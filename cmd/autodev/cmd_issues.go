package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autodev/internal/ledger"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List pending issues from past runs",
	Long: `Shows the pending entries of the issue ledger. Every failure a run
hits (build breaks, review rejections, environment limitations) lands
here and is fed back into the next run's research phase.`,
	RunE: showIssues,
}

func showIssues(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	entries := ledger.New(cfg.StateDir()).PendingEntries()
	if len(entries) == 0 {
		fmt.Println(okStyle.Render("no pending issues"))
		return nil
	}

	for _, entry := range entries {
		fmt.Printf("%s %s\n", headStyle.Render(string(entry.Category)), dimStyle.Render(entry.Date))
		fmt.Println("  " + entry.Detail)
	}
	return nil
}
