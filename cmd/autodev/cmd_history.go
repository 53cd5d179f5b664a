package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autodev/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past improvement runs",
	RunE:  showHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one run in detail, including every agent invocation",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
}

func openHistory() (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, cfgPath: path}
	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	app, err := openHistory()
	if err != nil {
		return err
	}
	defer app.close()

	runs, err := app.store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println(dimStyle.Render("no runs recorded yet"))
		return nil
	}

	for _, run := range runs {
		fmt.Println(renderRunLine(run))
	}
	return nil
}

func renderRunLine(run *types.Run) string {
	status := failStyle.Render(fmt.Sprintf("%-10s", run.Status))
	if run.Status == types.StatusCompleted {
		status = okStyle.Render(fmt.Sprintf("%-10s", run.Status))
	}

	line := fmt.Sprintf("%s  %s  %s  %d applied",
		run.ID[:8], status, humanize.Time(run.StartedAt), len(run.AppliedImprovements()))
	if run.PRURL != "" {
		line += dimStyle.Render("  " + run.PRURL)
	}
	return line
}

func showRun(cmd *cobra.Command, args []string) error {
	app, err := openHistory()
	if err != nil {
		return err
	}
	defer app.close()

	run, err := app.store.GetRun(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run with id %q", args[0])
	}

	fmt.Println(renderReport(run))

	if len(run.AgentTasks) > 0 {
		fmt.Println(headStyle.Render("Agent invocations"))
		for _, task := range run.AgentTasks {
			marker := okStyle.Render("✓")
			if task.Status == types.AgentTaskFailed {
				marker = failStyle.Render("✗")
			}
			fmt.Printf("  %s %-11s %-24s %s\n", marker, task.Role, task.Model,
				task.CompletedAt.Format(time.TimeOnly))
			fmt.Println(dimStyle.Render("      " + task.Description))
			if task.Error != "" {
				fmt.Println(failStyle.Render("      " + task.Error))
			}
		}
	}
	return nil
}
