package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autodev/internal/types"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one improvement run now",
	Long: `Runs the full pipeline once: research, analysis, planning, coding,
verification, and push. Progress streams to stdout; Ctrl-C requests a
graceful abort at the next safe point.`,
	RunE: executeRun,
}

func executeRun(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			fmt.Println(dimStyle.Render("abort requested; finishing the current step..."))
			app.orch.Abort()
		}
	}()

	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case event := <-app.orch.Events():
				printEvent(event)
			case <-stop:
				return
			}
		}
	}()

	run, err := app.orch.Start(context.Background())
	close(stop)
	<-drained
	if err != nil {
		return err
	}

	fmt.Println(renderReport(run))
	if run.Status != types.StatusCompleted {
		os.Exit(1)
	}
	return nil
}

func printEvent(event types.Event) {
	stamp := dimStyle.Render(event.Timestamp.Format("15:04:05"))
	switch event.Type {
	case types.EventStatusChanged:
		fmt.Printf("%s %s\n", stamp, headStyle.Render("phase: "+string(event.Status)))
	default:
		fmt.Printf("%s %s\n", stamp, event.Message)
	}
}

// renderReport builds the terminal summary of a finished run.
func renderReport(run *types.Run) string {
	var status string
	if run.Status == types.StatusCompleted {
		status = okStyle.Render(string(run.Status))
	} else {
		status = failStyle.Render(string(run.Status))
	}

	duration := "unknown"
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}

	body := fmt.Sprintf("Run %s  %s  (%s)\n", run.ID[:8], status, duration)
	body += dimStyle.Render("started "+humanize.Time(run.StartedAt)) + "\n"

	if applied := run.AppliedImprovements(); len(applied) > 0 {
		body += "\n" + headStyle.Render("Applied changes") + "\n"
		for _, imp := range applied {
			body += fmt.Sprintf("  %s [%s] %s\n", okStyle.Render("+"), imp.Category, imp.FilePath)
			body += dimStyle.Render("    "+imp.Description) + "\n"
		}
	}
	if run.PRURL != "" {
		body += "\n" + headStyle.Render("Pull request") + "\n  " + run.PRURL + "\n"
	}
	if run.Summary != "" {
		body += "\n" + run.Summary + "\n"
	}
	if run.Error != "" {
		body += "\n" + failStyle.Render("error: "+run.Error) + "\n"
	}
	return borderStyle.Render(body)
}
