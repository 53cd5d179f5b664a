package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autodev/internal/config"
	"autodev/internal/logging"
	"autodev/internal/schedule"
	"autodev/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run unattended on the configured cron schedule",
	Long: `Starts the scheduling loop and blocks until SIGINT or SIGTERM. The
config file is watched; editing the schedule or any cap takes effect
without a restart. A fire that lands while a run is active, or past the
daily budget, is skipped.`,
	RunE: executeSchedule,
}

func executeSchedule(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	scheduler, err := schedule.New(app.orch, app.cfg.Schedule)
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(app.cfgPath, func(cfg *config.Config) {
		// Swap through the orchestrator: a reload that lands mid-run is
		// deferred, never written into a config an active run is reading.
		app.orch.UpdateConfig(cfg)
		if err := scheduler.Reload(cfg.Schedule); err != nil {
			logging.Schedule("keeping previous schedule: %v", err)
		}
		_ = logging.ReloadConfig()
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		logging.Config("config watch unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	// Drain events so scheduled runs never stall on the unread channel.
	go func() {
		for {
			select {
			case event := <-app.orch.Events():
				if event.Type == types.EventRunCompleted {
					fmt.Printf("%s run %s: %s\n",
						dimStyle.Render(event.Timestamp.Format(time.TimeOnly)),
						event.RunID[:8], event.Status)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println(dimStyle.Render("shutting down..."))
		app.orch.Abort()
		scheduler.Stop()
		cancel()
	}()

	fmt.Printf("schedule %s, next run %s\n",
		headStyle.Render(scheduler.Expression()),
		humanize.Time(scheduler.NextRun()))

	scheduler.Start(ctx)
	return nil
}
