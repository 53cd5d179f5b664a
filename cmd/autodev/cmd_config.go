package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"autodev/internal/config"
	"autodev/internal/schedule"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		// Never print the key, even when set in the file.
		redacted := *cfg
		if redacted.LLM.APIKey != "" {
			redacted.LLM.APIKey = "(set)"
		}

		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Println(dimStyle.Render("# " + path))
		fmt.Print(string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set one configuration value and persist it",
	Long: `Settable keys:
  schedule, target_branch, categories (comma-separated),
  max_files_per_run, max_lines_changed, max_daily_runs, max_retries,
  require_build_pass, notifications,
  build.command, llm.expensive_model, llm.cheap_model`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.Path(repoPath)
		}
		if _, err := config.Update(path, func(cfg *config.Config) error {
			return applySetting(cfg, args[0], args[1])
		}); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

func applySetting(cfg *config.Config, key, value string) error {
	switch key {
	case "schedule":
		if _, err := schedule.Parse(value); err != nil {
			return err
		}
		cfg.Schedule = value
	case "target_branch":
		cfg.TargetBranch = value
	case "categories":
		cfg.Categories = strings.Split(value, ",")
		for i := range cfg.Categories {
			cfg.Categories[i] = strings.TrimSpace(cfg.Categories[i])
		}
	case "max_files_per_run":
		return setInt(&cfg.MaxFilesPerRun, value)
	case "max_lines_changed":
		return setInt(&cfg.MaxLinesChanged, value)
	case "max_daily_runs":
		return setInt(&cfg.MaxDailyRuns, value)
	case "max_retries":
		return setInt(&cfg.MaxRetries, value)
	case "require_build_pass":
		return setBool(&cfg.RequireBuildPass, value)
	case "notifications":
		return setBool(&cfg.Notifications, value)
	case "build.command":
		cfg.Build.Command = value
	case "llm.expensive_model":
		cfg.LLM.ExpensiveModel = value
	case "llm.cheap_model":
		cfg.LLM.CheapModel = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setInt(target *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*target = n
	return nil
}

func setBool(target *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("not a boolean: %q", value)
	}
	*target = b
	return nil
}
