package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"autodev/internal/agent"
	"autodev/internal/build"
	"autodev/internal/config"
	"autodev/internal/deps"
	"autodev/internal/ledger"
	"autodev/internal/llm"
	"autodev/internal/logging"
	"autodev/internal/notify"
	"autodev/internal/orchestrator"
	"autodev/internal/research"
	"autodev/internal/shell"
	"autodev/internal/source"
	"autodev/internal/store"
	"autodev/internal/vcs"
)

// app is the wired-up dependency graph behind every subcommand.
type app struct {
	cfg           *config.Config
	cfgPath       string
	orch          *orchestrator.Orchestrator
	store         *store.Store
	ledger        *ledger.Ledger
	gateway       *vcs.Gateway
	researchCache *research.Cache
}

// loadConfig resolves flags into a validated configuration. It never
// requires the pipeline's runtime dependencies, so read-only commands
// (history, issues, config show) stay usable without an API key.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.Path(repoPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if repoPath != "." || cfg.RepoPath == "" {
		cfg.RepoPath = repoPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Initialize(cfg.StateDir()); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildApp wires the full pipeline. Commands that start runs need this;
// it fails fast when the API key is missing.
func buildApp() (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: set GEMINI_API_KEY or llm.api_key in %s", path)
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Timeout:         cfg.LLMTimeout(),
		MaxOutputTokens: 65536,
	})
	invoker := agent.New(client, agent.Options{
		ExpensiveModel: cfg.LLM.ExpensiveModel,
		CheapModel:     cfg.LLM.CheapModel,
		TokenThreshold: cfg.LLM.TokenThreshold,
		MaxTurns:       cfg.LLM.MaxTurns,
	})

	gateway := vcs.NewGateway(cfg.RepoPath, cfg.TargetBranch)

	// One runner covers the build command and the dependency scanners.
	allowed := []string{"npm", "npx", "yarn", "pnpm", "go", "govulncheck", "make"}
	if fields := strings.Fields(cfg.Build.Command); len(fields) > 0 {
		allowed = append(allowed, fields[0])
	}
	runner := shell.NewRunner(allowed, cfg.BuildTimeout())

	verifier := build.NewVerifier(runner, cfg.Build.Command, cfg.BuildTimeout(), cfg.RepoPath)
	scanner := deps.Detect(cfg.RepoPath, runner)

	issueLedger := ledger.New(cfg.StateDir())
	history, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	cache := research.NewCache(filepath.Join(cfg.StateDir(), "research-cache"), cfg.ResearchCacheTTL())

	orch := orchestrator.New(orchestrator.Deps{
		Config:        cfg,
		Invoker:       invoker,
		Gateway:       gateway,
		Verifier:      verifier,
		Ledger:        issueLedger,
		Scanner:       scanner,
		Reader:        source.NewReader(cfg.RepoPath),
		History:       history,
		Notifier:      notify.NewDesktopNotifier(),
		ResearchCache: cache,
	})

	return &app{
		cfg:           cfg,
		cfgPath:       path,
		orch:          orch,
		store:         history,
		ledger:        issueLedger,
		gateway:       gateway,
		researchCache: cache,
	}, nil
}

// openStore opens the run-history database under the state directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	history, err := store.Open(filepath.Join(cfg.StateDir(), "runs.db"))
	if err != nil {
		return nil, fmt.Errorf("could not open run history: %w", err)
	}
	return history, nil
}

// close releases the app's resources.
func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	logging.CloseAll()
}
