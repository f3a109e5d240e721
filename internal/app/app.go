// Package app wires configuration, storage and the conversation engine into
// one runnable unit shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clubtreasurer/internal/codedir"
	"clubtreasurer/internal/config"
	"clubtreasurer/internal/conversation"
	"clubtreasurer/internal/db"
	"clubtreasurer/internal/engine"
	"clubtreasurer/internal/llm"
	"clubtreasurer/internal/logging"
	"clubtreasurer/internal/migrate"
	"clubtreasurer/internal/rules"
)

type Options struct {
	Workspace string
	// Config is used as-is when set; otherwise treasurer.yml is loaded from
	// the workspace, falling back to defaults.
	Config *config.Config
	// Provider overrides llm.provider.
	Provider string
	Logger   *zap.Logger
}

type App struct {
	Workspace    string
	Config       *config.Config
	DB           *sql.DB
	Directory    *codedir.Directory
	Validator    rules.Validator
	Engine       engine.Engine
	Conversation conversation.Engine
	Sessions     *conversation.Manager
	LLM          string
	Logger       *zap.Logger
}

// Open builds an App. A missing or unreadable code directory and an
// unavailable model both degrade with a warning instead of failing.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if opts.Provider != "" {
		cfg.LLM.Provider = opts.Provider
	}

	dir := loadDirectory(cfg.CodesPath(opts.Workspace), logger)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", zap.String("path", db.Path(opts.Workspace)), zap.Int("schema_version", version))

	pair, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Warn("language model unavailable, using offline classifier", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		pair, _ = llm.New(config.LLMConfig{Provider: "offline"})
	}

	validator := rules.Validator{Rules: &cfg.Rules, Codes: dir, Currency: cfg.Org.Currency}
	eng := engine.New(conn, logger.Named("engine"))
	conv := conversation.Engine{
		Classifier: pair.Classifier,
		Extractor:  pair.Extractor,
		Codes:      dir,
		Validator:  validator,
		Persister:  eng,
		Defaults:   conversation.NewDefaults(cfg.Org),
		Threshold:  cfg.Conversation.ClassifyThreshold,
		Logger:     logger.Named("conversation"),
	}
	ttl := time.Duration(cfg.Conversation.SessionTTLMinutes) * time.Minute
	return &App{
		Workspace:    opts.Workspace,
		Config:       cfg,
		DB:           conn,
		Directory:    dir,
		Validator:    validator,
		Engine:       eng,
		Conversation: conv,
		Sessions:     conversation.NewManager(conv, ttl),
		LLM:          pair.Name,
		Logger:       logger,
	}, nil
}

func loadDirectory(path string, logger *zap.Logger) *codedir.Directory {
	if path == "" {
		logger.Warn("no code directory configured, code checks disabled")
		return &codedir.Directory{}
	}
	dir, err := codedir.Load(path)
	if err != nil {
		logger.Warn("code directory unavailable, code checks disabled", zap.String("path", path), zap.Error(err))
		return dir
	}
	logger.Info("code directory loaded", zap.String("path", path), zap.Int("entries", len(dir.Entries())))
	return dir
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
