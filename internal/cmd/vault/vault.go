// Package vault parses snapshot engine flags and launches the reference
// server: an in-memory host wired to the full engine, useful for development
// and soak testing without a game platform.
package vault

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/emberforge/playervault/internal/platform/cmd"
	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/hologram"
	"github.com/emberforge/playervault/internal/host/hosttest"
	"github.com/emberforge/playervault/internal/vault/adapter"
	"github.com/emberforge/playervault/internal/vault/command"
	"github.com/emberforge/playervault/internal/vault/service"
	"github.com/emberforge/playervault/internal/vault/storage"
	"github.com/emberforge/playervault/internal/vault/storage/postgres"
	"github.com/emberforge/playervault/internal/vault/storage/sqlite"
	"github.com/emberforge/playervault/internal/vault/viewer"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds vault command configuration.
type Config struct {
	Backend string `env:"PLAYERVAULT_STORAGE_BACKEND" envDefault:"sqlite"`
	DataDir string `env:"PLAYERVAULT_DATA_DIR" envDefault:"data"`

	DBHost        string        `env:"PLAYERVAULT_DB_HOST" envDefault:"localhost"`
	DBPort        int           `env:"PLAYERVAULT_DB_PORT" envDefault:"5432"`
	DBName        string        `env:"PLAYERVAULT_DB_NAME" envDefault:"playervault"`
	DBUser        string        `env:"PLAYERVAULT_DB_USER" envDefault:"playervault"`
	DBPassword    string        `env:"PLAYERVAULT_DB_PASSWORD"`
	DBUseSSL      bool          `env:"PLAYERVAULT_DB_USE_SSL" envDefault:"false"`
	DBExtraParams string        `env:"PLAYERVAULT_DB_EXTRA_PARAMS"`
	DBOpTimeout   time.Duration `env:"PLAYERVAULT_DB_OP_TIMEOUT" envDefault:"5s"`

	CaptureOnLogin  bool `env:"PLAYERVAULT_CAPTURE_ON_LOGIN" envDefault:"true"`
	CaptureOnLogout bool `env:"PLAYERVAULT_CAPTURE_ON_LOGOUT" envDefault:"true"`
	CaptureOnDeath  bool `env:"PLAYERVAULT_CAPTURE_ON_DEATH" envDefault:"true"`

	AdapterAccessories bool     `env:"PLAYERVAULT_ADAPTER_ACCESSORIES" envDefault:"true"`
	AdapterGeneric     bool     `env:"PLAYERVAULT_ADAPTER_GENERIC" envDefault:"true"`
	GenericExclusions  []string `env:"PLAYERVAULT_GENERIC_EXCLUSIONS" envSeparator:","`

	RetentionMax int `env:"PLAYERVAULT_RETENTION_MAX" envDefault:"0"`

	HologramFile string `env:"PLAYERVAULT_HOLOGRAM_FILE"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Storage backend (sqlite or postgres)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the embedded database and hologram file")
	fs.IntVar(&cfg.RetentionMax, "retention-max", cfg.RetentionMax, "Max retained backups per player (0 = unlimited)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the reference vault server and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceVault, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	h := hosttest.New()
	h.EnableNamespace("accessories")

	var candidates []adapter.Adapter
	if cfg.AdapterAccessories {
		candidates = append(candidates, adapter.NewAccessories())
	}
	if cfg.AdapterGeneric {
		candidates = append(candidates, adapter.NewGeneric(cfg.GenericExclusions))
	}
	registry := adapter.NewRegistry(h, candidates...)

	svc := service.New(store, h, registry, logger, service.Config{
		CaptureOnLogin:  cfg.CaptureOnLogin,
		CaptureOnLogout: cfg.CaptureOnLogout,
		CaptureOnDeath:  cfg.CaptureOnDeath,
	})
	defer svc.Close()

	viewerManager := viewer.NewManager(store, h, logger)
	commands := command.New(svc, viewerManager, h, command.AllowAll{}, logger)

	hologramPath := cfg.HologramFile
	if hologramPath == "" {
		hologramPath = filepath.Join(cfg.DataDir, "holograms.yml")
	}
	saver, err := hologram.NewFileSaver(hologramPath)
	if err != nil {
		return err
	}
	holograms, err := hologram.NewManager(saver)
	if err != nil {
		return err
	}

	adapterNames := make([]string, 0, len(registry.All()))
	for _, a := range registry.All() {
		adapterNames = append(adapterNames, a.Name())
	}
	logger.Info("vault server started",
		"backend", cfg.Backend,
		"adapters", strings.Join(adapterNames, ","),
		"holograms", len(holograms.All()),
		"retention_max", cfg.RetentionMax)

	go newConsole(commands, holograms, h, os.Stdout).run(ctx, os.Stdin)

	<-ctx.Done()
	logger.Info("vault server stopping")
	return nil
}

func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendSQLite:
		return sqlite.Open(filepath.Join(cfg.DataDir, "vault.db"), cfg.RetentionMax)
	case BackendPostgres:
		return postgres.Open(ctx, postgres.Config{
			Host:            cfg.DBHost,
			Port:            cfg.DBPort,
			Database:        cfg.DBName,
			User:            cfg.DBUser,
			Password:        cfg.DBPassword,
			UseSSL:          cfg.DBUseSSL,
			ExtraParams:     cfg.DBExtraParams,
			MaxPerPrincipal: cfg.RetentionMax,
			OpTimeout:       cfg.DBOpTimeout,
		})
	}
	return nil, apperrors.WithMetadata(apperrors.CodeConfigError,
		fmt.Sprintf("unknown storage backend %q", cfg.Backend),
		map[string]string{"backend": cfg.Backend})
}
