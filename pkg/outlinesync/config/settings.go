package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default settings.
const (
	DefaultStoreDriver       = "sqlite"
	DefaultStoreDSN          = "outline-staging.db"
	DefaultCheckpointBackend = "file"
	DefaultCheckpointPath    = "outline-checkpoint.json"
	DefaultLevelCap          = 3
	DefaultDeletePageSize    = 500
)

// Settings are the typed run settings.
type Settings struct {
	StoreDriver      string        `env:"OUTLINE_STORE_DRIVER"`
	StoreDSN         string        `env:"OUTLINE_STORE_DSN"`
	ApplySchema      bool          `env:"OUTLINE_APPLY_SCHEMA"`
	CallTimeout      time.Duration `env:"OUTLINE_CALL_TIMEOUT"`
	StatementTimeout time.Duration `env:"OUTLINE_STATEMENT_TIMEOUT"`

	CheckpointBackend string `env:"OUTLINE_CHECKPOINT_BACKEND"`
	CheckpointPath    string `env:"OUTLINE_CHECKPOINT_PATH"`
	ReportPath        string `env:"OUTLINE_REPORT_PATH"`

	LevelCap       int  `env:"OUTLINE_LEVEL_CAP"`
	BatchSize      int  `env:"OUTLINE_BATCH_SIZE"`
	DeletePageSize int  `env:"OUTLINE_DELETE_PAGE_SIZE"`
	Transactional  bool `env:"OUTLINE_TRANSACTIONAL"`
}

// FromConfig reads settings from cfg, applying defaults for missing keys.
//
//	store:
//	  driver: postgres
//	  dsn: postgres://localhost/outlines
//	  apply_schema: true
//	  call_timeout: 30s
//	  statement_timeout: 30s
//	checkpoint:
//	  backend: file
//	  path: state/checkpoint.json
//	report: state/report.json
//	sync:
//	  level_cap: 3
//	  batch_size: 0
//	  delete_page_size: 500
//	  transactional: true
func FromConfig(cfg Config) Settings {
	return Settings{
		StoreDriver:       cfg.String("store.driver", DefaultStoreDriver),
		StoreDSN:          cfg.String("store.dsn", DefaultStoreDSN),
		ApplySchema:       cfg.Bool("store.apply_schema", false),
		CallTimeout:       cfg.Duration("store.call_timeout", 0),
		StatementTimeout:  cfg.Duration("store.statement_timeout", 0),
		CheckpointBackend: cfg.String("checkpoint.backend", DefaultCheckpointBackend),
		CheckpointPath:    cfg.String("checkpoint.path", DefaultCheckpointPath),
		ReportPath:        cfg.String("report", ""),
		LevelCap:          cfg.Int("sync.level_cap", DefaultLevelCap),
		BatchSize:         cfg.Int("sync.batch_size", 0),
		DeletePageSize:    cfg.Int("sync.delete_page_size", DefaultDeletePageSize),
		Transactional:     cfg.Bool("sync.transactional", true),
	}
}

// Load builds settings from the file at path, if any, then applies
// environment overrides. An empty path uses defaults plus environment.
func Load(path string) (Settings, Config, error) {
	cfg := New(nil)
	if path != "" {
		var err error
		if cfg, err = FromFile(path); err != nil {
			return Settings{}, Config{}, err
		}
	}

	s := FromConfig(cfg)
	if err := s.ApplyEnv(); err != nil {
		return Settings{}, Config{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, Config{}, err
	}
	return s, cfg, nil
}

// ApplyEnv overrides fields whose OUTLINE_* variable is set.
func (s *Settings) ApplyEnv() error {
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate checks settings for values no component accepts.
func (s Settings) Validate() error {
	var errs []error
	if s.StoreDriver == "" {
		errs = append(errs, errors.New("store driver is required"))
	}
	switch s.CheckpointBackend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", s.CheckpointBackend))
	}
	if s.CheckpointPath == "" {
		errs = append(errs, errors.New("checkpoint path is required"))
	}
	if s.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch size must be >= 0, got %d", s.BatchSize))
	}
	if s.CallTimeout < 0 || s.StatementTimeout < 0 {
		errs = append(errs, errors.New("timeouts must be >= 0"))
	}
	return errors.Join(errs...)
}
