package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"filingkit/internal/config"
	"filingkit/internal/db"
	"filingkit/internal/engine"
	"filingkit/internal/events"
	"filingkit/internal/fetch"
	"filingkit/internal/formspec"
	"filingkit/internal/migrate"
	"filingkit/internal/storage"
	"filingkit/pkg/logger"
)

// Overrides win over filingkit.yml. The CLI fills them from flags and
// FILINGKIT_* variables; empty values leave the file value alone.
type Overrides struct {
	ConfigPath     string
	SharedSecret   string
	Addr           string
	BasePath       string
	StorageBackend string
	LogLevel       string
	Offline        bool
}

// ResolveConfig loads the workspace config, or an explicit file, and applies
// overrides. A missing workspace config falls back to defaults.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.FromFile(o.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if o.SharedSecret != "" {
		cfg.Auth.SharedSecret = o.SharedSecret
	}
	if o.Addr != "" {
		cfg.Server.Addr = o.Addr
	}
	if o.BasePath != "" {
		cfg.Server.BasePath = o.BasePath
	}
	if o.StorageBackend != "" {
		cfg.Storage.Backend = strings.ToLower(o.StorageBackend)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Offline {
		cfg.Fetch.Offline = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runtime bundles what commands need from an opened workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Events    *events.Writer
	Store     storage.Store
}

// Open opens and migrates the workspace database and wires the engine,
// audit log and object store from cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	store, err := NewStore(ctx, cfg, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	catalog, err := formspec.Default()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(catalog, NewSource(cfg)),
		Events:    &events.Writer{DB: conn},
		Store:     store,
	}, nil
}

// SchemaVersion reports the applied migration version of the workspace DB.
func (r *Runtime) SchemaVersion(ctx context.Context) (int, error) {
	return migrate.Version(ctx, r.DB)
}

func (r *Runtime) Close() error {
	return r.DB.Close()
}

// NewSource returns the template fetcher configured by cfg.
func NewSource(cfg *config.Config) fetch.Source {
	if cfg.Fetch.Offline {
		return fetch.Disabled{}
	}
	f := fetch.New(cfg.Fetch.Timeout, cfg.Fetch.UserAgent)
	f.MaxBytes = cfg.Fetch.MaxBytes
	return f
}

// NewStore returns the object store selected by cfg.Storage.Backend.
func NewStore(ctx context.Context, cfg *config.Config, conn *sql.DB) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		m := cfg.Storage.Minio
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		logger.Info(ctx, "using minio storage", "endpoint", m.Endpoint, "bucket", m.Bucket)
		return store, nil
	default:
		return storage.LocalStore{DB: conn}, nil
	}
}
