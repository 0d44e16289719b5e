package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mailingest-engine/internal/coerce"
	"mailingest-engine/internal/config"
	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/graph"
	"mailingest-engine/internal/logger"
	"mailingest-engine/internal/secrets"
	"mailingest-engine/internal/store"
)

// app is the state shared by commands: validated config and the log handle.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	logFile *os.File
	reports []*coerce.Report
}

func loadConfig() (config.Config, config.Validation, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, config.Validation{}, fmt.Errorf("config load failed (%s): %w", cfgPath, err)
	}

	rp := reportsPath
	if rp == "" {
		rp = filepath.Join(filepath.Dir(cfgPath), "reports.yml")
	}
	if err := config.OverlayReports(&cfg, rp); err != nil {
		return cfg, config.Validation{}, fmt.Errorf("reports overlay (%s): %w", rp, err)
	}
	config.OverlayEnv(&cfg)

	cfg, res := config.NormalizeAndValidate(cfg)
	return cfg, res, nil
}

func newApp(stderr io.Writer) (*app, error) {
	cfg, res, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	out := stderr
	if cfg.App.LogFile != "" {
		f, err := logger.OpenFile(cfg.Resolve(cfg.App.LogFile))
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		out = io.MultiWriter(stderr, f)
	}
	a.log = logger.New(out, debug)

	for _, w := range res.Warnings {
		a.log.Warn("config: %s", w)
	}
	if !res.OK() {
		a.close()
		return nil, config.Validate(cfg)
	}

	if a.reports, err = coerce.CompileAll(cfg.Reports); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func (a *app) schemas() []domain.Schema {
	out := make([]domain.Schema, len(a.reports))
	for i, r := range a.reports {
		out[i] = r.Schema
	}
	return out
}

func (a *app) report(name string) (*coerce.Report, error) {
	for _, r := range a.reports {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no report named %q", name)
}

func (a *app) openStore(ctx context.Context) (*store.DB, error) {
	db, err := store.Open(a.cfg.Store.Driver, a.cfg.StoreDSN())
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, a.schemas()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) graphClient() (*graph.Client, error) {
	secret, err := secrets.ClientSecret(a.cfg)
	if err != nil {
		return nil, errors.Join(domain.ErrAuth, err)
	}

	opts := graph.Options{
		BaseURL:    a.cfg.Mailbox.GraphURL,
		Folder:     a.cfg.Mailbox.Folder,
		PageSize:   a.cfg.Fetch.PageSize,
		MaxRetries: a.cfg.Fetch.MaxRetries,
		Timeout:    time.Duration(a.cfg.Fetch.TimeoutSeconds) * time.Second,
		Limiter:    graph.NewHostLimiter(a.cfg.Fetch.RequestsPerSecond, a.cfg.Fetch.Burst),
		Log:        a.log,
	}
	tokens := graph.NewTokenProvider(graph.Credentials{
		AuthorityURL: a.cfg.Mailbox.AuthorityURL,
		TenantID:     a.cfg.Mailbox.TenantID,
		ClientID:     a.cfg.Mailbox.ClientID,
		ClientSecret: secret,
		Scopes:       a.cfg.Mailbox.Scopes,
	}, opts)
	return graph.NewClient(tokens, opts), nil
}
