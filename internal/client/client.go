package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/openhaul/haulbox/internal/client/config"
	"github.com/openhaul/haulbox/internal/haulsdk"
	"github.com/openhaul/haulbox/internal/upload"
	"github.com/openhaul/haulbox/internal/utils"
)

const (
	lockFile   = "haulbox.lock"
	sessionsDB = "sessions.db"
)

var ErrDataDirLocked = errors.New("data dir locked by another process")

// Client owns the upload pipeline for one data dir. The data dir holds the
// session store and a lock file so two clients never share one store.
type Client struct {
	config      *config.Config
	sdk         *haulsdk.HaulSDK
	store       *upload.SqliteSessionStore
	coordinator *upload.UploadCoordinator
	flock       *flock.Flock
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dataDir, err := utils.ResolvePath(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.DataDir, err)
	}
	cfg.DataDir = dataDir

	if err := utils.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dataDir, err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return nil, ErrDataDirLocked
	}

	sdk, err := haulsdk.New(cfg.ServerURL)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to create sdk: %w", err)
	}

	store, err := upload.NewSessionStore(filepath.Join(dataDir, sessionsDB))
	if err != nil {
		sdk.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	coordinator := upload.NewCoordinator(store, sdk.Uploads, upload.DefaultCoordinatorConfig())

	return &Client{
		config:      cfg,
		sdk:         sdk,
		store:       store,
		coordinator: coordinator,
		flock:       lock,
	}, nil
}

// Coordinator exposes the upload pipeline to the control plane.
func (c *Client) Coordinator() *upload.UploadCoordinator {
	return c.coordinator
}

func (c *Client) Config() *config.Config {
	return c.config
}

// Start launches the pipeline and restores persisted sessions. It does not
// block; pair with Stop.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("haulbox client start", "datadir", c.config.DataDir, "server", c.config.ServerURL)

	if err := c.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	restored, err := c.coordinator.RestoreAll(ctx)
	if err != nil {
		slog.Error("session restore failed", "error", err)
	} else if len(restored) > 0 {
		slog.Info("sessions restored", "count", len(restored))
	}

	return nil
}

// Stop drains the pipeline and releases the data dir.
func (c *Client) Stop() {
	c.coordinator.Stop()
	c.store.Close()
	c.sdk.Close()
	c.unlock()
	slog.Info("haulbox client stop")
}

// Run starts the pipeline and blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}

func (c *Client) unlock() {
	// if this process hasn't locked the data dir, then don't delete the lock file
	if !c.flock.Locked() {
		return
	}
	if err := c.flock.Unlock(); err != nil {
		slog.Warn("failed to unlock data dir", "error", err)
		return
	}
	os.Remove(c.flock.Path())
}
