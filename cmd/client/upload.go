package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openhaul/haulbox/internal/client"
	"github.com/openhaul/haulbox/internal/upload"
)

func init() {
	rootCmd.AddCommand(newUploadCmd())
}

// newUploadCmd is the one-shot path: scan the given paths, push everything
// and exit once the batch settles.
func newUploadCmd() *cobra.Command {
	var dest string
	var ignoreGlobs []string

	uploadCmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files or folders to the HaulBox server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := c.Start(runCtx); err != nil {
				return err
			}
			defer c.Stop()

			coordinator := c.Coordinator()
			ctx := cmd.Context()

			result, err := coordinator.Scan(ctx, &upload.Selection{
				Paths:       args,
				IgnoreGlobs: ignoreGlobs,
			})
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			sessions, err := coordinator.SubmitBatch(ctx, result, dest)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			if len(sessions) == 0 {
				slog.Info("nothing to upload")
				return nil
			}

			if err := waitForBatch(ctx, coordinator); err != nil {
				return err
			}

			failed := 0
			for _, session := range coordinator.Sessions() {
				if session.Status == upload.StatusError {
					slog.Error("upload failed", "path", session.RelPath, "error", session.LastError)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(sessions))
			}

			progress := coordinator.Progress()
			slog.Info("batch complete",
				"files", len(sessions),
				"bytes", humanize.Bytes(uint64(progress.TotalBytes)))
			return nil
		},
	}

	uploadCmd.Flags().StringVarP(&dest, "dest", "D", "", "Destination base path on the server")
	uploadCmd.Flags().StringSliceVarP(&ignoreGlobs, "ignore", "i", nil, "Glob patterns to skip while scanning")

	return uploadCmd
}

func waitForBatch(ctx context.Context, coordinator *upload.UploadCoordinator) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			progress := coordinator.Progress()
			slog.Info("uploading",
				"done", humanize.Bytes(uint64(progress.UploadedBytes)),
				"total", humanize.Bytes(uint64(progress.TotalBytes)),
				"rate", humanize.Bytes(uint64(progress.Rate))+"/s",
				"active", progress.Active)
			if !coordinator.HasActiveSessions() {
				return nil
			}
		}
	}
}
