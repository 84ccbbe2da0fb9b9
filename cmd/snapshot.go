package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/markcam/internal/logging"
	"github.com/spf13/cobra"
)

// CreateSnapshotCmd creates the snapshot command.
func CreateSnapshotCmd() *cobra.Command {
	var opts runOptions
	var delay time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture one watermarked still",
		Long: `Starts the camera with the options from the camera file, waits for the first ` +
			`composited frame and writes it as PNG to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.initLogging(cmd.Flags())
			logger := logging.GetLogger("snapshot")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			session, err := opts.startSession(startCtx, nil, logger)
			if err != nil {
				return err
			}
			defer func() { _ = session.Destroy() }()

			if delay > 0 {
				logger.Info("Waiting before capture", "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			still, err := session.Capture()
			if err != nil {
				return err
			}
			path, err := opts.save(still, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	opts.bind(cmd.Flags())
	cmd.Flags().DurationVar(&delay, "delay", 0, "Wait after the first frame before capturing (lets exposure settle)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up when the camera delivers no frame in time")

	return cmd
}
