package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/spf13/cobra"
)

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	var opts runOptions
	var rec RecordOptions
	var duration time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the watermarked camera for a fixed duration",
		Long: `Starts the camera with the options from the camera file and records the ` +
			`composited stream until the duration elapses or the process is interrupted. ` +
			`The finalized recording is written to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.initLogging(cmd.Flags())
			logger := logging.GetLogger("record")

			recorder, err := NewRecorderFactory(rec, opts.source.ProgressDir, logging.GetLogger("recorder"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			session, err := opts.startSession(startCtx, recorder, logger)
			if err != nil {
				return err
			}
			defer func() { _ = session.Destroy() }()

			// An auto-stop through recordLimit finalizes on its own.
			limited := make(chan *media.Artifact, 1)
			unsub := session.On(media.EventRecord, func(a *media.Artifact) {
				select {
				case limited <- a:
				default:
				}
			})
			defer unsub()

			if err := session.StartRecording(); err != nil {
				return err
			}
			logger.Info("Recording", "duration", duration, "mime_type", session.Recording().MimeType)

			var clip *media.Artifact
			select {
			case <-time.After(duration):
			case <-ctx.Done():
				logger.Info("Interrupted, finalizing recording")
			case clip = <-limited:
			}

			if clip == nil {
				stopCtx, cancelStop := context.WithTimeout(context.Background(), rec.Finalize+5*time.Second)
				defer cancelStop()
				clip, err = session.StopRecording(stopCtx)
				if err != nil {
					return err
				}
			}

			path, err := opts.save(clip, logger)
			if err != nil {
				return err
			}
			logger.Info("Recording saved", "path", path, "bytes", len(clip.Data), "duration", clip.Duration)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	opts.bind(cmd.Flags())
	BindRecordFlags(cmd.Flags(), &rec)
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "Recording length")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up when the camera delivers no frame in time")

	return cmd
}
