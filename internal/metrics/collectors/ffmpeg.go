// Package collectors feeds pipeline metrics from ffmpeg's -progress output.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/metrics"
)

// FFmpegCollector collects FFmpeg progress data via Unix socket.
// Pass ProgressURL() to ffmpeg with -progress.
type FFmpegCollector struct {
	logger     *slog.Logger
	socketPath string
	pipelineID string
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	done       chan struct{}
}

// NewFFmpegCollector creates a new FFmpeg collector.
func NewFFmpegCollector(socketPath, pipelineID string) *FFmpegCollector {
	return &FFmpegCollector{
		logger:     logging.GetLogger("ffmpeg").With("pipeline", pipelineID),
		socketPath: socketPath,
		pipelineID: pipelineID,
	}
}

// ProgressURL returns the -progress target for ffmpeg.
func (f *FFmpegCollector) ProgressURL() string {
	return "unix://" + f.socketPath
}

// SocketPath returns the Unix socket path ffmpeg connects to.
func (f *FFmpegCollector) SocketPath() string {
	return f.socketPath
}

// Start listens on the socket before returning, so ffmpeg can connect as soon
// as it is launched.
func (f *FFmpegCollector) Start(ctx context.Context) error {
	if err := os.Remove(f.socketPath); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("Failed to clean up old socket file", "error", err)
	}

	listener, err := net.Listen("unix", f.socketPath)
	if err != nil {
		return err
	}

	f.listener = listener
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	f.logger.Debug("Progress socket listening", "socket", f.socketPath)
	go f.acceptLoop()
	return nil
}

// Stop stops the FFmpeg collector.
func (f *FFmpegCollector) Stop() error {
	var stopErr error
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		if f.listener != nil {
			stopErr = f.listener.Close()
			<-f.done
		}
		if f.socketPath != "" {
			os.Remove(f.socketPath)
		}
		metrics.DeletePipelineMetrics(f.pipelineID)
	})
	return stopErr
}

func (f *FFmpegCollector) acceptLoop() {
	defer close(f.done)

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-f.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.logger.Warn("Error accepting connection", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		go f.handleConnection(conn)
	}
}

// handleConnection reads key=value blocks, each terminated by a progress
// line, and publishes the block as pipeline metrics.
func (f *FFmpegCollector) handleConnection(conn net.Conn) {
	defer conn.Close()

	block := make(map[string]string)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if f.ctx.Err() != nil {
			return
		}
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		block[key] = strings.TrimSpace(value)
		if key == "progress" {
			publishProgress(f.pipelineID, block)
			clear(block)
		}
	}
}

// publishProgress updates the gauges of pipelineID from one progress block.
// Keys ffmpeg reports as N/A or omits leave their gauge untouched.
func publishProgress(pipelineID string, block map[string]string) {
	number := func(key string) (float64, bool) {
		v, err := strconv.ParseFloat(strings.TrimSuffix(block[key], "x"), 64)
		return v, err == nil
	}
	if v, ok := number("fps"); ok {
		metrics.SetPipelineFPS(pipelineID, v)
	}
	if v, ok := number("drop_frames"); ok {
		metrics.SetPipelineDroppedFrames(pipelineID, v)
	}
	if v, ok := number("dup_frames"); ok {
		metrics.SetPipelineDuplicateFrames(pipelineID, v)
	}
	if v, ok := number("speed"); ok {
		metrics.SetPipelineSpeed(pipelineID, v)
	}
}
