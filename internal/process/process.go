package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutputHandler receives output lines from the subprocess.
// Implementations can feed progress collectors, store metrics, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg etc.)
type LogParser func(line string) (level, msg string)

// ErrAlreadyStarted is returned by Start on a process that was started before.
var ErrAlreadyStarted = errors.New("process already started")

// exitCodeKilled is reported when the process had to be force killed.
const exitCodeKilled = 137

// Process manages the lifecycle of a single subprocess whose stdin, stdout and
// extra file descriptors can be wired to pipes owned by the caller.
type Process struct {
	id      string
	command string
	logger  *slog.Logger

	processLogger   *slog.Logger // logger for process output (nil = use logger)
	logParser       LogParser    // parses process output for log level (nil = no parsing)
	outputHandler   OutputHandler
	pipeStdin       bool
	pipeStdout      bool
	extraInputs     int
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	lastErr   error
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	extra     []io.WriteCloser

	stopOnce sync.Once
	exitCode int
	exitErr  error
	done     chan struct{}
}

// Option configures a Process.
type Option func(*Process)

// WithStdin exposes the process stdin as a writable pipe.
func WithStdin() Option {
	return func(p *Process) { p.pipeStdin = true }
}

// WithStdout exposes the process stdout as a readable pipe. Without it stdout
// lines are logged like stderr.
func WithStdout() Option {
	return func(p *Process) { p.pipeStdout = true }
}

// WithExtraInputs adds n writable pipes, visible to the child as fd 3, 4, ...
func WithExtraInputs(n int) Option {
	return func(p *Process) { p.extraInputs = n }
}

// WithLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
// The parser extracts log level from process-specific output formats.
func WithLogParser(logger *slog.Logger, parser LogParser) Option {
	return func(p *Process) {
		p.processLogger = logger
		p.logParser = parser
	}
}

// WithOutputHandler receives every logged output line.
func WithOutputHandler(h OutputHandler) Option {
	return func(p *Process) { p.outputHandler = h }
}

// WithGracefulTimeout sets how long Stop waits after SIGINT before killing.
func WithGracefulTimeout(d time.Duration) Option {
	return func(p *Process) { p.gracefulTimeout = d }
}

// New creates a process for command. Nothing runs until Start.
func New(id, command string, logger *slog.Logger, opts ...Option) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Process{
		id:              id,
		command:         command,
		logger:          logger.With("process", id),
		state:           StateIdle,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Command returns the command string.
func (p *Process) Command() string {
	return p.command
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{ID: p.id, State: p.state, StartedAt: p.startedAt, LastError: p.lastErr}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// Stdin returns the stdin pipe, or nil without WithStdin.
func (p *Process) Stdin() io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin
}

// Stdout returns the stdout pipe, or nil without WithStdout.
func (p *Process) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// ExtraInput returns the i-th extra pipe (fd 3+i in the child), or nil.
func (p *Process) ExtraInput(i int) io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.extra) {
		return nil
	}
	return p.extra[i]
}

// Done is closed once the process exited and its output was drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) setState(s State, err error) {
	p.mu.Lock()
	p.state = s
	if err != nil {
		p.lastErr = err
	}
	p.mu.Unlock()
}

// Start launches the subprocess. When ctx is cancelled the process is stopped
// the same way Stop does it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = StateStarting
	p.mu.Unlock()

	if err := p.startProcess(); err != nil {
		p.setState(StateError, err)
		p.exitCode, p.exitErr = 1, err
		close(p.done)
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			p.logger.Debug("Context cancelled, stopping process")
			p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

// startProcess parses the command, wires the pipes and starts the subprocess.
func (p *Process) startProcess() error {
	args, err := parseCommand(p.command)
	if err != nil {
		p.logger.Error("Failed to parse command", "error", err)
		return err
	}
	if len(args) == 0 {
		p.logger.Error("Empty command")
		return fmt.Errorf("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Child ends are closed in the parent once the child has them.
	var childEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			f.Close()
		}
	}
	var parentEnds []io.Closer
	fail := func(err error) error {
		closeAll(childEnds)
		for _, c := range parentEnds {
			c.Close()
		}
		return err
	}

	var stdin io.WriteCloser
	if p.pipeStdin {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("stdin pipe: %w", err))
		}
		cmd.Stdin = r
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
		stdin = w
	}

	var stdout io.ReadCloser
	var stdoutLog io.Reader
	if p.pipeStdout {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("stdout pipe: %w", err))
		}
		cmd.Stdout = w
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
		stdout = r
	} else {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return fail(fmt.Errorf("stdout pipe: %w", err))
		}
		stdoutLog = r
	}

	extra := make([]io.WriteCloser, 0, p.extraInputs)
	for i := 0; i < p.extraInputs; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("extra pipe %d: %w", i, err))
		}
		cmd.ExtraFiles = append(cmd.ExtraFiles, r)
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
		extra = append(extra, w)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "error", err, "command", p.command)
		return fail(err)
	}
	closeAll(childEnds)

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.extra = extra
	p.state = StateRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("Process started", "pid", cmd.Process.Pid, "command", p.command)

	var outputs sync.WaitGroup
	outputs.Add(1)
	go func() {
		defer outputs.Done()
		p.streamOutput(stderr, "stderr")
	}()
	if stdoutLog != nil {
		outputs.Add(1)
		go func() {
			defer outputs.Done()
			p.streamOutput(stdoutLog, "stdout")
		}()
	}

	go func() {
		// Pipes from StdoutPipe/StderrPipe must be drained before Wait.
		outputs.Wait()
		err := cmd.Wait()
		p.exitCode = exitCodeFromError(err)
		p.exitErr = err
		if err != nil && p.exitCode == 1 {
			p.logger.Error("Process exited with error", "error", err)
		}
		p.logger.Info("Process exited", "exit_code", p.exitCode)

		p.mu.Lock()
		if err != nil && p.state != StateStopping {
			p.state = StateError
			p.lastErr = err
		} else {
			p.state = StateExited
		}
		p.mu.Unlock()
		close(p.done)
	}()
	return nil
}

// Stop sends SIGINT, force kills after the graceful timeout and returns the
// exit code. Safe to call more than once and on processes that already exited.
func (p *Process) Stop() int {
	p.mu.Lock()
	cmd := p.cmd
	if cmd == nil {
		p.mu.Unlock()
		return 0
	}
	if p.state == StateRunning {
		p.state = StateStopping
	}
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.sendStopSignal(cmd)
		p.waitForExit(cmd)
	})

	select {
	case <-p.done:
		return p.exitCode
	default:
		return exitCodeKilled
	}
}

// Run starts the process and blocks until it exits or ctx is cancelled.
// Returns the exit code of the subprocess.
func (p *Process) Run(ctx context.Context) int {
	if err := p.Start(ctx); err != nil {
		return 1
	}
	<-p.done
	return p.exitCode
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
	}
	return 1
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	p.logger.Info("Sending SIGINT to process group", "pid", cmd.Process.Pid)
	// The child leads its own process group (Setpgid), so helpers it spawned stop too.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(cmd *exec.Cmd) {
	select {
	case <-p.done:
		return
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", p.gracefulTimeout)
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// ESRCH is OK - process exited between timeout and kill
		if !errors.Is(err, syscall.ESRCH) {
			p.logger.Error("Failed to kill process group", "error", err)
			_ = cmd.Process.Kill()
		}
	}
	// Wait for process to exit with a secondary timeout to prevent hanging
	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal")
	}
}

// streamOutput logs output from the subprocess line by line.
// Uses the configured processLogger (or falls back to default logger).
// Uses the configured LogParser to extract log levels from process output.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// parseCommand parses a command string into arguments
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	hasArg := false

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
				hasArg = true
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			hasArg = true
		default:
			current.WriteRune(r)
			hasArg = true
		}
	}

	if hasArg {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
