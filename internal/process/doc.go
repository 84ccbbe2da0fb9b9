// Package process runs ffmpeg style subprocesses that are fed and drained
// through pipes.
//
// A Process wraps os/exec for a single subprocess:
//   - stdin, stdout and extra file descriptors (fd 3+) exposed as pipes
//   - stderr (and stdout when not piped) logged line by line with a pluggable parser
//   - graceful shutdown with SIGINT and a configurable timeout
//   - force kill with SIGKILL if graceful shutdown times out
//
// Example:
//
//	p := process.New("preview", "ffmpeg -f rawvideo ... -f h264 pipe:1", logger,
//	    process.WithStdin(), process.WithStdout())
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	go feed(p.Stdin())
//	consume(p.Stdout())
//	p.Stop()
package process
