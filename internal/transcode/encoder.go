package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Encoder turns src into dst using profile p. Implementations must stop and
// return promptly once ctx is canceled.
type Encoder interface {
	Encode(ctx context.Context, src, dst string, p Profile) error
}

// DefaultGracePeriod is how long ffmpeg gets to finish after an interrupt.
const DefaultGracePeriod = 5 * time.Second

// stderrTail is how much encoder diagnostic output is kept for error messages.
const stderrTail = 4096

// FFmpegEncoder runs the ffmpeg binary as an external process.
type FFmpegEncoder struct {
	Binary      string
	GracePeriod time.Duration
	Log         *slog.Logger
}

// NewFFmpegEncoder returns an encoder that runs binary ("ffmpeg" when empty).
func NewFFmpegEncoder(binary string, log *slog.Logger) *FFmpegEncoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegEncoder{Binary: binary, GracePeriod: DefaultGracePeriod, Log: log}
}

// Args returns the full ffmpeg argument list for one encode.
func (e *FFmpegEncoder) Args(src, dst string, p Profile) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", src}
	args = append(args, p.Args()...)
	return append(args, dst)
}

// Encode runs ffmpeg to completion. Canceling ctx interrupts ffmpeg and kills
// it if it has not exited after GracePeriod.
func (e *FFmpegEncoder) Encode(ctx context.Context, src, dst string, p Profile) error {
	args := e.Args(src, dst, p)
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	e.Log.Debug("starting encoder", "binary", e.Binary, "src", src, "dst", dst, "profile", p.Name)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		if msg := lastLines(stderr.String(), 3); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
