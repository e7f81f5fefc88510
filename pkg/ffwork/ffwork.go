package ffwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ixugo/goddd/pkg/queue"
)

type (
	Config struct {
		Binary   string
		Timeout  time.Duration // 单次调用超时，0 表示不限制
		Attempts uint
		LogLines int
	}
	// Runner 串行调用外部 ffmpeg，调用方阻塞直到完成、失败或超时
	Runner struct {
		cfg Config
	}
)

// ErrTimeout ffmpeg 在超时时间内没有退出
var ErrTimeout = errors.New("ffmpeg timeout")

func NewRunner(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = 50
	}
	return &Runner{cfg: cfg}
}

// Available 检查 ffmpeg 是否可执行
func (r *Runner) Available() error {
	_, err := exec.LookPath(r.cfg.Binary)
	return err
}

// Run 执行一次 ffmpeg，失败时按配置退避重试
// 超时与取消不会重试
func (r *Runner) Run(ctx context.Context, args ...string) error {
	return retry.Do(
		func() error { return r.once(ctx, args) },
		retry.Context(ctx),
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrTimeout) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.WarnContext(ctx, "ffmpeg retry", "attempt", n+1, "err", err)
		}),
	)
}

func (r *Runner) once(ctx context.Context, args []string) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	full := append([]string{"-hide_banner", "-loglevel", "warning", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, r.cfg.Binary, full...)
	cmd.WaitDelay = 5 * time.Second

	// 只保留 stderr 最后若干行，错误时附带输出便于排查
	stderr := newLineWriter(r.cfg.LogLines)
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		slog.DebugContext(ctx, "ffmpeg done", "args", strings.Join(args, " "), "cost", time.Since(start).String())
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrTimeout, r.cfg.Timeout, stderr.Tail())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, stderr.Tail())
}

// lineWriter 把 stderr 按行写入环形队列
type lineWriter struct {
	m    sync.Mutex
	buf  bytes.Buffer
	tail *queue.CirQueue[string]
}

func newLineWriter(lines int) *lineWriter {
	return &lineWriter{tail: queue.NewCirQueue[string](lines)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.m.Lock()
	defer w.m.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// 不完整的行放回缓冲区
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			w.tail.Push(line)
		}
	}
	return len(p), nil
}

// Tail 最近的输出
func (w *lineWriter) Tail() string {
	w.m.Lock()
	defer w.m.Unlock()
	lines := w.tail.Range()
	if rest := strings.TrimSpace(w.buf.String()); rest != "" {
		lines = append(lines, rest)
	}
	return strings.Join(lines, "; ")
}
