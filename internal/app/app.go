package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/ixugo/goddd/pkg/system"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Engine 不启动 HTTP 服务的命令行任务使用
type Engine struct {
	Registry  *resource.Registry
	Storage   storage.Core
	Assembler assembler.Core
}

// Run 启动 HTTP 服务与定时任务，收到退出信号后优雅关闭
func Run(bc *conf.Bootstrap) error {
	handler, cleanUp, err := wireApp(bc)
	if err != nil {
		return err
	}
	defer cleanUp()

	svc := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      bc.Server.HTTP.Timeout.Duration(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", svc.Addr, "version", bc.BuildVersion)
		if err := svc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

// SetupLog JSON 日志同时输出到控制台与按天切割的文件
func SetupLog(bc *conf.Bootstrap) (*slog.Logger, func()) {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(bc.Log.Level))
	if bc.Server.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	dir := bc.Log.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	if dir != "" {
		w, err := newRotateWriter(dir, bc.Log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file disabled: %v\n", err)
		} else {
			out = io.MultiWriter(os.Stdout, w)
			closeFn = func() { _ = w.Close() }
		}
	}

	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}))
	slog.SetDefault(log)
	return log, closeFn
}

func newRotateWriter(dir string, cfg conf.Log) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(dir, "skylapse.log")),
	}
	if d := cfg.MaxAge.Duration(); d > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(d))
	}
	if d := cfg.RotationTime.Duration(); d > 0 {
		opts = append(opts, rotatelogs.WithRotationTime(d))
	}
	return rotatelogs.New(filepath.Join(dir, "skylapse_%Y%m%d.log"), opts...)
}
