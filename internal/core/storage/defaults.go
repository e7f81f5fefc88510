package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/resource"
)

// SetDefaultDaytimeMedia 保存白天默认图片并生成一小时填充视频
func (c Core) SetDefaultDaytimeMedia(ctx context.Context, resourceNumber int, image []byte) bool {
	return c.logged(ctx, "set default daytime media", c.SetDefaultMediaErr(ctx, resourceNumber, true, image))
}

// SetDefaultNighttimeMedia 保存夜间默认图片并生成一小时填充视频
func (c Core) SetDefaultNighttimeMedia(ctx context.Context, resourceNumber int, image []byte) bool {
	return c.logged(ctx, "set default nighttime media", c.SetDefaultMediaErr(ctx, resourceNumber, false, image))
}

// SetDefaultMediaErr 默认媒体的结构化错误版本
func (c Core) SetDefaultMediaErr(ctx context.Context, resourceNumber int, daytime bool, image []byte) error {
	const op = "SetDefaultMedia"
	res, err := c.registry.Get(resourceNumber)
	if err != nil {
		return err
	}
	if len(image) == 0 {
		return bz.NewError(op, resourceNumber, bz.ErrConfiguration, errors.New("empty image"))
	}
	still := c.layout.DefaultStill(res, daytime)
	video := c.layout.DefaultVideo(res, daytime)
	if err := c.stillAndVideo(ctx, image, still, video, res.Width, res.Height); err != nil {
		return bz.NewError(op, resourceNumber, errKind(err), err)
	}
	return nil
}

// SetGenericNoDataMedia 保存与资源无关的无数据图片与一小时视频
func (c Core) SetGenericNoDataMedia(ctx context.Context, image []byte) bool {
	return c.logged(ctx, "set generic no data media", c.SetGenericNoDataMediaErr(ctx, image))
}

// SetGenericNoDataMediaErr 同 SetGenericNoDataMedia，返回结构化错误
func (c Core) SetGenericNoDataMediaErr(ctx context.Context, image []byte) error {
	const op = "SetGenericNoDataMedia"
	if len(image) == 0 {
		return bz.NewError(op, 0, bz.ErrConfiguration, errors.New("empty image"))
	}
	if err := c.stillAndVideo(ctx, image, c.layout.GenericStill(), c.layout.GenericHour(), 0, 0); err != nil {
		return bz.NewError(op, 0, errKind(err), err)
	}
	return nil
}

var errNoCodec = errors.New("codec is not configured")

func (c Core) stillAndVideo(ctx context.Context, image []byte, still, video string, width, height int) error {
	if c.codec == nil {
		return errNoCodec
	}
	if _, err := writeAtomic(still, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(image))
		return err
	}); err != nil {
		return err
	}
	// 编码到同目录临时文件，成功后替换，失败不影响已有的填充视频
	tmp := filepath.Join(filepath.Dir(video), ".tmp-"+uuid.NewString()+filepath.Ext(video))
	if err := c.codec.StillToVideo(ctx, still, tmp, c.fillerDuration, width, height); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(bz.ErrAssembly, err)
	}
	return os.Rename(tmp, video)
}

func errKind(err error) error {
	switch {
	case errors.Is(err, errNoCodec):
		return bz.ErrConfiguration
	case errors.Is(err, bz.ErrAssembly):
		return bz.ErrAssembly
	}
	return bz.ErrIO
}

func (c Core) logged(ctx context.Context, msg string, err error) bool {
	if err != nil {
		slog.ErrorContext(ctx, msg, "err", err)
		return false
	}
	return true
}

// FillerFor 缺失小时使用的填充视频：资源的白天/夜间默认，其次通用无数据视频
func (c Core) FillerFor(res *resource.Resource, hourStart time.Time) (string, bool) {
	if p := c.layout.DefaultVideo(res, res.IsDaytime(hourStart)); fileExists(p) {
		return p, true
	}
	if p := c.layout.GenericHour(); fileExists(p) {
		return p, true
	}
	return "", false
}

// GenericDayLongFiles 当前生效的通用无数据日视频对，不存在时返回 false
func (c Core) GenericDayLongFiles() (standard, low string, ok bool) {
	standard, low, err := resolveGeneration(c.layout.GenericDir(), genericDayLongName(false), genericDayLongName(true))
	return standard, low, err == nil
}

// PlaceGenericDayLongFiles 与资源日视频对相同，新版本整体就位后才替换旧版本，源文件被移走
func (c Core) PlaceGenericDayLongFiles(ctx context.Context, standardSrc, lowSrc string) error {
	const op = "PlaceGenericDayLongFiles"
	dir := c.layout.GenericDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return bz.NewError(op, 0, bz.ErrIO, err)
	}
	generation, err := commitGeneration(ctx, dir, func(genDir string) error {
		if err := moveFile(standardSrc, filepath.Join(genDir, genericDayLongName(false))); err != nil {
			return err
		}
		return moveFile(lowSrc, filepath.Join(genDir, genericDayLongName(true)))
	})
	if err != nil {
		return bz.NewError(op, 0, bz.ErrIO, err)
	}
	slog.InfoContext(ctx, "generic day long pair placed", "generation", generation)
	return nil
}

// EnsureDirectoryStructure 创建资源根目录、默认媒体目录与通用目录，可重复调用
func (c Core) EnsureDirectoryStructure(resourceNumber int) bool {
	res, ok := c.registry.Lookup(resourceNumber)
	if !ok {
		slog.Error("ensure directory structure", "resource", resourceNumber, "err", "unknown resource")
		return false
	}
	for _, dir := range []string{c.layout.ResourceDir(res), c.layout.DefaultsDir(res), c.layout.GenericDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("ensure directory structure", "resource", resourceNumber, "dir", dir, "err", err)
			return false
		}
	}
	return true
}
