// Package assembler 把小时片段与填充视频合成为日视频
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/pkg/timewin"
)

// Codec 合成依赖的编解码能力，由 ffwork.Runner 实现
type Codec interface {
	Concat(ctx context.Context, inputs []string, output string) error
	ConcatEncode(ctx context.Context, inputs []string, output string, fps, width, height int) error
	ReduceBitrate(ctx context.Context, input, output string, kbps int) error
	Trim(ctx context.Context, input, output string, max time.Duration) error
	ImagesToVideo(ctx context.Context, images []string, output string, fps, width, height int) error
}

// Core business domain
type Core struct {
	storage       storage.Core
	codec         Codec
	conf          *conf.Codec
	fillEmptyDays bool
}

type Option func(*Core)

// WithConfig 注入编解码配置
func WithConfig(c *conf.Codec) Option {
	return func(core *Core) {
		core.conf = c
	}
}

// WithFillEmptyDays 没有任何真实片段的日子使用通用无数据日视频
func WithFillEmptyDays(fill bool) Option {
	return func(c *Core) {
		c.fillEmptyDays = fill
	}
}

// NewCore create business domain
func NewCore(store storage.Core, codec Codec, opts ...Option) Core {
	c := Core{storage: store, codec: codec}
	for _, opt := range opts {
		opt(&c)
	}
	if c.conf == nil {
		def := conf.DefaultConfig().Codec
		c.conf = &def
	}
	return c
}

// Result 一次日视频合成的结果
type Result struct {
	Resource int       `json:"resource"`
	Day      time.Time `json:"day"`
	Segments int       `json:"segments"` // 真实小时片段
	Fillers  int       `json:"fillers"`  // 使用填充视频的小时
	Skipped  int       `json:"skipped"`  // 既无片段也无填充的小时
	Generic  bool      `json:"generic"`  // 使用了通用无数据日视频
}

// AssembleDay 按小时升序拼接某天的片段，缺失小时用白天/夜间填充视频补齐
// 生成标准与低码率两个版本并成对保存
func (c Core) AssembleDay(ctx context.Context, resourceNumber int, day time.Time) (Result, error) {
	const op = "AssembleDay"
	res, err := c.storage.Registry().Get(resourceNumber)
	if err != nil {
		return Result{}, err
	}
	log := slog.With("resource", resourceNumber)
	start := timewin.StartOfDay(day, res.Location)
	result := Result{Resource: resourceNumber, Day: start}

	// 转码错误已带有各自的种类，原样返回
	if err := c.storage.TranscodeLegacyFormatErr(ctx, resourceNumber, start); err != nil {
		return result, err
	}
	segs, err := c.storage.HourSegments(ctx, resourceNumber, start, instance.FormatMP4)
	if err != nil {
		return result, err
	}
	if len(segs) == 0 {
		return c.assembleEmptyDay(ctx, result)
	}

	inputs := make([]string, 0, 25)
	for _, hour := range timewin.HourStarts(start, res.Location) {
		if seg, ok := segs[hour.UnixMilli()]; ok {
			inputs = append(inputs, c.storage.AbsPath(seg.Path))
			result.Segments++
			continue
		}
		filler, ok := c.storage.FillerFor(res, hour)
		if !ok {
			result.Skipped++
			log.WarnContext(ctx, "no filler for missing hour", "hour", hour.Format(time.DateTime))
			continue
		}
		inputs = append(inputs, filler)
		result.Fillers++
	}

	work, err := c.workDir(c.storage.Layout().ResourceDir(res))
	if err != nil {
		return result, bz.NewError(op, resourceNumber, bz.ErrIO, err)
	}
	defer os.RemoveAll(work)

	std := filepath.Join(work, "day.mp4")
	low := filepath.Join(work, "day_low.mp4")
	// 填充视频与真实片段的编码参数可能不同，混合时重新编码
	concat := c.codec.Concat
	if result.Fillers > 0 {
		concat = func(ctx context.Context, inputs []string, output string) error {
			return c.codec.ConcatEncode(ctx, inputs, output, c.conf.HourFPS, res.Width, res.Height)
		}
	}
	if err := concat(ctx, inputs, std); err != nil {
		return result, bz.NewError(op, resourceNumber, bz.ErrAssembly, fmt.Errorf("concat: %w", err))
	}
	if err := c.codec.ReduceBitrate(ctx, std, low, c.conf.LowBitrateKbps); err != nil {
		return result, bz.NewError(op, resourceNumber, bz.ErrAssembly, fmt.Errorf("reduce bitrate: %w", err))
	}
	if err := c.storage.PlaceDayLongFiles(ctx, resourceNumber, start, std, low, result.Segments); err != nil {
		return result, err
	}
	log.InfoContext(ctx, "day long assembled",
		"day", start.Format(time.DateOnly),
		"segments", result.Segments,
		"fillers", result.Fillers,
		"skipped", result.Skipped,
	)
	return result, nil
}

// assembleEmptyDay 没有任何真实片段时复制通用无数据日视频
func (c Core) assembleEmptyDay(ctx context.Context, result Result) (Result, error) {
	const op = "AssembleDay"
	if !c.fillEmptyDays {
		return result, bz.NewError(op, result.Resource, bz.ErrNoMaterial, errors.New("no hour segments"))
	}
	genericStd, genericLow, ok := c.storage.GenericDayLongFiles()
	if !ok {
		return result, bz.NewError(op, result.Resource, bz.ErrNoMaterial, errors.New("generic day long video is missing"))
	}
	res, err := c.storage.Registry().Get(result.Resource)
	if err != nil {
		return result, err
	}
	work, err := c.workDir(c.storage.Layout().ResourceDir(res))
	if err != nil {
		return result, bz.NewError(op, result.Resource, bz.ErrIO, err)
	}
	defer os.RemoveAll(work)

	std, low := filepath.Join(work, "day.mp4"), filepath.Join(work, "day_low.mp4")
	if err := copyFile(genericStd, std); err != nil {
		return result, bz.NewError(op, result.Resource, bz.ErrIO, err)
	}
	if err := copyFile(genericLow, low); err != nil {
		return result, bz.NewError(op, result.Resource, bz.ErrIO, err)
	}
	if err := c.storage.PlaceDayLongFiles(ctx, result.Resource, result.Day, std, low, 0); err != nil {
		return result, err
	}
	result.Generic = true
	slog.InfoContext(ctx, "empty day filled with generic video", "resource", result.Resource, "day", result.Day.Format(time.DateOnly))
	return result, nil
}

// BuildGenericDayLong 通用无数据小时视频重复 24 次，截取到最大时长，并生成低码率版本
func (c Core) BuildGenericDayLong(ctx context.Context) error {
	const op = "BuildGenericDayLong"
	layout := c.storage.Layout()
	hour := layout.GenericHour()
	if _, err := os.Stat(hour); err != nil {
		return bz.NewError(op, 0, bz.ErrNoMaterial, err)
	}
	work, err := c.workDir(layout.GenericDir())
	if err != nil {
		return bz.NewError(op, 0, bz.ErrIO, err)
	}
	defer os.RemoveAll(work)

	inputs := make([]string, 24)
	for i := range inputs {
		inputs[i] = hour
	}
	joined := filepath.Join(work, "joined.mp4")
	std := filepath.Join(work, "day.mp4")
	low := filepath.Join(work, "day_low.mp4")
	if err := c.codec.Concat(ctx, inputs, joined); err != nil {
		return bz.NewError(op, 0, bz.ErrAssembly, fmt.Errorf("concat: %w", err))
	}
	maxDuration := c.conf.MaxGenericDuration.Duration()
	if maxDuration <= 0 {
		maxDuration = 24 * time.Hour
	}
	if err := c.codec.Trim(ctx, joined, std, maxDuration); err != nil {
		return bz.NewError(op, 0, bz.ErrAssembly, fmt.Errorf("trim: %w", err))
	}
	if err := c.codec.ReduceBitrate(ctx, std, low, c.conf.LowBitrateKbps); err != nil {
		return bz.NewError(op, 0, bz.ErrAssembly, fmt.Errorf("reduce bitrate: %w", err))
	}
	if err := c.storage.PlaceGenericDayLongFiles(ctx, std, low); err != nil {
		return err
	}
	slog.InfoContext(ctx, "generic day long built", "max_duration", maxDuration.String())
	return nil
}

// BuildHourVideo 把一小时内的原始图片合成为小时视频
func (c Core) BuildHourVideo(ctx context.Context, resourceNumber int, hourStart time.Time) error {
	const op = "BuildHourVideo"
	res, err := c.storage.Registry().Get(resourceNumber)
	if err != nil {
		return err
	}
	local := hourStart.In(res.Location)
	hourStart = time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, res.Location)
	images, err := c.storage.FindInstances(ctx, resourceNumber, instance.KindImage, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return bz.NewError(op, resourceNumber, bz.ErrNoMaterial, fmt.Errorf("no images in hour %s", hourStart.Format(time.DateTime)))
	}
	paths := make([]string, 0, len(images))
	for _, img := range images {
		paths = append(paths, c.storage.AbsPath(img.Path))
	}

	work, err := c.workDir(c.storage.Layout().ResourceDir(res))
	if err != nil {
		return bz.NewError(op, resourceNumber, bz.ErrIO, err)
	}
	defer os.RemoveAll(work)

	out := filepath.Join(work, "hour.mp4")
	if err := c.codec.ImagesToVideo(ctx, paths, out, c.conf.HourFPS, res.Width, res.Height); err != nil {
		return bz.NewError(op, resourceNumber, bz.ErrAssembly, err)
	}
	if err := c.storage.PlaceFile(ctx, instance.NewHourVideo(resourceNumber, hourStart, instance.FormatMP4, nil), out); err != nil {
		return err
	}
	slog.InfoContext(ctx, "hour video built", "resource", resourceNumber, "hour", hourStart.Format(time.DateTime), "images", len(images))
	return nil
}

// workDir 在目标目录下创建隐藏的工作目录，产物改名即可就位
func (c Core) workDir(parent string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(parent, ".work-*")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
