package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/ixugo/goddd/pkg/orm"
)

// PlaceInstance 保存实例并写入索引，失败记录日志并返回 false
func (c Core) PlaceInstance(ctx context.Context, inst *instance.Instance) bool {
	if err := c.PlaceInstanceErr(ctx, inst); err != nil {
		slog.ErrorContext(ctx, "place instance", "err", err)
		return false
	}
	return true
}

// PlaceInstanceErr 同 PlaceInstance，返回结构化错误
// 同一身份的实例再次写入时覆盖
func (c Core) PlaceInstanceErr(ctx context.Context, inst *instance.Instance) error {
	const op = "PlaceInstance"
	res, err := c.checkInstance(op, inst)
	if err != nil {
		return err
	}

	path := c.layout.InstancePath(res, inst)
	size, err := writeAtomic(path, inst.WritePayload)
	if err != nil {
		return bz.NewError(op, inst.Resource, bz.ErrIO, err)
	}
	if err := c.index(ctx, inst, path, size); err != nil {
		return bz.NewError(op, inst.Resource, bz.ErrIO, err)
	}
	slog.DebugContext(ctx, "instance placed", "resource", inst.Resource, "kind", inst.Kind.String(), "path", path)
	return nil
}

// PlaceFile 把已在磁盘上的文件移动到实例的规范路径，用于合成产物
func (c Core) PlaceFile(ctx context.Context, inst *instance.Instance, src string) error {
	const op = "PlaceFile"
	res, err := c.checkInstance(op, inst)
	if err != nil {
		return err
	}
	path := c.layout.InstancePath(res, inst)
	if err := moveFile(src, path); err != nil {
		return bz.NewError(op, inst.Resource, bz.ErrIO, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return bz.NewError(op, inst.Resource, bz.ErrIO, err)
	}
	if err := c.index(ctx, inst, path, fi.Size()); err != nil {
		return bz.NewError(op, inst.Resource, bz.ErrIO, err)
	}
	return nil
}

func (c Core) checkInstance(op string, inst *instance.Instance) (*resource.Resource, error) {
	if err := inst.Validate(); err != nil {
		resNum := 0
		if inst != nil {
			resNum = inst.Resource
		}
		return nil, bz.NewError(op, resNum, bz.ErrConfiguration, err)
	}
	res, err := c.registry.Get(inst.Resource)
	if err != nil {
		return nil, err
	}
	if inst.Kind == instance.KindDayVideo {
		return nil, bz.NewError(op, inst.Resource, bz.ErrConfiguration, errors.New("day videos are placed as a pair"))
	}
	if !acceptsFormat(res, inst) {
		return nil, bz.NewError(op, inst.Resource, bz.ErrConfiguration,
			fmt.Errorf("format %q does not match resource format %q", inst.Format, res.Format))
	}
	return res, nil
}

// acceptsFormat 视频可以由图片合成，因此任何资源都接受视频格式
func acceptsFormat(res *resource.Resource, inst *instance.Instance) bool {
	if inst.Kind == instance.KindHourVideo {
		return inst.Format.IsVideo()
	}
	return inst.Format == res.Format
}

func (c Core) index(ctx context.Context, inst *instance.Instance, path string, size int64) error {
	return c.store.Instance().Upsert(ctx, &ResourceInstance{
		ResourceNumber: inst.Resource,
		Kind:           inst.Kind.String(),
		Format:         string(inst.Format),
		StartMs:        inst.Start.UnixMilli(),
		EndMs:          inst.End.UnixMilli(),
		LowQuality:     inst.LowQuality,
		Path:           c.relPath(path),
		Size:           size,
		CreatedAt:      orm.Now(),
	})
}

// PlaceDayLongPair 成对保存日视频，读者只会看到完整的旧版本或完整的新版本
func (c Core) PlaceDayLongPair(ctx context.Context, standard, low *instance.Instance) bool {
	if err := c.PlaceDayLongPairErr(ctx, standard, low); err != nil {
		slog.ErrorContext(ctx, "place day long pair", "err", err)
		return false
	}
	return true
}

// PlaceDayLongPairErr 同 PlaceDayLongPair，返回结构化错误
func (c Core) PlaceDayLongPairErr(ctx context.Context, standard, low *instance.Instance) error {
	const op = "PlaceDayLongPair"
	pair, err := instance.NewDayLongPair(standard, low)
	if err != nil {
		resNum := 0
		if standard != nil {
			resNum = standard.Resource
		}
		return bz.NewError(op, resNum, bz.ErrConfiguration, err)
	}
	res, err := c.registry.Get(pair.Standard.Resource)
	if err != nil {
		return err
	}
	return c.commitPair(ctx, op, res, pair.Standard.Start, 0, func(stdPath, lowPath string) error {
		if _, err := writeAtomic(stdPath, pair.Standard.WritePayload); err != nil {
			return err
		}
		_, err := writeAtomic(lowPath, pair.Low.WritePayload)
		return err
	})
}

// PlaceDayLongFiles 把合成好的两个文件作为一对保存，源文件被移走
func (c Core) PlaceDayLongFiles(ctx context.Context, resourceNumber int, day time.Time, standardSrc, lowSrc string, segments int) error {
	const op = "PlaceDayLongFiles"
	res, err := c.registry.Get(resourceNumber)
	if err != nil {
		return err
	}
	return c.commitPair(ctx, op, res, day, segments, func(stdPath, lowPath string) error {
		if err := moveFile(standardSrc, stdPath); err != nil {
			return err
		}
		return moveFile(lowSrc, lowPath)
	})
}

// commitPair 在新的版本目录写入两个文件，然后原子替换 daylong 符号链接
func (c Core) commitPair(ctx context.Context, op string, res *resource.Resource, day time.Time, segments int, fill func(stdPath, lowPath string) error) error {
	start := timewin.StartOfDay(day, res.Location)
	dayDir := c.layout.DayDir(res, start)
	var stdPath, lowPath string
	generation, err := commitGeneration(ctx, dayDir, func(genDir string) error {
		stdPath = filepath.Join(genDir, DayLongName(start, res.Location, false))
		lowPath = filepath.Join(genDir, DayLongName(start, res.Location, true))
		return fill(stdPath, lowPath)
	})
	if err != nil {
		return bz.NewError(op, res.Number, bz.ErrIO, err)
	}

	row := DayLongPair{
		ResourceNumber: res.Number,
		DayMs:          start.UnixMilli(),
		EndMs:          timewin.NextDay(start, res.Location).UnixMilli(),
		Generation:     generation,
		StandardPath:   c.relPath(filepath.Join(dayDir, DayLongDir, filepath.Base(stdPath))),
		LowPath:        c.relPath(filepath.Join(dayDir, DayLongDir, filepath.Base(lowPath))),
		Segments:       segments,
		StandardSize:   fileSize(stdPath),
		LowSize:        fileSize(lowPath),
		UpdatedAt:      orm.Now(),
	}
	if err := c.store.Pair().Upsert(ctx, &row); err != nil {
		return bz.NewError(op, res.Number, bz.ErrIO, err)
	}
	slog.InfoContext(ctx, "day long pair placed", "resource", res.Number, "day", start.Format(time.DateOnly), "generation", generation, "segments", segments)
	return nil
}

// commitGeneration 在 parent 下新建版本目录并写入文件，再原子切换 parent/daylong 链接，旧版本随后删除
func commitGeneration(ctx context.Context, parent string, fill func(genDir string) error) (string, error) {
	generation := generationPrefix + uuid.NewString()
	genDir := filepath.Join(parent, generation)
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return "", err
	}
	if err := fill(genDir); err != nil {
		_ = os.RemoveAll(genDir)
		return "", err
	}
	old, err := swapLink(parent, generation)
	if err != nil {
		_ = os.RemoveAll(genDir)
		return "", err
	}
	if old != "" && old != generation {
		if err := os.RemoveAll(filepath.Join(parent, old)); err != nil {
			slog.WarnContext(ctx, "remove old day long generation", "dir", old, "err", err)
		}
	}
	return generation, nil
}

// swapLink 让 dayDir/daylong 指向 generation，返回之前指向的版本目录
func swapLink(dayDir, generation string) (string, error) {
	link := filepath.Join(dayDir, DayLongDir)
	var old string
	fi, err := os.Lstat(link)
	switch {
	case err == nil && fi.Mode()&os.ModeSymlink != 0:
		old, _ = os.Readlink(link)
	case err == nil && fi.IsDir():
		// 旧版本直接存放在 daylong 目录中，先改名为一个版本目录
		old = generationPrefix + "legacy-" + uuid.NewString()
		if err := os.Rename(link, filepath.Join(dayDir, old)); err != nil {
			return "", err
		}
	case err == nil:
		return "", fmt.Errorf("%s is not a directory", link)
	case !os.IsNotExist(err):
		return "", err
	}

	tmp := filepath.Join(dayDir, ".link-"+uuid.NewString())
	if err := os.Symlink(generation, tmp); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return old, nil
}

// DayLongFiles 解析当前生效的日视频对的实际文件
func (c Core) DayLongFiles(res *resource.Resource, day time.Time) (standard, low string, err error) {
	return resolveGeneration(c.layout.DayDir(res, day), DayLongName(day, res.Location, false), DayLongName(day, res.Location, true))
}

// resolveGeneration 解析 parent/daylong 当前指向的版本目录中的两个文件
// 读取期间若恰好被替换，旧版本目录可能已删除，此时重新解析一次
func resolveGeneration(parent, stdName, lowName string) (standard, low string, err error) {
	link := filepath.Join(parent, DayLongDir)
	for range 2 {
		dir := link
		if target, err := os.Readlink(link); err == nil {
			dir = filepath.Join(parent, target)
		} else if _, statErr := os.Stat(link); statErr != nil {
			return "", "", statErr
		}
		standard = filepath.Join(dir, stdName)
		low = filepath.Join(dir, lowName)
		if fileExists(standard) && fileExists(low) {
			return standard, low, nil
		}
	}
	return "", "", os.ErrNotExist
}

// writeAtomic 写入同目录临时文件后改名，读者不会看到写了一半的文件
func writeAtomic(path string, write func(io.Writer) error) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	cw := countWriter{w: f}
	if err := write(&cw); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return cw.n, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// moveFile 优先改名，跨设备时复制
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}); err != nil {
		return err
	}
	return os.Remove(src)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
