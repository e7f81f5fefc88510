package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/ixugo/goddd/pkg/orm"
)

// ReindexStats 一次重建索引的统计
type ReindexStats struct {
	Instances int `json:"instances"`
	Pairs     int `json:"pairs"`
	Skipped   int `json:"skipped"`
}

// Reindex 扫描资源目录，为磁盘上已存在但没有索引的文件补建索引
// 用于升级前由外部直接写入目录的数据，已有索引的记录会被覆盖为磁盘上的实际大小
func (c Core) Reindex(ctx context.Context, resourceNumber int) (ReindexStats, error) {
	const op = "Reindex"
	var stats ReindexStats
	res, err := c.registry.Get(resourceNumber)
	if err != nil {
		return stats, err
	}
	base := c.layout.ResourceDir(res)

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == base {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if path == base {
			return nil
		}
		if d.IsDir() && (name == DefaultsDir || isHiddenName(name)) {
			return filepath.SkipDir
		}
		if name == DayLongDir {
			day, ok := dayOfDir(res, filepath.Dir(path))
			if ok && c.reindexPair(ctx, res, day) {
				stats.Pairs++
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || isHiddenName(name) {
			return nil
		}

		inst, ok := c.instanceOfFile(res, name)
		if !ok {
			stats.Skipped++
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if c.layout.InstancePath(res, inst) != path {
			// 文件名时间戳与所在日期目录不一致
			stats.Skipped++
			return nil
		}
		if err := c.index(ctx, inst, path, fi.Size()); err != nil {
			return err
		}
		stats.Instances++
		return nil
	})
	if err != nil {
		return stats, bz.NewError(op, resourceNumber, bz.ErrIO, err)
	}
	slog.InfoContext(ctx, "reindex done", "resource", resourceNumber,
		"instances", stats.Instances, "pairs", stats.Pairs, "skipped", stats.Skipped)
	return stats, nil
}

func (c Core) instanceOfFile(res *resource.Resource, name string) (*instance.Instance, bool) {
	format, err := instance.ParseFormat(filepath.Ext(name))
	if err != nil {
		return nil, false
	}
	at, err := timewin.ExtractTimestamp(name, res.Location)
	if err != nil {
		return nil, false
	}
	inst := instance.New(res.Number, at, format, nil)
	if inst.Kind == instance.KindDayVideo || !acceptsFormat(res, inst) {
		return nil, false
	}
	return inst, true
}

// dayOfDir 从 <year>/<MonthName>/<dd> 目录还原日期
func dayOfDir(res *resource.Resource, dir string) (time.Time, bool) {
	dd, err := strconv.Atoi(filepath.Base(dir))
	if err != nil {
		return time.Time{}, false
	}
	monthDir := filepath.Dir(dir)
	year, err := strconv.Atoi(filepath.Base(filepath.Dir(monthDir)))
	if err != nil {
		return time.Time{}, false
	}
	for m := time.January; m <= time.December; m++ {
		if m.String() == filepath.Base(monthDir) {
			return time.Date(year, m, dd, 0, 0, 0, 0, res.Location), true
		}
	}
	return time.Time{}, false
}

func (c Core) reindexPair(ctx context.Context, res *resource.Resource, day time.Time) bool {
	std, low, err := c.DayLongFiles(res, day)
	if err != nil {
		return false
	}
	dayDir := c.layout.DayDir(res, day)
	generation := DayLongDir
	if target, err := os.Readlink(filepath.Join(dayDir, DayLongDir)); err == nil {
		generation = target
	}

	var existing DayLongPair
	segments := 0
	if err := c.store.Pair().Get(ctx, &existing, orm.Where("resource_number = ? AND day_ms = ?", res.Number, day.UnixMilli())); err == nil {
		segments = existing.Segments
	}
	row := DayLongPair{
		ResourceNumber: res.Number,
		DayMs:          day.UnixMilli(),
		EndMs:          timewin.NextDay(day, res.Location).UnixMilli(),
		Generation:     generation,
		StandardPath:   c.relPath(filepath.Join(dayDir, DayLongDir, filepath.Base(std))),
		LowPath:        c.relPath(filepath.Join(dayDir, DayLongDir, filepath.Base(low))),
		Segments:       segments,
		StandardSize:   fileSize(std),
		LowSize:        fileSize(low),
		UpdatedAt:      orm.Now(),
	}
	if err := c.store.Pair().Upsert(ctx, &row); err != nil {
		slog.WarnContext(ctx, "reindex day long pair", "resource", res.Number, "day", day.Format(time.DateOnly), "err", err)
		return false
	}
	return true
}
