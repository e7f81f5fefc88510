package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/ixugo/goddd/pkg/orm"
)

// FindInstances 查询 [from, to) 内某种类实例的索引，按开始时间升序
// formats 为空时不过滤格式
func (c Core) FindInstances(ctx context.Context, resourceNumber int, kind instance.Kind, from, to time.Time, formats ...instance.Format) ([]*ResourceInstance, error) {
	query := orm.NewQuery(4).OrderBy("start_ms ASC")
	query.Where("resource_number = ? AND kind = ?", resourceNumber, kind.String())
	query.Where("start_ms >= ? AND start_ms < ?", from.UnixMilli(), to.UnixMilli())
	if len(formats) > 0 {
		fs := make([]string, 0, len(formats))
		for _, f := range formats {
			fs = append(fs, string(f))
		}
		query.Where("format IN ?", fs)
	}

	var items []*ResourceInstance
	if _, err := c.store.Instance().Find(ctx, &items, nil, query.Encode()...); err != nil {
		return nil, bz.NewError("FindInstances", resourceNumber, bz.ErrIO, err)
	}
	return items, nil
}

// HourSegments 某天每个小时的真实片段，键为小时开始的毫秒时间戳
// 同一小时同时存在 mp4 与 avi 时优先 mp4
func (c Core) HourSegments(ctx context.Context, resourceNumber int, day time.Time, formats ...instance.Format) (map[int64]*ResourceInstance, error) {
	res, err := c.registry.Get(resourceNumber)
	if err != nil {
		return nil, err
	}
	start := timewin.StartOfDay(day, res.Location)
	end := timewin.NextDay(start, res.Location)
	items, err := c.FindInstances(ctx, resourceNumber, instance.KindHourVideo, start, end, formats...)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*ResourceInstance, len(items))
	for _, it := range items {
		if prev, ok := out[it.StartMs]; ok && prev.Format == string(instance.FormatMP4) {
			continue
		}
		out[it.StartMs] = it
	}
	return out, nil
}

// CountSegments 某天真实小时片段数，format 为空时统计全部视频格式
func (c Core) CountSegments(ctx context.Context, resourceNumber int, day time.Time, format instance.Format) (int, error) {
	var formats []instance.Format
	if format != "" {
		formats = append(formats, format)
	}
	segs, err := c.HourSegments(ctx, resourceNumber, day, formats...)
	if err != nil {
		return 0, err
	}
	return len(segs), nil
}

// SufficientSegmentsForDayLong 片段数达到合成日视频的最低要求
func (c Core) SufficientSegmentsForDayLong(ctx context.Context, resourceNumber int, day time.Time, format instance.Format) bool {
	n, err := c.CountSegments(ctx, resourceNumber, day, format)
	if err != nil {
		slog.WarnContext(ctx, "count segments", "resource", resourceNumber, "err", err)
		return false
	}
	return n >= c.minSegments()
}

func (c Core) minSegments() int {
	if c.conf.MinDaySegments > 0 {
		return c.conf.MinDaySegments
	}
	return 1
}

// DayLongRecord 当前日视频对的索引记录
func (c Core) DayLongRecord(ctx context.Context, resourceNumber int, day time.Time) (*DayLongPair, error) {
	res, err := c.registry.Get(resourceNumber)
	if err != nil {
		return nil, err
	}
	dayMs := timewin.StartOfDay(day, res.Location).UnixMilli()
	var out DayLongPair
	if err := c.store.Pair().Get(ctx, &out, orm.Where("resource_number = ? AND day_ms = ?", resourceNumber, dayMs)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, bz.NewError("DayLongRecord", resourceNumber, bz.ErrNotYetAvailable, err)
		}
		return nil, bz.NewError("DayLongRecord", resourceNumber, bz.ErrIO, err)
	}
	return &out, nil
}

// TranscodeLegacyFormat 把某天的 avi 小时视频转为 mp4，已存在 mp4 的小时跳过
func (c Core) TranscodeLegacyFormat(ctx context.Context, resourceNumber int, day time.Time) bool {
	return c.logged(ctx, "transcode legacy format", c.TranscodeLegacyFormatErr(ctx, resourceNumber, day))
}

// TranscodeLegacyFormatErr 同 TranscodeLegacyFormat，返回结构化错误
func (c Core) TranscodeLegacyFormatErr(ctx context.Context, resourceNumber int, day time.Time) error {
	const op = "TranscodeLegacyFormat"
	segs, err := c.HourSegments(ctx, resourceNumber, day)
	if err != nil {
		return err
	}
	var errs []error
	for _, seg := range segs {
		if seg.Format != string(instance.FormatAVI) {
			continue
		}
		if c.codec == nil {
			return bz.NewError(op, resourceNumber, bz.ErrConfiguration, errNoCodec)
		}
		src := c.AbsPath(seg.Path)
		tmp := filepath.Join(filepath.Dir(src), ".tmp-"+uuid.NewString()+instance.FormatMP4.Ext())
		if err := c.codec.Transcode(ctx, src, tmp); err != nil {
			_ = os.Remove(tmp)
			errs = append(errs, bz.NewError(op, resourceNumber, bz.ErrAssembly, err))
			continue
		}
		inst := instance.NewHourVideo(resourceNumber, time.UnixMilli(seg.StartMs), instance.FormatMP4, nil)
		if err := c.PlaceFile(ctx, inst, tmp); err != nil {
			_ = os.Remove(tmp)
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "legacy hour transcoded", "resource", resourceNumber, "src", seg.Path)
	}
	return errors.Join(errs...)
}

// DayLongRecords [from, to) 内的日视频对索引，按日期升序
func (c Core) DayLongRecords(ctx context.Context, resourceNumber int, from, to time.Time) ([]*DayLongPair, error) {
	var out []*DayLongPair
	_, err := c.store.Pair().Find(ctx, &out, nil,
		orm.Where("resource_number = ? AND day_ms >= ? AND day_ms < ?", resourceNumber, from.UnixMilli(), to.UnixMilli()),
		orm.OrderBy("day_ms ASC"),
	)
	if err != nil {
		return nil, bz.NewError("DayLongRecords", resourceNumber, bz.ErrIO, err)
	}
	return out, nil
}
