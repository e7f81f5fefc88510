package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/grafov/m3u8"
)

// ListMatchingFiles 扫描范围覆盖的日期目录，返回格式匹配且时间戳在 [Start, Stop) 内的文件
// 不依赖索引，用于核对或迁移
func (c Core) ListMatchingFiles(ctx context.Context, req Request) ([]string, error) {
	const op = "ListMatchingFiles"
	res, err := c.storage.Registry().Get(req.Resource)
	if err != nil {
		return nil, err
	}
	if !req.Range.Valid() {
		return nil, bz.NewError(op, req.Resource, bz.ErrConfiguration, fmt.Errorf("invalid range"))
	}
	format := req.Format
	if format == "" {
		format = res.Format
	}

	var out []string
	layout := c.storage.Layout()
	for day := timewin.StartOfDay(req.Range.Start, res.Location); day.Before(req.Range.Stop); day = timewin.NextDay(day, res.Location) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := layout.DayDir(res, day)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, bz.NewError(op, req.Resource, bz.ErrIO, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != format.Ext() {
				continue
			}
			ts, err := timewin.ExtractTimestamp(name, res.Location)
			if err != nil || !req.Range.Contains(ts) {
				continue
			}
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Folder 一个日期目录
type Folder struct {
	Day  time.Time `json:"day"`
	Path string    `json:"path"` // 相对资源目录，如 2024/June/21
}

// ListFolders 资源下全部日期目录，按日期升序
func (c Core) ListFolders(resourceNumber int) ([]Folder, error) {
	const op = "ListFolders"
	res, ok := c.storage.Registry().Lookup(resourceNumber)
	if !ok {
		return nil, bz.NewError(op, resourceNumber, bz.ErrConfiguration, fmt.Errorf("unknown resource"))
	}
	base := c.storage.Layout().ResourceDir(res)
	years, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return []Folder{}, nil
	}
	if err != nil {
		return nil, bz.NewError(op, resourceNumber, bz.ErrIO, err)
	}

	out := make([]Folder, 0, 32)
	for _, y := range years {
		year, err := strconv.Atoi(y.Name())
		if err != nil || !y.IsDir() {
			continue
		}
		months, _ := os.ReadDir(filepath.Join(base, y.Name()))
		for _, m := range months {
			month, ok := parseMonth(m.Name())
			if !ok || !m.IsDir() {
				continue
			}
			days, _ := os.ReadDir(filepath.Join(base, y.Name(), m.Name()))
			for _, d := range days {
				day, err := strconv.Atoi(d.Name())
				if err != nil || !d.IsDir() {
					continue
				}
				out = append(out, Folder{
					Day:  time.Date(year, month, day, 0, 0, 0, 0, res.Location),
					Path: filepath.Join(y.Name(), m.Name(), d.Name()),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func parseMonth(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return 0, false
}

// Playlist 范围内已有小时视频的 HLS 点播列表，片段之间插入不连续标记
// uri 把存储相对路径转换为可访问的地址
func (c Core) Playlist(ctx context.Context, req Request, uri func(path string) string) (*m3u8.MediaPlaylist, error) {
	const op = "Playlist"
	res, err := c.storage.Registry().Get(req.Resource)
	if err != nil {
		return nil, err
	}
	if !req.Range.Valid() {
		return nil, bz.NewError(op, req.Resource, bz.ErrConfiguration, fmt.Errorf("invalid range"))
	}
	records, err := c.storage.FindInstances(ctx, req.Resource, instance.KindHourVideo, req.Range.Start, req.Range.Stop, instance.FormatMP4)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, bz.NewError(op, res.Number, bz.ErrNotYetAvailable, fmt.Errorf("no hour videos in range"))
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(records)))
	if err != nil {
		return nil, bz.NewError(op, res.Number, bz.ErrIO, err)
	}
	pl.MediaType = m3u8.VOD
	pl.TargetDuration = time.Hour.Seconds()
	for i, r := range records {
		if i > 0 {
			_ = pl.SetDiscontinuity()
		}
		d := time.Duration(r.EndMs-r.StartMs) * time.Millisecond
		if err := pl.Append(uri(r.Path), d.Seconds(), timewin.FormatTimestamp(time.UnixMilli(r.StartMs), res.Location)); err != nil {
			return nil, bz.NewError(op, res.Number, bz.ErrIO, err)
		}
	}
	pl.Close()
	return pl, nil
}
