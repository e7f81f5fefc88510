// Package query 按时间范围检索资源实例
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/pkg/timewin"
)

// MatchTolerance 实例开始时间与桶边界的最大偏差
const MatchTolerance = 5000 * time.Millisecond

// Core business domain
type Core struct {
	storage storage.Core
	calc    timewin.Calculator
	grace   time.Duration
}

type Option func(*Core)

// WithGracePeriod 小时片段上传处理所需的延迟
func WithGracePeriod(d time.Duration) Option {
	return func(c *Core) {
		c.grace = d
	}
}

// WithClock 替换当前时间，用于测试
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		c.calc.Now = now
	}
}

// NewCore create business domain
func NewCore(store storage.Core, opts ...Option) Core {
	c := Core{storage: store, calc: timewin.NewCalculator(), grace: 10 * time.Minute}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Request 一次范围查询
type Request struct {
	Resource     int
	Range        instance.Range
	DesiredCount int
	Video        bool
	Format       instance.Format
}

// Item 一个桶命中的实例，载荷按需读取
type Item struct {
	*instance.Instance
	Path string `json:"path"` // 相对存储根目录
}

// Returned 长度总是等于请求的数量，nil 表示该桶暂无数据
type Returned struct {
	Items          []*Item     `json:"items"`
	Boundaries     []time.Time `json:"boundaries"`
	AvailableUntil time.Time   `json:"available_until"` // 此前的小时片段保证已完整
}

// Pending 该桶为空且尚未到达保证完整的边界，属于"暂不可用"而非缺失
func (r Returned) Pending(i int) bool {
	if i < 0 || i >= len(r.Items) || r.Items[i] != nil {
		return false
	}
	return !r.Boundaries[i].Before(r.AvailableUntil)
}

func (c Core) validate(op string, req Request) (*resource.Resource, error) {
	res, err := c.storage.Registry().Get(req.Resource)
	if err != nil {
		return nil, err
	}
	if req.DesiredCount <= 0 {
		return nil, bz.NewError(op, req.Resource, bz.ErrConfiguration, fmt.Errorf("desired count must be positive, got %d", req.DesiredCount))
	}
	if !req.Range.Valid() {
		return nil, bz.NewError(op, req.Resource, bz.ErrConfiguration, fmt.Errorf("invalid range [%s, %s)", req.Range.Start, req.Range.Stop))
	}
	return res, nil
}

// kindFormat 请求对应的实例种类与格式
func kindFormat(res *resource.Resource, req Request) (instance.Kind, instance.Format, error) {
	format := req.Format
	if format == "" {
		format = res.Format
		if req.Video {
			format = instance.FormatMP4
		}
	}
	if req.Video {
		if !format.IsVideo() {
			return 0, "", fmt.Errorf("format %q is not a video format", format)
		}
		return instance.KindHourVideo, format, nil
	}
	kind := format.DefaultKind()
	if kind == 0 || kind == instance.KindHourVideo {
		return 0, "", fmt.Errorf("format %q is not a capture format", format)
	}
	return kind, format, nil
}

// Boundaries 桶边界：小时视频按整小时，其他按范围均分
// 小时桶数量超过范围时，多出的边界会落在范围结束之后
func Boundaries(req Request) []time.Time {
	out := make([]time.Time, req.DesiredCount)
	if req.Video {
		for i := range out {
			out[i] = req.Range.Start.Add(time.Duration(i) * time.Hour)
		}
		return out
	}
	step := req.Range.Duration() / time.Duration(req.DesiredCount)
	for i := range out {
		out[i] = req.Range.Start.Add(time.Duration(i) * step)
	}
	return out
}

// GetInstances 每个桶边界取开始时间最接近且在容差内的实例
// 每次请求只查询一次索引，不扫描目录
func (c Core) GetInstances(ctx context.Context, req Request) (Returned, error) {
	const op = "GetInstances"
	res, err := c.validate(op, req)
	if err != nil {
		return Returned{}, err
	}
	// 指定视频格式即按小时视频检索
	req.Video = req.Video || req.Format.IsVideo()
	kind, format, err := kindFormat(res, req)
	if err != nil {
		return Returned{}, bz.NewError(op, req.Resource, bz.ErrConfiguration, err)
	}

	bounds := Boundaries(req)
	// 落在范围结束之后的桶保持为空
	inRange := len(bounds)
	for inRange > 0 && !bounds[inRange-1].Before(req.Range.Stop) {
		inRange--
	}
	from := bounds[0].Add(-MatchTolerance)
	to := bounds[inRange-1].Add(MatchTolerance + time.Millisecond)
	if to.After(req.Range.Stop) {
		to = req.Range.Stop
	}
	records, err := c.storage.FindInstances(ctx, req.Resource, kind, from, to, format)
	if err != nil {
		return Returned{}, err
	}

	out := Returned{
		Items:          make([]*Item, len(bounds)),
		Boundaries:     bounds,
		AvailableUntil: c.availableUntil(res),
	}
	// records 与 bounds 都已升序，双指针匹配
	j := 0
	for i, b := range bounds[:inRange] {
		lo, hi := b.Add(-MatchTolerance).UnixMilli(), b.Add(MatchTolerance).UnixMilli()
		for j < len(records) && records[j].StartMs < lo {
			j++
		}
		var best *storage.ResourceInstance
		for k := j; k < len(records) && records[k].StartMs <= hi; k++ {
			if best == nil || abs(records[k].StartMs-b.UnixMilli()) < abs(best.StartMs-b.UnixMilli()) {
				best = records[k]
			}
		}
		if best != nil {
			out.Items[i] = toItem(best)
		}
	}
	return out, nil
}

func (c Core) availableUntil(res *resource.Resource) time.Time {
	now := c.calc.Now()
	if b, ok := c.calc.LastAvailableVideoBoundary(now, res.Location, c.grace); ok {
		return b
	}
	return timewin.StartOfDay(now, res.Location)
}

func toItem(r *storage.ResourceInstance) *Item {
	return &Item{Instance: r.Instance(), Path: r.Path}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// GetDayLongPair 每天一个桶，标准与低码率两个列表同位置要么都有要么都为空
func (c Core) GetDayLongPair(ctx context.Context, req Request) (standard, low Returned, err error) {
	const op = "GetDayLongPair"
	res, err := c.validate(op, req)
	if err != nil {
		return Returned{}, Returned{}, err
	}

	days := make([]time.Time, req.DesiredCount)
	day := timewin.StartOfDay(req.Range.Start, res.Location)
	for i := range days {
		days[i] = day
		day = timewin.NextDay(day, res.Location)
	}

	rows, err := c.storage.DayLongRecords(ctx, req.Resource, days[0], day)
	if err != nil {
		return Returned{}, Returned{}, err
	}
	present := make(map[int64]bool, len(rows))
	for _, r := range rows {
		present[r.DayMs] = true
	}

	until := c.availableUntil(res)
	standard = Returned{Items: make([]*Item, len(days)), Boundaries: days, AvailableUntil: until}
	low = Returned{Items: make([]*Item, len(days)), Boundaries: days, AvailableUntil: until}
	for i, d := range days {
		if !d.Before(req.Range.Stop) || !present[d.UnixMilli()] {
			continue
		}
		stdPath, lowPath, err := c.storage.DayLongFiles(res, d)
		if err != nil {
			continue
		}
		end := timewin.NextDay(d, res.Location)
		standard.Items[i] = &Item{
			Instance: instance.NewDayVideo(req.Resource, d, end, false, nil),
			Path:     c.relPath(stdPath),
		}
		low.Items[i] = &Item{
			Instance: instance.NewDayVideo(req.Resource, d, end, true, nil),
			Path:     c.relPath(lowPath),
		}
	}
	return standard, low, nil
}

func (c Core) relPath(abs string) string {
	rel, err := filepath.Rel(c.storage.Layout().Root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// LoadPayload 读取实例文件内容
func (c Core) LoadPayload(item *Item) error {
	if item == nil {
		return nil
	}
	f, err := os.Open(c.storage.AbsPath(item.Path))
	if err != nil {
		return bz.NewError("LoadPayload", item.Resource, bz.ErrIO, err)
	}
	defer f.Close()
	return item.ReadPayload(f)
}

// ResolvePath 纯路径计算
func (c Core) ResolvePath(resourceNumber int, date time.Time, isDayLong, isLowQuality bool) (string, error) {
	return c.storage.ResolvePath(resourceNumber, date, isDayLong, isLowQuality)
}
