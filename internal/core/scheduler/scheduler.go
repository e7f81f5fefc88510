// Package scheduler 按资源周期性合成小时视频与日视频
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/pkg/timewin"
)

// Segments 片段统计，由 storage.Core 实现
type Segments interface {
	SufficientSegmentsForDayLong(ctx context.Context, resourceNumber int, day time.Time, format instance.Format) bool
	CountSegments(ctx context.Context, resourceNumber int, day time.Time, format instance.Format) (int, error)
	DayLongRecord(ctx context.Context, resourceNumber int, day time.Time) (*storage.DayLongPair, error)
}

// Assembler 合成能力，由 assembler.Core 实现
type Assembler interface {
	AssembleDay(ctx context.Context, resourceNumber int, day time.Time) (assembler.Result, error)
	BuildHourVideo(ctx context.Context, resourceNumber int, hourStart time.Time) error
}

var (
	_ Segments  = storage.Core{}
	_ Assembler = assembler.Core{}
)

// Scheduler 资源编号到可取消任务的显式注册表
type Scheduler struct {
	registry  *resource.Registry
	segments  Segments
	assembler Assembler
	calc      timewin.Calculator
	interval  time.Duration
	grace     time.Duration

	mu    sync.Mutex
	tasks map[int]*task
	wg    sync.WaitGroup
}

type task struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup // 该资源的两个周期任务
	lastHour time.Time      // 最近一次成功构建的小时
}

type Option func(*Scheduler)

// WithAssemblyInterval 日视频检查间隔
func WithAssemblyInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithGracePeriod 小时片段上传处理所需的延迟
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		s.grace = d
	}
}

// WithClock 替换当前时间，用于测试
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.calc.Now = now
	}
}

// New 创建调度器，需调用 Start 或 StartAssemblyLoop 才会运行
func New(registry *resource.Registry, segments Segments, asm Assembler, opts ...Option) *Scheduler {
	s := Scheduler{
		registry:  registry,
		segments:  segments,
		assembler: asm,
		calc:      timewin.NewCalculator(),
		interval:  15 * time.Minute,
		grace:     10 * time.Minute,
		tasks:     make(map[int]*task),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// Start 为全部启用的资源启动任务
func (s *Scheduler) Start(ctx context.Context) {
	for _, res := range s.registry.Active() {
		if err := s.StartAssemblyLoop(ctx, res.Number); err != nil {
			slog.Error("start assembly loop", "resource", res.Number, "err", err)
		}
	}
	slog.Info("scheduler started", "tasks", len(s.Running()))
}

// StartAssemblyLoop 为资源注册日视频检查与小时视频构建两个周期任务
// 已注册的资源不会重复启动
func (s *Scheduler) StartAssemblyLoop(ctx context.Context, resourceNumber int) error {
	res, err := s.registry.Get(resourceNumber)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[resourceNumber]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}
	s.tasks[resourceNumber] = t

	log := slog.With("resource", resourceNumber)
	s.wg.Add(2)
	t.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer t.wg.Done()
		s.loop(ctx, s.interval, func() { s.checkDay(ctx, log, res) })
	}()
	go func() {
		defer s.wg.Done()
		defer t.wg.Done()
		s.loop(ctx, res.UpdateInterval, func() { s.buildHour(ctx, log, res, t) })
	}()
	log.Info("assembly loop started", "interval", s.interval.String(), "update_interval", res.UpdateInterval.String())
	return nil
}

// StopResource 取消某个资源的任务，等待正在执行的合成结束后才返回
// 返回前持有锁，期间同一资源无法重新启动
func (s *Scheduler) StopResource(resourceNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[resourceNumber]; ok {
		t.cancel()
		t.wg.Wait()
		delete(s.tasks, resourceNumber)
	}
}

// Stop 取消全部任务并等待退出
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for n, t := range s.tasks {
		t.cancel()
		delete(s.tasks, n)
	}
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// Running 正在运行任务的资源编号
func (s *Scheduler) Running() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.tasks))
	for n := range s.tasks {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// loop 立即执行一次，之后按间隔执行；同一个 fn 不会并发
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// checkDay 过了更新时刻后，前一天已完整且片段数比上次合成时多，则重新合成
func (s *Scheduler) checkDay(ctx context.Context, log *slog.Logger, res *resource.Resource) {
	day, ok := s.DueDay(res)
	if !ok {
		return
	}
	if !s.segments.SufficientSegmentsForDayLong(ctx, res.Number, day, "") {
		log.DebugContext(ctx, "not enough segments", "day", day.Format(time.DateOnly))
		return
	}
	count, err := s.segments.CountSegments(ctx, res.Number, day, "")
	if err != nil {
		log.WarnContext(ctx, "count segments", "err", err)
		return
	}
	rec, err := s.segments.DayLongRecord(ctx, res.Number, day)
	if err == nil && rec.Segments >= count {
		return
	}
	if err != nil && !errors.Is(err, bz.ErrNotYetAvailable) {
		log.WarnContext(ctx, "day long record", "err", err)
		return
	}

	result, err := s.assembler.AssembleDay(ctx, res.Number, day)
	if err != nil {
		log.ErrorContext(ctx, "assemble day", "day", day.Format(time.DateOnly), "err", err)
		return
	}
	log.InfoContext(ctx, "scheduled assembly done", "day", day.Format(time.DateOnly), "segments", result.Segments)
}

// DueDay 当前应合成的日期：资源本地时间已过更新时刻，且前一天所有小时都已过宽限期
func (s *Scheduler) DueDay(res *resource.Resource) (time.Time, bool) {
	now := s.calc.Now().In(res.Location)
	if now.Hour() < res.UpdateHour {
		return time.Time{}, false
	}
	today := timewin.StartOfDay(now, res.Location)
	prev := timewin.StartOfDay(today.Add(-time.Hour), res.Location)
	boundary, ok := timewin.LastAvailableVideoBoundary(prev, res.Location, s.grace, now)
	if !ok || boundary.Before(today) {
		return time.Time{}, false
	}
	return prev, true
}

// buildHour 采集窗口内的上一个完整小时由图片合成小时视频
func (s *Scheduler) buildHour(ctx context.Context, log *slog.Logger, res *resource.Resource, t *task) {
	if res.Format.DefaultKind() != instance.KindImage {
		return
	}
	hour, ok := s.DueHour(res)
	if !ok || !hour.After(t.lastHour) {
		return
	}
	err := s.assembler.BuildHourVideo(ctx, res.Number, hour)
	switch {
	case err == nil:
		t.lastHour = hour
	case errors.Is(err, bz.ErrNoMaterial):
		t.lastHour = hour
		log.DebugContext(ctx, "no images for hour", "hour", hour.Format(time.DateTime))
	default:
		log.ErrorContext(ctx, "build hour video", "hour", hour.Format(time.DateTime), "err", err)
	}
}

// DueHour 上一个已过宽限期的完整小时，且在采集窗口内
func (s *Scheduler) DueHour(res *resource.Resource) (time.Time, bool) {
	now := s.calc.Now().In(res.Location)
	end := now.Add(-s.grace)
	local := end.In(res.Location)
	hourEnd := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, res.Location)
	hour := hourEnd.Add(-time.Hour)
	if !res.ExpectsData(hour) {
		return time.Time{}, false
	}
	return hour, true
}
