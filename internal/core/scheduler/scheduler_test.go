package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/stretchr/testify/require"
)

type fakeSegments struct {
	count  int
	record *storage.DayLongPair
}

func (f *fakeSegments) SufficientSegmentsForDayLong(_ context.Context, _ int, _ time.Time, _ instance.Format) bool {
	return f.count > 0
}

func (f *fakeSegments) CountSegments(_ context.Context, _ int, _ time.Time, _ instance.Format) (int, error) {
	return f.count, nil
}

func (f *fakeSegments) DayLongRecord(_ context.Context, n int, _ time.Time) (*storage.DayLongPair, error) {
	if f.record == nil {
		return nil, bz.NewError("DayLongRecord", n, bz.ErrNotYetAvailable, nil)
	}
	return f.record, nil
}

type fakeAssembler struct {
	mu      sync.Mutex
	days    []time.Time
	hours   []time.Time
	hourErr error
	running int
	overlap bool
	delay   time.Duration
}

func (f *fakeAssembler) AssembleDay(_ context.Context, n int, day time.Time) (assembler.Result, error) {
	f.mu.Lock()
	f.days = append(f.days, day)
	f.mu.Unlock()
	return assembler.Result{Resource: n, Day: day, Segments: 1}, nil
}

func (f *fakeAssembler) BuildHourVideo(_ context.Context, _ int, hour time.Time) error {
	f.mu.Lock()
	f.running++
	if f.running > 1 {
		f.overlap = true
	}
	f.hours = append(f.hours, hour)
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.running--
	f.mu.Unlock()
	return f.hourErr
}

func newRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	reg, err := resource.NewRegistry([]conf.Resource{
		{Number: 102, TimeZone: "UTC", Folder: "cam102", Active: true, Format: "jpg", UpdateHour: 2},
		{Number: 103, TimeZone: "UTC", Folder: "cam103", Active: true, Format: "mp4", UpdateHour: 2},
		{Number: 104, TimeZone: "UTC", Folder: "cam104", Active: false, Format: "jpg"},
	})
	require.NoError(t, err)
	return reg
}

func at(h, m int) func() time.Time {
	return func() time.Time { return time.Date(2024, 6, 22, h, m, 0, 0, time.UTC) }
}

var yesterday = time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)

func TestDueDay(t *testing.T) {
	reg := newRegistry(t)
	res, _ := reg.Lookup(102)

	s := New(reg, &fakeSegments{}, &fakeAssembler{}, WithClock(at(1, 30)))
	_, ok := s.DueDay(res)
	require.False(t, ok, "before update hour")

	s = New(reg, &fakeSegments{}, &fakeAssembler{}, WithClock(at(2, 0)))
	day, ok := s.DueDay(res)
	require.True(t, ok)
	require.True(t, day.Equal(yesterday))
}

func TestCheckDay(t *testing.T) {
	reg := newRegistry(t)
	res, _ := reg.Lookup(102)
	log := slog.Default()
	ctx := context.Background()

	// 没有片段不合成
	asm := &fakeAssembler{}
	s := New(reg, &fakeSegments{}, asm, WithClock(at(3, 0)))
	s.checkDay(ctx, log, res)
	require.Empty(t, asm.days)

	// 首次合成
	segs := &fakeSegments{count: 20}
	s = New(reg, segs, asm, WithClock(at(3, 0)))
	s.checkDay(ctx, log, res)
	require.Len(t, asm.days, 1)
	require.True(t, asm.days[0].Equal(yesterday))

	// 片段数没有增加不重复合成
	segs.record = &storage.DayLongPair{Segments: 20}
	s.checkDay(ctx, log, res)
	require.Len(t, asm.days, 1)

	// 迟到的片段触发重新合成
	segs.count = 22
	s.checkDay(ctx, log, res)
	require.Len(t, asm.days, 2)
}

func TestDueHour(t *testing.T) {
	reg := newRegistry(t)
	res, _ := reg.Lookup(102)

	s := New(reg, &fakeSegments{}, &fakeAssembler{}, WithClock(at(13, 4)))
	hour, ok := s.DueHour(res)
	require.True(t, ok)
	require.True(t, hour.Equal(time.Date(2024, 6, 22, 11, 0, 0, 0, time.UTC)))

	s = New(reg, &fakeSegments{}, &fakeAssembler{}, WithClock(at(13, 10)))
	hour, ok = s.DueHour(res)
	require.True(t, ok)
	require.True(t, hour.Equal(time.Date(2024, 6, 22, 12, 0, 0, 0, time.UTC)))
}

func TestDueHourOutsideCollectionWindow(t *testing.T) {
	reg, err := resource.NewRegistry([]conf.Resource{
		{Number: 5, TimeZone: "UTC", Folder: "cam5", Active: true, Format: "jpg", Collection: "daylight", DayStartHour: 6, DayEndHour: 18},
	})
	require.NoError(t, err)
	res, _ := reg.Lookup(5)

	s := New(reg, &fakeSegments{}, &fakeAssembler{}, WithClock(at(23, 30)))
	_, ok := s.DueHour(res)
	require.False(t, ok)
}

func TestBuildHour(t *testing.T) {
	reg := newRegistry(t)
	log := slog.Default()
	ctx := context.Background()
	asm := &fakeAssembler{}
	s := New(reg, &fakeSegments{}, asm, WithClock(at(13, 30)))

	img, _ := reg.Lookup(102)
	tk := &task{}
	s.buildHour(ctx, log, img, tk)
	s.buildHour(ctx, log, img, tk)
	require.Len(t, asm.hours, 1, "same hour is built once")

	video, _ := reg.Lookup(103)
	s.buildHour(ctx, log, video, &task{})
	require.Len(t, asm.hours, 1, "video resources are not built from images")

	asm.hourErr = bz.ErrNoMaterial
	s = New(reg, &fakeSegments{}, asm, WithClock(at(14, 30)))
	s.buildHour(ctx, log, img, tk)
	s.buildHour(ctx, log, img, tk)
	require.Len(t, asm.hours, 2)
}

func TestStartStop(t *testing.T) {
	reg := newRegistry(t)
	asm := &fakeAssembler{delay: 20 * time.Millisecond}
	s := New(reg, &fakeSegments{}, asm, WithClock(at(13, 30)), WithAssemblyInterval(time.Millisecond))

	s.Start(context.Background())
	require.Equal(t, []int{102, 103}, s.Running())

	require.NoError(t, s.StartAssemblyLoop(context.Background(), 102))
	require.Equal(t, []int{102, 103}, s.Running())

	err := s.StartAssemblyLoop(context.Background(), 104)
	require.ErrorIs(t, err, bz.ErrConfiguration)

	s.StopResource(103)
	require.Equal(t, []int{102}, s.Running())

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	require.Empty(t, s.Running())

	asm.mu.Lock()
	defer asm.mu.Unlock()
	require.False(t, asm.overlap)
	require.NotEmpty(t, asm.hours)
}

func TestStopResourceWaitsBeforeRestart(t *testing.T) {
	reg := newRegistry(t)
	asm := &fakeAssembler{delay: 100 * time.Millisecond}
	s := New(reg, &fakeSegments{}, asm, WithClock(at(13, 30)))
	hours := func() int {
		asm.mu.Lock()
		defer asm.mu.Unlock()
		return len(asm.hours)
	}

	require.NoError(t, s.StartAssemblyLoop(context.Background(), 102))
	require.Eventually(t, func() bool { return hours() == 1 }, time.Second, time.Millisecond)

	// 第一次构建仍在进行，重启后的任务不能与之重叠
	s.StopResource(102)
	require.Empty(t, s.Running())
	require.NoError(t, s.StartAssemblyLoop(context.Background(), 102))
	require.Eventually(t, func() bool { return hours() == 2 }, time.Second, time.Millisecond)
	s.Stop()

	asm.mu.Lock()
	defer asm.mu.Unlock()
	require.False(t, asm.overlap)
}
