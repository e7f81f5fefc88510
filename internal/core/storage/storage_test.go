package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/internal/core/storage/store/storagedb"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeCodec 把输入内容加上前缀写到输出，便于断言
type fakeCodec struct {
	fail bool
}

func (f fakeCodec) StillToVideo(_ context.Context, image, output string, _ time.Duration, _, _ int) error {
	return f.copy("video:", image, output)
}

func (f fakeCodec) Transcode(_ context.Context, input, output string) error {
	return f.copy("mp4:", input, output)
}

func (f fakeCodec) copy(prefix, in, out string) error {
	if f.fail {
		return os.ErrInvalid
	}
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte(prefix), b...), 0o644)
}

func testResources() []conf.Resource {
	return []conf.Resource{
		{Number: 102, Name: "Chicago cam", TimeZone: "America/Chicago", Folder: "cam102", Active: true, Format: "jpg", Width: 640, Height: 480},
		{Number: 7, Name: "radar", TimeZone: "UTC", Folder: "radar7", Active: false, Format: "png"},
		{Number: 300, Name: "station", TimeZone: "UTC", Folder: "station300", Active: true, Format: "txt"},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	storagedb.NewDB(db).AutoMigrate(true)
	return db
}

func newTestCore(t *testing.T, codec storage.Codec, mutate ...func(*conf.Storage)) (storage.Core, string) {
	t.Helper()
	reg, err := resource.NewRegistry(testResources())
	require.NoError(t, err)
	root := t.TempDir()
	cfg := conf.DefaultConfig().Storage
	cfg.Root = root
	cfg.DiskUsageThreshold = 0
	for _, fn := range mutate {
		fn(&cfg)
	}
	opts := []storage.Option{storage.WithConfig(&cfg)}
	if codec != nil {
		opts = append(opts, storage.WithCodec(codec))
	}
	return storage.NewCore(storagedb.NewDB(newTestDB(t)), reg, opts...), root
}

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestPlaceInstance(t *testing.T) {
	core, root := newTestCore(t, nil)
	ctx := context.Background()
	at := time.Date(2024, 6, 21, 13, 0, 0, 0, chicago(t))

	require.True(t, core.PlaceInstance(ctx, instance.NewImage(102, at, instance.FormatJPG, []byte("frame"))))

	want := filepath.Join(root, "cam102", "2024", "June", "21", "20240621130000.jpg")
	b, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "frame", string(b))

	items, err := core.FindInstances(ctx, 102, instance.KindImage, at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, filepath.Join("cam102", "2024", "June", "21", "20240621130000.jpg"), items[0].Path)
	require.Equal(t, int64(5), items[0].Size)

	// 再次写入同一身份时覆盖文件与索引
	require.True(t, core.PlaceInstance(ctx, instance.NewImage(102, at, instance.FormatJPG, []byte("frame-2"))))
	items, err = core.FindInstances(ctx, 102, instance.KindImage, at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(7), items[0].Size)
}

func TestPlaceInstanceRejects(t *testing.T) {
	core, root := newTestCore(t, nil)
	ctx := context.Background()
	at := time.Date(2024, 6, 21, 13, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		inst *instance.Instance
	}{
		{"unknown resource", instance.NewImage(999, at, instance.FormatJPG, []byte("x"))},
		{"inactive resource", instance.NewImage(7, at, instance.FormatPNG, []byte("x"))},
		{"format mismatch", instance.NewImage(102, at, instance.FormatPNG, []byte("x"))},
		{"missing start", instance.NewImage(102, time.Time{}, instance.FormatJPG, []byte("x"))},
		{"single day video", instance.NewDayVideo(102, at, at.Add(24*time.Hour), false, []byte("x"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.False(t, core.PlaceInstance(ctx, tc.inst))
			require.ErrorIs(t, core.PlaceInstanceErr(ctx, tc.inst), bz.ErrConfiguration)
		})
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPlaceStationReading(t *testing.T) {
	core, root := newTestCore(t, nil)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.True(t, core.PlaceInstance(context.Background(), instance.NewStationReading(300, at, []byte("t,rh\n21.5,40\n"))))
	_, err := os.Stat(filepath.Join(root, "station300", "2024", "January", "02", "20240102030405.txt"))
	require.NoError(t, err)
}

func dayPair(loc *time.Location, day time.Time, content string) (*instance.Instance, *instance.Instance) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return instance.NewDayVideo(102, start, end, false, []byte(content)),
		instance.NewDayVideo(102, start, end, true, []byte(content+"-low"))
}

func TestPlaceDayLongPair(t *testing.T) {
	core, root := newTestCore(t, nil)
	ctx := context.Background()
	loc := chicago(t)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)
	res, ok := core.Registry().Lookup(102)
	require.True(t, ok)

	std, low := dayPair(loc, day, "v1")
	require.True(t, core.PlaceDayLongPair(ctx, std, low))

	dayDir := filepath.Join(root, "cam102", "2024", "June", "21")
	first, err := os.Readlink(filepath.Join(dayDir, storage.DayLongDir))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dayDir, "daylong", "20240621000000_day.mp4"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(b))

	std, low = dayPair(loc, day, "v2")
	require.True(t, core.PlaceDayLongPair(ctx, std, low))

	second, err := os.Readlink(filepath.Join(dayDir, storage.DayLongDir))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	_, err = os.Stat(filepath.Join(dayDir, first))
	require.True(t, os.IsNotExist(err), "old generation removed")

	stdPath, lowPath, err := core.DayLongFiles(res, day)
	require.NoError(t, err)
	b, err = os.ReadFile(stdPath)
	require.NoError(t, err)
	require.Equal(t, "v2", string(b))
	b, err = os.ReadFile(lowPath)
	require.NoError(t, err)
	require.Equal(t, "v2-low", string(b))

	rec, err := core.DayLongRecord(ctx, 102, day)
	require.NoError(t, err)
	require.Equal(t, second, rec.Generation)
	require.Equal(t, int64(2), rec.StandardSize)
}

func TestPlaceDayLongPairMismatch(t *testing.T) {
	core, _ := newTestCore(t, nil)
	loc := chicago(t)
	std, _ := dayPair(loc, time.Date(2024, 6, 21, 0, 0, 0, 0, loc), "a")
	_, low := dayPair(loc, time.Date(2024, 6, 22, 0, 0, 0, 0, loc), "b")
	require.False(t, core.PlaceDayLongPair(context.Background(), std, low))
	require.ErrorIs(t, core.PlaceDayLongPairErr(context.Background(), std, nil), bz.ErrConfiguration)
}

func TestPlaceDayLongFiles(t *testing.T) {
	core, _ := newTestCore(t, nil)
	loc := chicago(t)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)
	src := t.TempDir()
	stdSrc, lowSrc := filepath.Join(src, "a.mp4"), filepath.Join(src, "b.mp4")
	require.NoError(t, os.WriteFile(stdSrc, []byte("std"), 0o644))
	require.NoError(t, os.WriteFile(lowSrc, []byte("low"), 0o644))

	require.NoError(t, core.PlaceDayLongFiles(context.Background(), 102, day, stdSrc, lowSrc, 6))

	res, _ := core.Registry().Lookup(102)
	stdPath, _, err := core.DayLongFiles(res, day)
	require.NoError(t, err)
	b, err := os.ReadFile(stdPath)
	require.NoError(t, err)
	require.Equal(t, "std", string(b))
	_, err = os.Stat(stdSrc)
	require.True(t, os.IsNotExist(err))

	rec, err := core.DayLongRecord(context.Background(), 102, day)
	require.NoError(t, err)
	require.Equal(t, 6, rec.Segments)
}

func TestDayLongRecordMissing(t *testing.T) {
	core, _ := newTestCore(t, nil)
	_, err := core.DayLongRecord(context.Background(), 102, time.Now())
	require.ErrorIs(t, err, bz.ErrNotYetAvailable)
}

func TestDefaultsAndFiller(t *testing.T) {
	core, root := newTestCore(t, fakeCodec{})
	ctx := context.Background()
	res, _ := core.Registry().Lookup(102)
	loc := chicago(t)
	noon := time.Date(2024, 6, 21, 12, 0, 0, 0, loc)
	midnight := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)

	_, ok := core.FillerFor(res, noon)
	require.False(t, ok)

	require.True(t, core.SetGenericNoDataMedia(ctx, []byte("nodata")))
	p, ok := core.FillerFor(res, noon)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "Generic Movies", "no_data.mp4"), p)

	require.True(t, core.SetDefaultDaytimeMedia(ctx, 102, []byte("sun")))
	require.True(t, core.SetDefaultNighttimeMedia(ctx, 102, []byte("moon")))

	p, ok = core.FillerFor(res, noon)
	require.True(t, ok)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "video:sun", string(b))

	p, ok = core.FillerFor(res, midnight)
	require.True(t, ok)
	b, err = os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "video:moon", string(b))

	_, err = os.Stat(filepath.Join(root, "cam102", "Defaults", "daytime.jpg"))
	require.NoError(t, err)
}

func TestDefaultsErrors(t *testing.T) {
	ctx := context.Background()

	core, _ := newTestCore(t, nil)
	require.ErrorIs(t, core.SetDefaultMediaErr(ctx, 102, true, []byte("x")), bz.ErrConfiguration)
	require.ErrorIs(t, core.SetDefaultMediaErr(ctx, 999, true, []byte("x")), bz.ErrConfiguration)

	core, root := newTestCore(t, fakeCodec{fail: true})
	require.ErrorIs(t, core.SetGenericNoDataMediaErr(ctx, []byte("x")), bz.ErrAssembly)
	_, err := os.Stat(filepath.Join(root, "Generic Movies", "no_data.mp4"))
	require.True(t, os.IsNotExist(err))
}

func TestEnsureDirectoryStructure(t *testing.T) {
	core, root := newTestCore(t, nil)
	for range 2 {
		require.True(t, core.EnsureDirectoryStructure(102))
	}
	for _, dir := range []string{"cam102", filepath.Join("cam102", "Defaults"), "Generic Movies"} {
		fi, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
	require.False(t, core.EnsureDirectoryStructure(999))
}

func TestSegments(t *testing.T) {
	core, _ := newTestCore(t, fakeCodec{}, func(c *conf.Storage) { c.MinDaySegments = 3 })
	ctx := context.Background()
	loc := chicago(t)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)

	require.False(t, core.SufficientSegmentsForDayLong(ctx, 102, day, instance.FormatMP4))

	for h := range 3 {
		at := day.Add(time.Duration(h) * time.Hour)
		require.True(t, core.PlaceInstance(ctx, instance.NewHourVideo(102, at, instance.FormatMP4, []byte("h"))))
	}
	// 同一小时的 avi 不重复计数
	require.True(t, core.PlaceInstance(ctx, instance.NewHourVideo(102, day, instance.FormatAVI, []byte("old"))))
	// 次日零点不属于这一天
	require.True(t, core.PlaceInstance(ctx, instance.NewHourVideo(102, day.AddDate(0, 0, 1), instance.FormatMP4, []byte("h"))))

	n, err := core.CountSegments(ctx, 102, day, "")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, core.SufficientSegmentsForDayLong(ctx, 102, day, instance.FormatMP4))
	require.False(t, core.SufficientSegmentsForDayLong(ctx, 102, day, instance.FormatAVI))
	require.False(t, core.SufficientSegmentsForDayLong(ctx, 999, day, instance.FormatMP4))
}

func TestTranscodeLegacyFormat(t *testing.T) {
	core, root := newTestCore(t, fakeCodec{})
	ctx := context.Background()
	loc := chicago(t)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)
	at := day.Add(5 * time.Hour)

	require.True(t, core.PlaceInstance(ctx, instance.NewHourVideo(102, at, instance.FormatAVI, []byte("legacy"))))
	require.True(t, core.TranscodeLegacyFormat(ctx, 102, day))

	b, err := os.ReadFile(filepath.Join(root, "cam102", "2024", "June", "21", "20240621050000.mp4"))
	require.NoError(t, err)
	require.Equal(t, "mp4:legacy", string(b))

	segs, err := core.HourSegments(ctx, 102, day)
	require.NoError(t, err)
	require.Equal(t, "mp4", segs[at.UnixMilli()].Format)

	// 已有 mp4 的小时不再转换，源文件缺失也不影响
	require.NoError(t, os.Remove(filepath.Join(root, "cam102", "2024", "June", "21", "20240621050000.avi")))
	require.True(t, core.TranscodeLegacyFormat(ctx, 102, day))
}

func TestTranscodeLegacyFormatFailure(t *testing.T) {
	core, _ := newTestCore(t, fakeCodec{fail: true})
	ctx := context.Background()
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, chicago(t))

	require.True(t, core.PlaceInstance(ctx, instance.NewHourVideo(102, day, instance.FormatAVI, []byte("legacy"))))
	require.False(t, core.TranscodeLegacyFormat(ctx, 102, day))
	require.ErrorIs(t, core.TranscodeLegacyFormatErr(ctx, 102, day), bz.ErrAssembly)
}

func TestCleanupExpired(t *testing.T) {
	core, root := newTestCore(t, fakeCodec{}, func(c *conf.Storage) { c.RetainDays = 2 })
	ctx := context.Background()
	loc := chicago(t)
	old := time.Now().In(loc).AddDate(0, 0, -10).Truncate(time.Hour)
	recent := time.Now().In(loc).Truncate(time.Hour)

	require.True(t, core.PlaceInstance(ctx, instance.NewImage(102, old, instance.FormatJPG, []byte("old"))))
	require.True(t, core.PlaceInstance(ctx, instance.NewImage(102, recent, instance.FormatJPG, []byte("new"))))
	std, low := dayPair(loc, old, "keep")
	require.True(t, core.PlaceDayLongPair(ctx, std, low))
	require.True(t, core.SetDefaultDaytimeMedia(ctx, 102, []byte("sun")))

	core.RunCleanup(ctx)

	items, err := core.FindInstances(ctx, 102, instance.KindImage, old.AddDate(0, 0, -1), recent.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, recent.UnixMilli(), items[0].StartMs)

	res, _ := core.Registry().Lookup(102)
	_, _, err = core.DayLongFiles(res, old)
	require.NoError(t, err, "day long pair survives cleanup")
	_, err = os.Stat(filepath.Join(root, "cam102", "Defaults", "daytime.mp4"))
	require.NoError(t, err)
}

func TestLayout(t *testing.T) {
	reg, err := resource.NewRegistry(testResources())
	require.NoError(t, err)
	res, _ := reg.Lookup(102)
	l := storage.Layout{Root: "/data", GenericFolder: "Generic Movies"}
	loc := chicago(t)

	// UTC 时间按资源时区落到前一天
	at := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	inst := instance.NewHourVideo(102, at, instance.FormatMP4, nil)
	require.Equal(t, "/data/cam102/2024/February/29/20240229210000.mp4", l.InstancePath(res, inst))

	day := time.Date(2024, 2, 29, 0, 0, 0, 0, loc)
	require.Equal(t, "/data/cam102/2024/February/29/daylong/20240229000000_day_low.mp4", l.DayLongPath(res, day, true))
	require.Equal(t, "/data/Generic Movies/daylong/no_data_day.mp4", l.GenericDayLong(false))
	require.Equal(t, "/data/cam102/Defaults/nighttime.mp4", l.DefaultVideo(res, false))
}

func TestReindex(t *testing.T) {
	core, root := newTestCore(t, nil)
	ctx := context.Background()
	loc := chicago(t)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, loc)

	write := func(rel string) {
		p := filepath.Join(root, "cam102", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	write("2024/June/21/20240621050000.jpg")
	write("2024/June/21/20240621060000.mp4")
	write("2024/June/22/20240621070000.jpg") // 日期目录不一致
	write("2024/June/21/20240621080000.png") // 格式不匹配
	write("Defaults/daytime.jpg")
	write("2024/June/21/daylong/20240621000000_day.mp4")
	write("2024/June/21/daylong/20240621000000_day_low.mp4")

	stats, err := core.Reindex(ctx, 102)
	require.NoError(t, err)
	require.Equal(t, storage.ReindexStats{Instances: 2, Pairs: 1, Skipped: 2}, stats)

	images, err := core.FindInstances(ctx, 102, instance.KindImage, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, filepath.Join("cam102", "2024", "June", "21", "20240621050000.jpg"), images[0].Path)

	n, err := core.CountSegments(ctx, 102, day, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := core.DayLongRecord(ctx, 102, day)
	require.NoError(t, err)
	require.Equal(t, storage.DayLongDir, rec.Generation)

	// 重复执行结果不变
	stats, err = core.Reindex(ctx, 102)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Instances)

	_, err = core.Reindex(ctx, 7)
	require.ErrorIs(t, err, bz.ErrConfiguration)

	stats, err = core.Reindex(ctx, 300)
	require.NoError(t, err, "missing resource directory")
	require.Zero(t, stats.Instances)
}
