package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// rawKinds 可被清理的原始数据，日视频与默认媒体不参与清理
var rawKinds = []string{
	instance.KindImage.String(),
	instance.KindHourVideo.String(),
	instance.KindStationReading.String(),
}

// StartCleanupWorker 启动定时清理协程
// 启动时执行一次，随后每 60 分钟执行一次，ctx 结束时退出
func (c Core) StartCleanupWorker(ctx context.Context) {
	if c.conf.CleanupDisabled {
		slog.Info("storage cleanup disabled")
		return
	}

	slog.Info("storage cleanup worker started",
		"retain_days", c.conf.RetainDays,
		"disk_threshold", c.conf.DiskUsageThreshold,
		"root", c.layout.Root,
	)

	c.RunCleanup(ctx)

	ticker := time.NewTicker(60 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunCleanup(ctx)
		}
	}
}

// RunCleanup 先清理过期数据，再处理磁盘空间
func (c Core) RunCleanup(ctx context.Context) {
	c.cleanupExpired(ctx, time.Now())
	c.cleanupByDiskUsage(ctx)
}

// cleanupExpired 清理超过保留天数的原始数据
func (c Core) cleanupExpired(ctx context.Context, now time.Time) {
	if c.conf.RetainDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -c.conf.RetainDays)

	totalDeleted, filesDeleted, failedFiles, freedBytes := c.batchDelete(ctx,
		orm.Where("kind IN ?", rawKinds),
		orm.Where("start_ms < ?", cutoff.UnixMilli()),
	)
	if totalDeleted > 0 || failedFiles > 0 {
		slog.InfoContext(ctx, "expired instance cleanup completed",
			"reason", "retention_policy",
			"retain_days", c.conf.RetainDays,
			"cutoff_time", cutoff.Format(time.DateTime),
			"instances_deleted", totalDeleted,
			"files_deleted", filesDeleted,
			"failed_files", failedFiles,
			"freed_bytes", freedBytes,
		)
	}
}

// cleanupByDiskUsage 磁盘使用率超过阈值时删除最旧的原始数据
func (c Core) cleanupByDiskUsage(ctx context.Context) {
	threshold := c.conf.DiskUsageThreshold
	if threshold <= 0 || threshold >= 100 {
		return
	}
	if _, err := os.Stat(c.layout.Root); os.IsNotExist(err) {
		return
	}

	usage, err := getDiskUsage(c.layout.Root)
	if err != nil {
		slog.WarnContext(ctx, "failed to get disk usage", "err", err)
		return
	}
	if usage < threshold {
		return
	}
	initial := usage

	// 以过去一小时写入量作为清理目标，至少 100MB
	var recent []*ResourceInstance
	_, _ = c.store.Instance().Find(ctx, &recent, nil,
		orm.Where("kind IN ?", rawKinds),
		orm.Where("created_at >= ?", orm.Time{Time: time.Now().Add(-time.Hour)}),
	)
	var target int64
	for _, r := range recent {
		target += r.Size
	}
	target = max(target, 100*1024*1024)

	var freedBytes int64
	var deletedCount, failedCount int
	const batchSize = 50
	for freedBytes < target {
		var oldest []*ResourceInstance
		_, err := c.store.Instance().Find(ctx, &oldest, limitPager{limit: batchSize},
			orm.Where("kind IN ?", rawKinds),
			orm.OrderBy("start_ms ASC"),
		)
		if err != nil || len(oldest) == 0 {
			break
		}
		deleted, failed, freed := c.deleteRecords(ctx, oldest)
		deletedCount += deleted
		failedCount += failed
		freedBytes += freed
		if deleted == 0 {
			break
		}

		usage, err = getDiskUsage(c.layout.Root)
		if err == nil && usage < threshold {
			break
		}
	}

	cleanupEmptyDirs(c.layout.Root, DefaultsDir, c.layout.GenericFolder)

	if deletedCount > 0 || failedCount > 0 {
		slog.InfoContext(ctx, "disk usage cleanup completed",
			"reason", "disk_threshold_exceeded",
			"initial_usage", initial,
			"threshold", threshold,
			"instances_deleted", deletedCount,
			"failed_files", failedCount,
			"freed_bytes", freedBytes,
		)
	}
}

// batchDelete 分批删除满足条件的实例（文件+索引）
func (c Core) batchDelete(ctx context.Context, conditions ...orm.QueryOption) (totalDeleted, filesDeleted, failedFiles int, freedBytes int64) {
	const batchSize = 100
	for {
		var items []*ResourceInstance
		_, err := c.store.Instance().Find(ctx, &items, limitPager{limit: batchSize}, conditions...)
		if err != nil || len(items) == 0 {
			break
		}
		deleted, failed, freed := c.deleteRecords(ctx, items)
		if deleted == 0 {
			break
		}
		totalDeleted += deleted
		filesDeleted += deleted - failed
		failedFiles += failed
		freedBytes += freed
	}
	cleanupEmptyDirs(c.layout.Root, DefaultsDir, c.layout.GenericFolder)
	return
}

// deleteRecords 删除文件，文件已不存在也视为成功，随后删除索引
func (c Core) deleteRecords(ctx context.Context, items []*ResourceInstance) (deleted, failed int, freed int64) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if err := os.Remove(c.AbsPath(it.Path)); err != nil && !os.IsNotExist(err) {
			failed++
		} else {
			freed += it.Size
		}
		ids = append(ids, it.ID)
	}
	if len(ids) == 0 {
		return
	}
	err := c.store.Instance().Session(ctx, func(tx *gorm.DB) error {
		return tx.Where("id IN ?", ids).Delete(&ResourceInstance{}).Error
	})
	if err != nil {
		slog.WarnContext(ctx, "delete instance index", "err", err)
		return 0, failed, freed
	}
	return len(ids), failed, freed
}

// getDiskUsage 指定路径所在磁盘的使用率（百分比）
func getDiskUsage(path string) (float64, error) {
	st, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return st.UsedPercent, nil
}

// cleanupEmptyDirs 递归删除空目录，keep 中的目录名保留
func cleanupEmptyDirs(dir string, keep ...string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || slices.Contains(keep, entry.Name()) {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		cleanupEmptyDirs(sub, keep...)
		if subEntries, err := os.ReadDir(sub); err == nil && len(subEntries) == 0 {
			_ = os.Remove(sub)
		}
	}
}
