package storage

import (
	"time"

	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/ixugo/goddd/pkg/orm"
)

// ResourceInstance 实例索引，文件本身在磁盘上
// 时间以毫秒时间戳存储，跨数据库比较不受时区影响
type ResourceInstance struct {
	ID             int64    `gorm:"primaryKey" json:"id"`
	ResourceNumber int      `gorm:"column:resource_number;notNull;uniqueIndex:uk_resource_instance,priority:1" json:"resource_number"`
	Kind           string   `gorm:"column:kind;size:20;notNull;uniqueIndex:uk_resource_instance,priority:2" json:"kind"`
	Format         string   `gorm:"column:format;size:8;notNull;uniqueIndex:uk_resource_instance,priority:3" json:"format"`
	StartMs        int64    `gorm:"column:start_ms;notNull;uniqueIndex:uk_resource_instance,priority:4;index" json:"start_ms"`
	EndMs          int64    `gorm:"column:end_ms;notNull" json:"end_ms"`
	LowQuality     bool     `gorm:"column:low_quality;notNull;default:false;uniqueIndex:uk_resource_instance,priority:5" json:"low_quality"`
	Path           string   `gorm:"column:path;notNull" json:"path"`
	Size           int64    `gorm:"column:size;notNull;default:0" json:"size"`
	CreatedAt      orm.Time `gorm:"column:created_at;notNull;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (*ResourceInstance) TableName() string {
	return "resource_instances"
}

// Instance 转换为领域实例，不含载荷
func (r *ResourceInstance) Instance() *instance.Instance {
	format, _ := instance.ParseFormat(r.Format)
	kind, _ := instance.ParseKind(r.Kind)
	return &instance.Instance{
		Kind:       kind,
		Resource:   r.ResourceNumber,
		Start:      time.UnixMilli(r.StartMs),
		End:        time.UnixMilli(r.EndMs),
		Format:     format,
		LowQuality: r.LowQuality,
	}
}

// DayLongPair 一个资源日当前生效的日视频对，每个资源日只有一行
type DayLongPair struct {
	ID             int64    `gorm:"primaryKey" json:"id"`
	ResourceNumber int      `gorm:"column:resource_number;notNull;uniqueIndex:uk_day_long_pair,priority:1" json:"resource_number"`
	DayMs          int64    `gorm:"column:day_ms;notNull;uniqueIndex:uk_day_long_pair,priority:2" json:"day_ms"`
	EndMs          int64    `gorm:"column:end_ms;notNull" json:"end_ms"`
	Generation     string   `gorm:"column:generation;size:64;notNull" json:"generation"`
	StandardPath   string   `gorm:"column:standard_path;notNull" json:"standard_path"`
	LowPath        string   `gorm:"column:low_path;notNull" json:"low_path"`
	Segments       int      `gorm:"column:segments;notNull;default:0" json:"segments"` // 合成时真实小时片段数
	StandardSize   int64    `gorm:"column:standard_size;notNull;default:0" json:"standard_size"`
	LowSize        int64    `gorm:"column:low_size;notNull;default:0" json:"low_size"`
	UpdatedAt      orm.Time `gorm:"column:updated_at;notNull;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*DayLongPair) TableName() string {
	return "day_long_pairs"
}
