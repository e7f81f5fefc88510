package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Bootstrap 全局配置
type Bootstrap struct {
	ConfigDir    string `toml:"-"`
	ConfigPath   string `toml:"-"`
	BuildVersion string `toml:"-"`

	Server    Server     `toml:"server"`
	Data      Data       `toml:"data"`
	Log       Log        `toml:"log"`
	Storage   Storage    `toml:"storage"`
	Scheduler Scheduler  `toml:"scheduler"`
	Codec     Codec      `toml:"codec"`
	Resources []Resource `toml:"resources"`
}

type Server struct {
	Debug bool `toml:"debug" comment:"调试模式，打印请求体"`
	HTTP  HTTP `toml:"http"`
}

type HTTP struct {
	Port    int      `toml:"port"`
	Timeout Duration `toml:"timeout"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" comment:"sqlite 相对路径，或 postgres:// mysql:// 开头的连接串"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

type Log struct {
	Dir          string   `toml:"dir"`
	Level        string   `toml:"level" comment:"debug/info/warn/error"`
	MaxAge       Duration `toml:"max_age"`
	RotationTime Duration `toml:"rotation_time"`
}

// Storage 文件存储与清理
type Storage struct {
	Root               string  `toml:"root" comment:"资源文件根目录"`
	GenericFolder      string  `toml:"generic_folder"`
	RetainDays         int     `toml:"retain_days" comment:"原始图片与小时视频保留天数，0 表示不按天清理"`
	DiskUsageThreshold float64 `toml:"disk_usage_threshold" comment:"磁盘使用率百分比阈值，超过后删除最旧的原始数据"`
	CleanupDisabled    bool    `toml:"cleanup_disabled"`
	MinDaySegments     int     `toml:"min_day_segments" comment:"合成日视频至少需要的真实小时片段数"`
	FillEmptyDays      bool    `toml:"fill_empty_days" comment:"无任何真实片段的日子使用通用无数据视频"`
}

// Scheduler 定时合成
type Scheduler struct {
	Disabled         bool     `toml:"disabled"`
	GracePeriod      Duration `toml:"grace_period" comment:"小时片段上传处理所需的延迟"`
	AssemblyInterval Duration `toml:"assembly_interval" comment:"检查日视频是否可以合成的间隔"`
}

// Codec 外部 ffmpeg 调用
type Codec struct {
	Binary             string   `toml:"binary"`
	Timeout            Duration `toml:"timeout" comment:"单次调用超时，防止进程卡死导致任务永久阻塞"`
	Attempts           uint     `toml:"attempts"`
	LowBitrateKbps     int      `toml:"low_bitrate_kbps"`
	HourFPS            int      `toml:"hour_fps"`
	FillerDuration     Duration `toml:"filler_duration"`
	MaxGenericDuration Duration `toml:"max_generic_duration"`
}

// Resource 资源配置
type Resource struct {
	Number         int      `toml:"number" validate:"required,gt=0"`
	Name           string   `toml:"name"`
	TimeZone       string   `toml:"time_zone" validate:"required"`
	Width          int      `toml:"width" validate:"gte=0"`
	Height         int      `toml:"height" validate:"gte=0"`
	Folder         string   `toml:"folder" validate:"required,excludesall=/\\"`
	Active         bool     `toml:"active"`
	UpdateHour     int      `toml:"update_hour" validate:"gte=0,lte=23"`
	UpdateInterval Duration `toml:"update_interval"`
	Format         string   `toml:"format" validate:"required,oneof=jpg png avi mp4 txt"`
	Collection     string   `toml:"collection" validate:"omitempty,oneof=always daylight"`
	Latitude       float64  `toml:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64  `toml:"longitude" validate:"gte=-180,lte=180"`
	DayStartHour   int      `toml:"day_start_hour" validate:"gte=0,lte=23"`
	DayEndHour     int      `toml:"day_end_hour" validate:"gte=0,lte=24"`
}

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: HTTP{Port: 15200, Timeout: Duration(time.Minute)},
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Log: Log{
			Dir:          "logs",
			Level:        "info",
			MaxAge:       Duration(7 * 24 * time.Hour),
			RotationTime: Duration(24 * time.Hour),
		},
		Storage: Storage{
			Root:               "data",
			GenericFolder:      "Generic Movies",
			RetainDays:         30,
			DiskUsageThreshold: 95,
			MinDaySegments:     1,
		},
		Scheduler: Scheduler{
			GracePeriod:      Duration(10 * time.Minute),
			AssemblyInterval: Duration(15 * time.Minute),
		},
		Codec: Codec{
			Binary:             "ffmpeg",
			Timeout:            Duration(30 * time.Minute),
			Attempts:           2,
			LowBitrateKbps:     256,
			HourFPS:            10,
			FillerDuration:     Duration(time.Hour),
			MaxGenericDuration: Duration(24 * time.Hour),
		},
	}
}

// SetupConfig 读取配置文件，文件不存在时写入默认配置
// 同目录下的 .env 与环境变量会覆盖文件中的部分字段
func SetupConfig(path string) (Bootstrap, error) {
	bc := DefaultConfig()
	bc.ConfigPath = path
	bc.ConfigDir = filepath.Dir(path)

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := WriteConfig(&bc, path); err != nil {
			return bc, err
		}
	case err != nil:
		return bc, err
	default:
		if err := toml.Unmarshal(b, &bc); err != nil {
			return bc, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load(filepath.Join(bc.ConfigDir, ".env"))
	applyEnv(&bc)
	return bc, nil
}

// WriteConfig 回写配置文件
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func applyEnv(bc *Bootstrap) {
	if v := os.Getenv("SKYLAPSE_STORAGE_ROOT"); v != "" {
		bc.Storage.Root = v
	}
	if v := os.Getenv("SKYLAPSE_DSN"); v != "" {
		bc.Data.Database.Dsn = v
	}
	if v := os.Getenv("SKYLAPSE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			bc.Server.HTTP.Port = port
		}
	}
	if v := os.Getenv("SKYLAPSE_FFMPEG"); v != "" {
		bc.Codec.Binary = v
	}
}
