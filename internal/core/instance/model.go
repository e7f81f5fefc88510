package instance

import (
	"fmt"
	"strings"
	"time"
)

// Kind 实例种类，封闭集合
type Kind int

const (
	KindImage Kind = iota + 1
	KindHourVideo
	KindDayVideo
	KindStationReading
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindHourVideo:
		return "hour_video"
	case KindDayVideo:
		return "day_video"
	case KindStationReading:
		return "station_reading"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind String 的逆操作
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindImage, KindHourVideo, KindDayVideo, KindStationReading} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Format 载荷格式，同时也是文件扩展名
type Format string

const (
	FormatJPG Format = "jpg"
	FormatPNG Format = "png"
	FormatAVI Format = "avi"
	FormatMP4 Format = "mp4"
	FormatTXT Format = "txt"
)

// ParseFormat 解析格式，大小写与前导点不敏感
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	switch f {
	case FormatJPG, FormatPNG, FormatAVI, FormatMP4, FormatTXT:
		return f, nil
	case "jpeg":
		return FormatJPG, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// IsVideo 视频容器格式
func (f Format) IsVideo() bool {
	return f == FormatAVI || f == FormatMP4
}

// Ext 带点的扩展名
func (f Format) Ext() string {
	return "." + string(f)
}

// DefaultKind 单次采集的格式对应的实例种类，日视频只能由合成产生
func (f Format) DefaultKind() Kind {
	switch f {
	case FormatJPG, FormatPNG:
		return KindImage
	case FormatAVI, FormatMP4:
		return KindHourVideo
	case FormatTXT:
		return KindStationReading
	}
	return 0
}

// Compatible 判断种类与格式是否匹配
func (k Kind) Compatible(f Format) bool {
	switch k {
	case KindImage:
		return f == FormatJPG || f == FormatPNG
	case KindHourVideo:
		return f.IsVideo()
	case KindDayVideo:
		return f == FormatMP4
	case KindStationReading:
		return f == FormatTXT
	}
	return false
}

// Key 实例身份
type Key struct {
	Resource   int
	Kind       Kind
	Format     Format
	StartMs    int64
	LowQuality bool
}

// Range 左闭右开时间段 [Start, Stop)
type Range struct {
	Start time.Time
	Stop  time.Time
}

// Contains 左闭右开
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.Stop)
}

// Duration 时长
func (r Range) Duration() time.Duration {
	return r.Stop.Sub(r.Start)
}

// Valid 起止非零且 Start < Stop
func (r Range) Valid() bool {
	return !r.Start.IsZero() && r.Start.Before(r.Stop)
}
