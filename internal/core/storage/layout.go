package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gowvp/skylapse/internal/core/bz"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/pkg/timewin"
)

const (
	// DayLongDir 指向当前日视频版本的符号链接名
	DayLongDir = "daylong"
	// DefaultsDir 资源白天/夜间默认媒体目录
	DefaultsDir = "Defaults"

	generationPrefix = ".daylong-"
	dayLongSuffix    = "_day.mp4"
	dayLongLowSuffix = "_day_low.mp4"

	daytimeName   = "daytime"
	nighttimeName = "nighttime"
	noDataName    = "no_data"
)

// Layout 纯路径计算，不访问文件系统
// root/<folder>/<year>/<MonthName>/<dd>/<yyyyMMddHHmmss>.<ext>
type Layout struct {
	Root          string
	GenericFolder string
}

// ResourceDir 资源根目录
func (l Layout) ResourceDir(res *resource.Resource) string {
	return filepath.Join(l.Root, res.Folder)
}

// DayDir 资源某天（按资源时区）的目录
func (l Layout) DayDir(res *resource.Resource, day time.Time) string {
	d := day.In(res.Location)
	return filepath.Join(l.ResourceDir(res),
		strconv.Itoa(d.Year()),
		d.Month().String(),
		fmt.Sprintf("%02d", d.Day()),
	)
}

// InstancePath 实例的规范存储路径
func (l Layout) InstancePath(res *resource.Resource, inst *instance.Instance) string {
	if inst.Kind == instance.KindDayVideo {
		return l.DayLongPath(res, inst.Start, inst.LowQuality)
	}
	name := timewin.FormatTimestamp(inst.Start, res.Location) + inst.Format.Ext()
	return filepath.Join(l.DayDir(res, inst.Start), name)
}

// DayLongPath 经 daylong 符号链接访问的日视频路径
func (l Layout) DayLongPath(res *resource.Resource, day time.Time, low bool) string {
	return filepath.Join(l.DayDir(res, day), DayLongDir, DayLongName(day, res.Location, low))
}

// DayLongName 日视频文件名 yyyyMMdd000000_day.mp4 / _day_low.mp4
func DayLongName(day time.Time, loc *time.Location, low bool) string {
	name := timewin.FormatTimestamp(timewin.StartOfDay(day, loc), loc)
	if low {
		return name + dayLongLowSuffix
	}
	return name + dayLongSuffix
}

// DefaultsDir 资源默认媒体目录
func (l Layout) DefaultsDir(res *resource.Resource) string {
	return filepath.Join(l.ResourceDir(res), DefaultsDir)
}

// DefaultStill 白天/夜间默认图片
func (l Layout) DefaultStill(res *resource.Resource, daytime bool) string {
	return filepath.Join(l.DefaultsDir(res), fillerName(daytime)+instance.FormatJPG.Ext())
}

// DefaultVideo 白天/夜间一小时填充视频
func (l Layout) DefaultVideo(res *resource.Resource, daytime bool) string {
	return filepath.Join(l.DefaultsDir(res), fillerName(daytime)+instance.FormatMP4.Ext())
}

// GenericDir 与资源无关的填充媒体目录
func (l Layout) GenericDir() string {
	return filepath.Join(l.Root, l.GenericFolder)
}

// GenericStill 通用无数据图片
func (l Layout) GenericStill() string {
	return filepath.Join(l.GenericDir(), noDataName+instance.FormatJPG.Ext())
}

// GenericHour 通用无数据一小时视频
func (l Layout) GenericHour() string {
	return filepath.Join(l.GenericDir(), noDataName+instance.FormatMP4.Ext())
}

// GenericDayLong 通用无数据日视频，经 daylong 链接访问
func (l Layout) GenericDayLong(low bool) string {
	return filepath.Join(l.GenericDir(), DayLongDir, genericDayLongName(low))
}

func genericDayLongName(low bool) string {
	if low {
		return noDataName + dayLongLowSuffix
	}
	return noDataName + dayLongSuffix
}

func fillerName(daytime bool) string {
	if daytime {
		return daytimeName
	}
	return nighttimeName
}

// isHiddenName 生成目录、临时文件不参与列表
func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ResolvePath 资源某天的目录，或日视频文件路径，不检查文件是否存在
func (c Core) ResolvePath(resourceNumber int, date time.Time, isDayLong, isLowQuality bool) (string, error) {
	res, ok := c.registry.Lookup(resourceNumber)
	if !ok {
		return "", bz.NewError("ResolvePath", resourceNumber, bz.ErrConfiguration, fmt.Errorf("unknown resource"))
	}
	if isDayLong {
		return c.layout.DayLongPath(res, date, isLowQuality), nil
	}
	return c.layout.DayDir(res, date), nil
}
