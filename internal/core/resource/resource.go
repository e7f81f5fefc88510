package resource

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/pkg/timewin"
)

// CollectionMode 采集时间窗口
type CollectionMode string

const (
	CollectionAlways   CollectionMode = "always"
	CollectionDaylight CollectionMode = "daylight"
)

const (
	defaultDayStartHour   = 6
	defaultDayEndHour     = 18
	defaultUpdateInterval = time.Hour
)

var validate = validator.New()

// Resource 一个观测源：摄像头、地图循环、气象站
type Resource struct {
	Number         int
	Name           string
	Location       *time.Location
	Width, Height  int
	Folder         string
	Active         bool
	UpdateHour     int
	UpdateInterval time.Duration
	Format         instance.Format
	Collection     CollectionMode
	Latitude       float64
	Longitude      float64
	DayStartHour   int
	DayEndHour     int
}

// FromConfig 校验配置并加载时区
func FromConfig(c conf.Resource) (*Resource, error) {
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("resource[%d]: %w", c.Number, err)
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("resource[%d]: time zone: %w", c.Number, err)
	}
	format, err := instance.ParseFormat(c.Format)
	if err != nil {
		return nil, fmt.Errorf("resource[%d]: %w", c.Number, err)
	}

	r := Resource{
		Number:         c.Number,
		Name:           c.Name,
		Location:       loc,
		Width:          c.Width,
		Height:         c.Height,
		Folder:         c.Folder,
		Active:         c.Active,
		UpdateHour:     c.UpdateHour,
		UpdateInterval: c.UpdateInterval.Duration(),
		Format:         format,
		Collection:     CollectionMode(c.Collection),
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		DayStartHour:   c.DayStartHour,
		DayEndHour:     c.DayEndHour,
	}
	if r.Collection == "" {
		r.Collection = CollectionAlways
	}
	if r.UpdateInterval <= 0 {
		r.UpdateInterval = defaultUpdateInterval
	}
	if r.DayStartHour == 0 && r.DayEndHour == 0 {
		r.DayStartHour, r.DayEndHour = defaultDayStartHour, defaultDayEndHour
	}
	if r.DayEndHour <= r.DayStartHour {
		return nil, fmt.Errorf("resource[%d]: day_end_hour must be after day_start_hour", c.Number)
	}
	return &r, nil
}

// HasCoordinates 是否配置了经纬度
func (r *Resource) HasCoordinates() bool {
	return r.Latitude != 0 || r.Longitude != 0
}

// DaylightWindow 白天窗口，有经纬度时按日出日落计算，否则使用固定小时
func (r *Resource) DaylightWindow(day time.Time) timewin.Window {
	if r.HasCoordinates() {
		if w, ok := timewin.Daylight(day, r.Location, r.Latitude, r.Longitude); ok {
			return w
		}
	}
	return timewin.FixedHours(day, r.Location, r.DayStartHour, r.DayEndHour)
}

// CollectionWindow 资源在某天预期产生数据的时间窗口
func (r *Resource) CollectionWindow(day time.Time) timewin.Window {
	if r.Collection == CollectionDaylight {
		return r.DaylightWindow(day)
	}
	return timewin.WholeDay(day, r.Location)
}

// ExpectsData 该小时是否应当有数据，窗口外的缺失不算空洞
func (r *Resource) ExpectsData(hourStart time.Time) bool {
	return r.CollectionWindow(hourStart).Overlaps(hourStart, hourStart.Add(time.Hour))
}

// IsDaytime 以小时中点判断该小时用白天还是夜间的填充视频
func (r *Resource) IsDaytime(hourStart time.Time) bool {
	return r.DaylightWindow(hourStart).Contains(hourStart.Add(30 * time.Minute))
}

// ExpectedHours 某天预期有数据的小时数
func (r *Resource) ExpectedHours(day time.Time) int {
	var n int
	for _, h := range timewin.HourStarts(day, r.Location) {
		if r.ExpectsData(h) {
			n++
		}
	}
	return n
}
