package timewin

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Window 一段 [Start, End) 时间
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains 左闭右开
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps 判断 [start, end) 与窗口是否有交集
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// IsZero 空窗口
func (w Window) IsZero() bool {
	return !w.Start.Before(w.End)
}

// Daylight 计算 loc 时区某自然日的日出日落窗口
// 极昼/极夜时 go-sunrise 返回零值，此时 ok=false，由调用方决定回退策略
func Daylight(day time.Time, loc *time.Location, lat, lon float64) (Window, bool) {
	lt := day.In(loc)
	rise, set := sunrise.SunriseSunset(lat, lon, lt.Year(), lt.Month(), lt.Day())
	if rise.IsZero() || set.IsZero() {
		return Window{}, false
	}
	rise, set = rise.In(loc), set.In(loc)
	// 西经较大时，日落可能落到次日 UTC，换算回本地后仍在当天；反之则修正到当天
	dayStart, dayEnd := StartOfDay(day, loc), NextDay(day, loc)
	if set.Before(rise) {
		set = set.Add(24 * time.Hour)
	}
	if rise.Before(dayStart) {
		rise = dayStart
	}
	if set.After(dayEnd) {
		set = dayEnd
	}
	return Window{Start: rise, End: set}, true
}

// FixedHours 固定本地小时构成的窗口，如 6 点到 18 点
func FixedHours(day time.Time, loc *time.Location, startHour, endHour int) Window {
	lt := day.In(loc)
	return Window{
		Start: time.Date(lt.Year(), lt.Month(), lt.Day(), startHour, 0, 0, 0, loc),
		End:   time.Date(lt.Year(), lt.Month(), lt.Day(), endHour, 0, 0, 0, loc),
	}
}

// WholeDay 整个自然日
func WholeDay(day time.Time, loc *time.Location) Window {
	return Window{Start: StartOfDay(day, loc), End: NextDay(day, loc)}
}
