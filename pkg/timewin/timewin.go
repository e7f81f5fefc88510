// Package timewin 时区、自然日边界与宽限期计算
// 所有函数都是纯函数，不依赖任何存储状态
package timewin

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// TimestampLayout 文件名中的固定宽度时间戳
const TimestampLayout = "20060102150405"

// Calculator 带可替换时钟的计算器，测试时注入固定时间
type Calculator struct {
	Now func() time.Time
}

// NewCalculator 使用系统时钟
func NewCalculator() Calculator {
	return Calculator{Now: time.Now}
}

// LastAvailableVideoBoundary 以当前时间为基准计算最新的已完整上传小时边界
func (c Calculator) LastAvailableVideoBoundary(instant time.Time, loc *time.Location, grace time.Duration) (time.Time, bool) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return LastAvailableVideoBoundary(instant, loc, grace, now())
}

// StartOfDay 返回 t 在 loc 时区所在自然日的零点
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay 返回 t 在 loc 时区所在自然日的 23:59:59.999
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
}

// NextDay 返回下一个自然日零点，夏令时切换日同样正确
func NextDay(t time.Time, loc *time.Location) time.Time {
	lt := StartOfDay(t, loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}

// LastAvailableVideoBoundary 从当日末尾逐小时回退，直到候选小时的结束边界不晚于 now-grace
// 返回值即保证已上传完整的最新整点
// 若边界不晚于当日零点，返回 false 表示当天尚无可用数据
func LastAvailableVideoBoundary(instant time.Time, loc *time.Location, grace time.Duration, now time.Time) (time.Time, bool) {
	limit := now.Add(-grace)
	// EndOfDay 为 23:59:59.999，加 1ms 即为候选小时的结束边界
	boundary := EndOfDay(instant, loc).Add(time.Millisecond)
	for boundary.After(limit) {
		boundary = boundary.Add(-time.Hour)
	}
	if !boundary.After(StartOfDay(instant, loc)) {
		return time.Time{}, false
	}
	return boundary.In(loc), true
}

// ChangeCivilTimeZone 保留墙上时间字段，只替换时区
// 这不是同一瞬间的换算："13:30 在 A 时区" 变成 "13:30 在 B 时区"
func ChangeCivilTimeZone(t time.Time, from, to *time.Location) time.Time {
	ft := t.In(from)
	return time.Date(ft.Year(), ft.Month(), ft.Day(), ft.Hour(), ft.Minute(), ft.Second(), ft.Nanosecond(), to)
}

var (
	reTimestamp = regexp.MustCompile(`\d{14}(\d{3})?`)
	reDigits    = regexp.MustCompile(`\D`)
)

// ExtractTimestamp 解析路径或文件名中 yyyyMMddHHmmss[SSS] 形式的时间戳
// 文件名优先；文件名不含完整时间戳时，拼接文件名中全部数字再尝试一次
func ExtractTimestamp(pathOrName string, loc *time.Location) (time.Time, error) {
	base := filepath.Base(pathOrName)
	token := reTimestamp.FindString(base)
	if token == "" {
		digits := reDigits.ReplaceAllString(base, "")
		if len(digits) < len(TimestampLayout) {
			return time.Time{}, fmt.Errorf("timewin: no timestamp in %q", pathOrName)
		}
		token = digits[:len(TimestampLayout)]
		if len(digits) >= len(TimestampLayout)+3 {
			token = digits[:len(TimestampLayout)+3]
		}
	}

	t, err := time.ParseInLocation(TimestampLayout, token[:len(TimestampLayout)], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timewin: parse %q: %w", token, err)
	}
	if len(token) > len(TimestampLayout) {
		var ms int
		fmt.Sscanf(token[len(TimestampLayout):], "%03d", &ms)
		t = t.Add(time.Duration(ms) * time.Millisecond)
	}
	return t, nil
}

// FormatTimestamp ExtractTimestamp 的逆操作
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}

// HourStarts 返回 loc 时区某自然日内每个小时的开始时间
// 夏令时切换日可能是 23 或 25 个
func HourStarts(day time.Time, loc *time.Location) []time.Time {
	start := StartOfDay(day, loc)
	end := NextDay(day, loc)
	hours := make([]time.Time, 0, 25)
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		hours = append(hours, t)
	}
	return hours
}
