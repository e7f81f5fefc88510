package api

import (
	"time"

	"github.com/ixugo/goddd/pkg/web"
)

// findInstancesInput 范围查询参数，时间为毫秒时间戳，范围左闭右开
type findInstancesInput struct {
	web.DateFilter
	Count   int    `form:"count"`   // 桶数量
	Video   bool   `form:"video"`   // 查询小时视频
	Format  string `form:"format"`  // 为空时使用资源默认格式
	Payload bool   `form:"payload"` // 是否内联返回文件内容
}

type instanceOutput struct {
	Kind       string    `json:"kind"`
	Resource   int       `json:"resource"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Format     string    `json:"format"`
	LowQuality bool      `json:"low_quality"`
	Path       string    `json:"path"` // 相对存储根目录
	URL        string    `json:"url"`
	Payload    []byte    `json:"payload,omitempty"`
}

type findInstancesOutput struct {
	Items          []*instanceOutput `json:"items"`   // 与请求桶数量等长，null 表示该桶无数据
	Pending        []bool            `json:"pending"` // 该桶暂不可用，而不是缺失
	AvailableUntil time.Time         `json:"available_until"`
}

// findDayLongInput 日视频对查询参数，每天一个桶
type findDayLongInput struct {
	web.DateFilter
	Count int `form:"count"`
}

type findDayLongOutput struct {
	Standard       []*instanceOutput `json:"standard"`
	Low            []*instanceOutput `json:"low"`
	AvailableUntil time.Time         `json:"available_until"`
}

type resolvePathInput struct {
	DateMs  int64 `form:"date_ms"`
	DayLong bool  `form:"daylong"`
	Low     bool  `form:"low"`
}

type findFilesInput struct {
	web.DateFilter
	Format string `form:"format"`
}

// assembleInput 手动合成某天，日期按资源时区解析
type assembleInput struct {
	Day string `json:"day"` // 2006-01-02
}

// buildHourInput 由图片合成某个小时
type buildHourInput struct {
	HourMs int64 `json:"hour_ms"`
}
