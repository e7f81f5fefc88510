// Package instance 资源实例：某个资源在某段时间内的一份数据
// 图片、小时视频、日视频、气象站读数是同一结构上的不同种类，不做继承体系
package instance

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Capability 所有实例共有的能力
type Capability interface {
	StartTime() time.Time
	EndTime() time.Time
	ResourceNumber() int
	ReadPayload(r io.Reader) error
	WritePayload(w io.Writer) error
}

var _ Capability = (*Instance)(nil)

// Instance 资源实例
type Instance struct {
	Kind       Kind
	Resource   int
	Start      time.Time
	End        time.Time
	Format     Format
	LowQuality bool // 仅日视频使用
	Payload    []byte
}

// NewImage 单帧图片，结束时间等于开始时间
func NewImage(resource int, at time.Time, format Format, payload []byte) *Instance {
	return &Instance{Kind: KindImage, Resource: resource, Start: at, End: at, Format: format, Payload: payload}
}

// NewHourVideo 一小时视频
func NewHourVideo(resource int, start time.Time, format Format, payload []byte) *Instance {
	return &Instance{Kind: KindHourVideo, Resource: resource, Start: start, End: start.Add(time.Hour), Format: format, Payload: payload}
}

// NewDayVideo 日视频，end 由调用方按时区计算的次日零点给出
func NewDayVideo(resource int, start, end time.Time, lowQuality bool, payload []byte) *Instance {
	return &Instance{Kind: KindDayVideo, Resource: resource, Start: start, End: end, Format: FormatMP4, LowQuality: lowQuality, Payload: payload}
}

// NewStationReading 气象站的一条分隔文本读数
func NewStationReading(resource int, at time.Time, payload []byte) *Instance {
	return &Instance{Kind: KindStationReading, Resource: resource, Start: at, End: at, Format: FormatTXT, Payload: payload}
}

// New 根据格式推断种类
func New(resource int, start time.Time, format Format, payload []byte) *Instance {
	switch format.DefaultKind() {
	case KindHourVideo:
		return NewHourVideo(resource, start, format, payload)
	case KindStationReading:
		return NewStationReading(resource, start, payload)
	}
	return NewImage(resource, start, format, payload)
}

// StartTime implements Capability.
func (i *Instance) StartTime() time.Time { return i.Start }

// EndTime implements Capability.
func (i *Instance) EndTime() time.Time { return i.End }

// ResourceNumber implements Capability.
func (i *Instance) ResourceNumber() int { return i.Resource }

// ReadPayload implements Capability.
func (i *Instance) ReadPayload(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.Payload = b
	return nil
}

// WritePayload implements Capability.
func (i *Instance) WritePayload(w io.Writer) error {
	_, err := w.Write(i.Payload)
	return err
}

// Key 实例身份
func (i *Instance) Key() Key {
	return Key{
		Resource:   i.Resource,
		Kind:       i.Kind,
		Format:     i.Format,
		StartMs:    i.Start.UnixMilli(),
		LowQuality: i.LowQuality,
	}
}

// Validate 检查不变量：资源号与开始时间必填，种类与格式匹配
func (i *Instance) Validate() error {
	if i == nil {
		return errors.New("nil instance")
	}
	if i.Resource <= 0 {
		return errors.New("resource number is required")
	}
	if i.Start.IsZero() {
		return errors.New("start time is required")
	}
	if i.End.Before(i.Start) {
		return fmt.Errorf("end %s before start %s", i.End, i.Start)
	}
	if !i.Kind.Compatible(i.Format) {
		return fmt.Errorf("format %q is not valid for %s", i.Format, i.Kind)
	}
	if i.LowQuality && i.Kind != KindDayVideo {
		return fmt.Errorf("low quality flag is only valid for %s", KindDayVideo)
	}
	return nil
}

// Fields 解析气象站读数，自动识别逗号、制表符、分号分隔
func (i *Instance) Fields() ([][]string, error) {
	if i.Kind != KindStationReading {
		return nil, fmt.Errorf("%s has no fields", i.Kind)
	}
	r := csv.NewReader(bytes.NewReader(i.Payload))
	r.Comma = detectDelimiter(i.Payload)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func detectDelimiter(b []byte) rune {
	line, _, _ := strings.Cut(string(b), "\n")
	best, count := ',', strings.Count(line, ",")
	for _, c := range []rune{'\t', ';', '|'} {
		if n := strings.Count(line, string(c)); n > count {
			best, count = c, n
		}
	}
	return best
}

// DayLongPair 同一资源同一天的标准/低质量日视频，总是成对创建、替换、读取
type DayLongPair struct {
	Standard *Instance
	Low      *Instance
}

// NewDayLongPair 校验两者属于同一资源日
func NewDayLongPair(standard, low *Instance) (DayLongPair, error) {
	if standard == nil || low == nil {
		return DayLongPair{}, errors.New("both day-long videos are required")
	}
	for _, v := range []*Instance{standard, low} {
		if err := v.Validate(); err != nil {
			return DayLongPair{}, err
		}
		if v.Kind != KindDayVideo {
			return DayLongPair{}, fmt.Errorf("expected %s, got %s", KindDayVideo, v.Kind)
		}
	}
	if standard.LowQuality || !low.LowQuality {
		return DayLongPair{}, errors.New("quality flags do not match standard/low order")
	}
	if standard.Resource != low.Resource || !standard.Start.Equal(low.Start) {
		return DayLongPair{}, errors.New("pair does not share the same resource day")
	}
	return DayLongPair{Standard: standard, Low: low}, nil
}
