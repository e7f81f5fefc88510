// Package storage 资源实例的落盘、索引与清理
package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"gorm.io/gorm"
)

// Storer data persistence
type Storer interface {
	Instance() InstanceStorer
	Pair() PairStorer
}

// InstanceStorer 实例索引
type InstanceStorer interface {
	Find(context.Context, *[]*ResourceInstance, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *ResourceInstance, ...orm.QueryOption) error
	Upsert(context.Context, *ResourceInstance) error
	Del(context.Context, *ResourceInstance, ...orm.QueryOption) error
	Count(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
}

// PairStorer 日视频对索引
type PairStorer interface {
	Find(context.Context, *[]*DayLongPair, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *DayLongPair, ...orm.QueryOption) error
	Upsert(context.Context, *DayLongPair) error
	Del(context.Context, *DayLongPair, ...orm.QueryOption) error
}

// Codec 填充视频与旧格式转换依赖的编解码能力
type Codec interface {
	StillToVideo(ctx context.Context, image, output string, d time.Duration, width, height int) error
	Transcode(ctx context.Context, input, output string) error
}

// Core business domain
type Core struct {
	store          Storer
	registry       *resource.Registry
	codec          Codec
	conf           *conf.Storage
	layout         Layout
	fillerDuration time.Duration
}

type Option func(*Core)

// WithConfig 注入存储配置
func WithConfig(c *conf.Storage) Option {
	return func(core *Core) {
		core.conf = c
	}
}

// WithCodec 注入编解码器，用于生成填充视频与转码
func WithCodec(codec Codec) Option {
	return func(c *Core) {
		c.codec = codec
	}
}

// WithFillerDuration 默认媒体生成的填充视频时长
func WithFillerDuration(d time.Duration) Option {
	return func(c *Core) {
		c.fillerDuration = d
	}
}

// NewCore create business domain
func NewCore(store Storer, registry *resource.Registry, opts ...Option) Core {
	c := Core{store: store, registry: registry, fillerDuration: time.Hour}
	for _, opt := range opts {
		opt(&c)
	}
	if c.conf == nil {
		def := conf.DefaultConfig().Storage
		c.conf = &def
	}
	root := c.conf.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(system.Getwd(), root)
	}
	c.layout = Layout{Root: root, GenericFolder: c.conf.GenericFolder}
	return c
}

// Layout 路径计算
func (c Core) Layout() Layout {
	return c.layout
}

// Registry 资源索引
func (c Core) Registry() *resource.Registry {
	return c.registry
}

// AbsPath 索引中保存的是相对根目录的路径
func (c Core) AbsPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.layout.Root, rel)
}

func (c Core) relPath(abs string) string {
	rel, err := filepath.Rel(c.layout.Root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// limitPager 内部批量查询使用的分页器
type limitPager struct {
	offset, limit int
}

func (p limitPager) Offset() int { return p.offset }
func (p limitPager) Limit() int  { return p.limit }
