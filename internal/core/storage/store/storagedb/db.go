// Package storagedb 实例索引的 gorm 实现
package storagedb

import (
	"context"

	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ storage.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Instance Get business instance
func (d DB) Instance() storage.InstanceStorer {
	return Instance(d)
}

// Pair Get business instance
func (d DB) Pair() storage.PairStorer {
	return Pair(d)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(
		new(storage.ResourceInstance),
		new(storage.DayLongPair),
	); err != nil {
		panic(err)
	}
	return d
}

func apply(db *gorm.DB, opts []orm.QueryOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

// find 统计总数后分页查询，pager 为 nil 时不分页
func find[T any](ctx context.Context, db *gorm.DB, out *[]*T, pager orm.Pager, opts []orm.QueryOption) (int64, error) {
	db = apply(db.WithContext(ctx).Model(new(T)), opts)
	var total int64
	if pager == nil {
		if err := db.Find(out).Error; err != nil {
			return 0, err
		}
		return int64(len(*out)), nil
	}
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil || total == 0 {
		return total, err
	}
	return total, db.Offset(pager.Offset()).Limit(pager.Limit()).Find(out).Error
}
