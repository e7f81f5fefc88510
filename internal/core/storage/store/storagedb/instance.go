package storagedb

import (
	"context"

	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ storage.InstanceStorer = Instance{}

// Instance Related business namespaces
type Instance DB

// NewInstance instance object
func NewInstance(db *gorm.DB) Instance {
	return Instance{db: db}
}

// Find implements storage.InstanceStorer.
func (d Instance) Find(ctx context.Context, bs *[]*storage.ResourceInstance, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	return find(ctx, d.db, bs, page, opts)
}

// Get implements storage.InstanceStorer.
func (d Instance) Get(ctx context.Context, model *storage.ResourceInstance, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).First(model).Error
}

// Upsert implements storage.InstanceStorer.
// 相同身份 (resource_number, kind, format, start_ms, low_quality) 的记录被覆盖
func (d Instance) Upsert(ctx context.Context, model *storage.ResourceInstance) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "resource_number"}, {Name: "kind"}, {Name: "format"}, {Name: "start_ms"}, {Name: "low_quality"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"end_ms", "path", "size", "created_at"}),
	}).Create(model).Error
}

// Del implements storage.InstanceStorer.
func (d Instance) Del(ctx context.Context, model *storage.ResourceInstance, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).Delete(model).Error
}

// Count implements storage.InstanceStorer.
func (d Instance) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := apply(d.db.WithContext(ctx).Model(new(storage.ResourceInstance)), opts).Count(&total).Error
	return total, err
}

// Session implements storage.InstanceStorer.
func (d Instance) Session(ctx context.Context, changeFns ...func(*gorm.DB) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range changeFns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
