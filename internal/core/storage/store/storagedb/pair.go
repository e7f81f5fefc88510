package storagedb

import (
	"context"

	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ storage.PairStorer = Pair{}

// Pair Related business namespaces
type Pair DB

// NewPair instance object
func NewPair(db *gorm.DB) Pair {
	return Pair{db: db}
}

// Find implements storage.PairStorer.
func (d Pair) Find(ctx context.Context, bs *[]*storage.DayLongPair, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	return find(ctx, d.db, bs, page, opts)
}

// Get implements storage.PairStorer.
func (d Pair) Get(ctx context.Context, model *storage.DayLongPair, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).First(model).Error
}

// Upsert implements storage.PairStorer.
// 每个资源日只保留最新的一对
func (d Pair) Upsert(ctx context.Context, model *storage.DayLongPair) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_number"}, {Name: "day_ms"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"end_ms", "generation", "standard_path", "low_path", "segments", "standard_size", "low_size", "updated_at",
		}),
	}).Create(model).Error
}

// Del implements storage.PairStorer.
func (d Pair) Del(ctx context.Context, model *storage.DayLongPair, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).Delete(model).Error
}
