package mysql

import (
	"context"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSequenceRetry = 3

// SequenceAllocator 按命名空间分配全局唯一、单调递增的 ID
type SequenceAllocator interface {
	Allocate(ctx context.Context, namespace string) (uint64, error)
}

type SequenceRepository struct {
	DB *gorm.DB
	// Start 计数器首次创建时的初始值，第一次分配得到 Start+1
	Start    uint64
	MaxRetry int
}

func NewSequenceRepository(db *gorm.DB, start uint64) *SequenceRepository {
	return &SequenceRepository{DB: db, Start: start, MaxRetry: defaultSequenceRetry}
}

func (r *SequenceRepository) Allocate(ctx context.Context, namespace string) (uint64, error) {
	var (
		val uint64
		err error
	)
	for attempt := 0; attempt <= r.MaxRetry; attempt++ {
		val, err = r.allocateOnce(ctx, namespace)
		if err == nil {
			return val, nil
		}
		if !retryable(err) {
			break
		}
	}
	return 0, errs.Transient("allocate "+namespace, err)
}

// allocateOnce 一个事务内：不存在则插入初始值 -> 原地自增（持有行锁）-> 读回
func (r *SequenceRepository) allocateOnce(ctx context.Context, namespace string) (uint64, error) {
	var val uint64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.SequenceCounter{Namespace: namespace, Value: r.Start}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.SequenceCounter{}).
			Where("namespace = ?", namespace).
			UpdateColumn("value", gorm.Expr("value + ?", 1)).Error; err != nil {
			return err
		}
		var c model.SequenceCounter
		if err := tx.Where("namespace = ?", namespace).Take(&c).Error; err != nil {
			return err
		}
		val = c.Value
		return nil
	})
	return val, err
}
