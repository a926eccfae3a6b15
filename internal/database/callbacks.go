package database

import (
	"time"

	"gorm.io/gorm"
)

const startKey = "inferflow:query_start"

// QueryObserver 接收单条语句的操作类型与耗时
type QueryObserver func(operation string, d time.Duration)

// RegisterQueryMetrics 在 GORM 的 create/query/update/delete/row/raw 回调链前后
// 插入计时钩子，通常接到 metrics.Collector.RecordDBQuery
func RegisterQueryMetrics(db *gorm.DB, observe QueryObserver) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(startKey)
			if !ok {
				return
			}
			if start, ok := v.(time.Time); ok {
				observe(operation, time.Since(start))
			}
		}
	}

	cb := db.Callback()
	steps := []struct {
		op       string
		register func() error
	}{
		{"create", func() error {
			if err := cb.Create().Before("gorm:create").Register("metrics:before_create", before); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("metrics:after_create", after("create"))
		}},
		{"query", func() error {
			if err := cb.Query().Before("gorm:query").Register("metrics:before_query", before); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("metrics:after_query", after("query"))
		}},
		{"update", func() error {
			if err := cb.Update().Before("gorm:update").Register("metrics:before_update", before); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("metrics:after_update", after("update"))
		}},
		{"delete", func() error {
			if err := cb.Delete().Before("gorm:delete").Register("metrics:before_delete", before); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("metrics:after_delete", after("delete"))
		}},
		{"row", func() error {
			if err := cb.Row().Before("gorm:row").Register("metrics:before_row", before); err != nil {
				return err
			}
			return cb.Row().After("gorm:row").Register("metrics:after_row", after("row"))
		}},
		{"raw", func() error {
			if err := cb.Raw().Before("gorm:raw").Register("metrics:before_raw", before); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("metrics:after_raw", after("raw"))
		}},
	}
	for _, s := range steps {
		if err := s.register(); err != nil {
			return err
		}
	}
	return nil
}
