// Package store 是 Upload 状态的唯一事实来源。
// 所有需要幂等的写入都用自然键 upsert 表达，不做先读后写。
package store

import (
	"context"
	"errors"
	"fmt"

	"print_upload/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 按驱动连接数据库并自动建表。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if driver == "sqlite" {
		// SQLite 只有库级写锁，单连接让事务天然串行，避免 "database is locked"。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

// Store 封装 uploads / items / order_links / audit_logs 的读写。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 供同进程的其他组件（佣金、通知队列）共享连接。
func (s *Store) DB() *gorm.DB { return s.db }

// notFound 把 gorm 的未找到错误映射为领域错误。
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

// AppendAudit 追加审计日志；tx 为 nil 时使用默认连接。
func (s *Store) AppendAudit(ctx context.Context, tx *gorm.DB, entry model.AuditLog) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Create(&entry).Error
}

// AuditTrail 按时间顺序列出某个 upload 的审计日志。
func (s *Store) AuditTrail(ctx context.Context, uploadID string) ([]model.AuditLog, error) {
	var list []model.AuditLog
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}
