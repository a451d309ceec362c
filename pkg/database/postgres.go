package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"Cornucopia/pkg/config"
	"Cornucopia/pkg/model"
)

// PostgresDB Postgres 数据库连接, 按聚合提供各类存储
type PostgresDB struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewPostgresDB 创建新的数据库连接
func NewPostgresDB(cfg config.PostgresConfig, log zerolog.Logger) (*PostgresDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}

	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("dbname", cfg.DBName).Msg("数据库连接成功")
	return &PostgresDB{db: db, log: log.With().Str("component", "postgres").Logger()}, nil
}

// Migrate 建表及索引
func (p *PostgresDB) Migrate(ctx context.Context) error {
	err := p.db.WithContext(ctx).AutoMigrate(
		&model.Security{},
		&model.DailyQuote{},
		&model.RealtimeQuote{},
		&model.IntradayTick{},
		&model.ValuationSnapshot{},
		&model.FinanceSnapshot{},
		&model.TradeOperation{},
		&model.Holding{},
		&model.AuditEvent{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	p.log.Info().Msg("数据库迁移完成")
	return nil
}

// Ping 检查连接
func (p *PostgresDB) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Gorm 底层连接, 供审计日志写入
func (p *PostgresDB) Gorm() *gorm.DB {
	return p.db
}

// Close 关闭数据库连接
func (p *PostgresDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
