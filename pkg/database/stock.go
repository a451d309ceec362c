// pkg/database/stock.go
package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"Cornucopia/pkg/model"
)

// StockDB 证券主数据
type StockDB struct {
	db *gorm.DB
}

func (p *PostgresDB) Stock() *StockDB {
	return &StockDB{db: p.db}
}

func (s *StockDB) GetSecurity(ctx context.Context, stockID string) (*model.Security, error) {
	var sec model.Security
	err := s.db.WithContext(ctx).First(&sec, "stockid = ?", stockID).Error
	if err != nil {
		return nil, fmt.Errorf("获取证券 %s 失败: %w", stockID, mapError(err, model.ErrNotFound))
	}
	return &sec, nil
}

func (s *StockDB) CreateSecurity(ctx context.Context, sec *model.Security) error {
	if err := s.db.WithContext(ctx).Create(sec).Error; err != nil {
		return fmt.Errorf("保存证券 %s 失败: %w", sec.StockID, mapError(err, model.ErrNotFound))
	}
	return nil
}

func (s *StockDB) UpdateSecurity(ctx context.Context, sec *model.Security) error {
	result := s.db.WithContext(ctx).Model(sec).
		Select("*").
		Omit("stockid", "created_at").
		Updates(sec)
	if result.Error != nil {
		return fmt.Errorf("更新证券 %s 失败: %w", sec.StockID, mapError(result.Error, model.ErrNotFound))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("证券 %s: %w", sec.StockID, model.ErrNotFound)
	}
	return nil
}

func (s *StockDB) ListSecurities(ctx context.Context, filter model.SecurityFilter) ([]*model.Security, error) {
	query := s.db.WithContext(ctx).Model(&model.Security{})
	if filter.Location != "" {
		query = query.Where("UPPER(location) = UPPER(?)", filter.Location)
	}
	if filter.Industry != "" {
		query = query.Where("industry = ?", filter.Industry)
	}
	if filter.ActiveOnly {
		query = query.Where("delisting_date IS NULL")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var secs []*model.Security
	if err := query.Order("stockid ASC").Find(&secs).Error; err != nil {
		return nil, fmt.Errorf("查询证券列表失败: %w", err)
	}
	return secs, nil
}
