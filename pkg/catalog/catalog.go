// Package catalog 维护证券主数据, 所有行情和交易写入前都要经过它校验.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/model"
)

// Repository 证券主数据存储
type Repository interface {
	GetSecurity(ctx context.Context, stockID string) (*model.Security, error)
	CreateSecurity(ctx context.Context, sec *model.Security) error
	UpdateSecurity(ctx context.Context, sec *model.Security) error
	ListSecurities(ctx context.Context, filter model.SecurityFilter) ([]*model.Security, error)
}

// Catalog 参考目录
type Catalog struct {
	repo  Repository
	locks *keylock.Locker
	audit audit.Sink
	log   zerolog.Logger
}

// New 创建参考目录
func New(repo Repository, locks *keylock.Locker, sink audit.Sink, log zerolog.Logger) *Catalog {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Catalog{
		repo:  repo,
		locks: locks,
		audit: sink,
		log:   log.With().Str("component", "catalog").Logger(),
	}
}

// Lookup 查询证券, 不存在返回 ErrNotFound
func (c *Catalog) Lookup(ctx context.Context, stockID string) (*model.Security, error) {
	sec, err := c.repo.GetSecurity(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("查询证券 %s 失败: %w", stockID, err)
	}
	return sec, nil
}

// Require 写入方校验证券存在, 不存在返回 ErrUnknownSecurity
func (c *Catalog) Require(ctx context.Context, stockID string) (*model.Security, error) {
	sec, err := c.repo.GetSecurity(ctx, stockID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("证券 %s: %w", stockID, model.ErrUnknownSecurity)
	}
	if err != nil {
		return nil, fmt.Errorf("查询证券 %s 失败: %w", stockID, err)
	}
	return sec, nil
}

// Register 登记新证券, 已存在返回 ErrDuplicateKey
func (c *Catalog) Register(ctx context.Context, sec *model.Security) (err error) {
	defer func() { c.emit(ctx, model.AuditRegister, sec.StockID, err) }()

	normalizeDates(sec)
	if err := sec.Validate(); err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, "security/"+sec.StockID)
	if err != nil {
		return err
	}
	defer release()

	if err := c.repo.CreateSecurity(ctx, sec); err != nil {
		return fmt.Errorf("登记证券 %s 失败: %w", sec.StockID, err)
	}
	c.log.Info().Str("stockid", sec.StockID).Str("name", sec.Name).Msg("证券登记成功")
	return nil
}

// Delist 登记退市日期
func (c *Catalog) Delist(ctx context.Context, stockID string, date time.Time) (err error) {
	defer func() { c.emit(ctx, model.AuditDelist, stockID, err) }()

	release, err := c.locks.Acquire(ctx, "security/"+stockID)
	if err != nil {
		return err
	}
	defer release()

	sec, err := c.Lookup(ctx, stockID)
	if err != nil {
		return err
	}
	if sec.Delisted() {
		return fmt.Errorf("证券 %s 已于 %s 退市: %w", stockID, model.FormatDate(*sec.DelistingDate), model.ErrAlreadyDelisted)
	}

	d := model.DateOf(date)
	if d.Before(model.DateOf(sec.ListingDate)) {
		return fmt.Errorf("证券 %s 退市日期 %s 早于上市日期 %s: %w",
			stockID, model.FormatDate(d), model.FormatDate(sec.ListingDate), model.ErrInvalidDate)
	}
	sec.DelistingDate = &d

	if err := c.repo.UpdateSecurity(ctx, sec); err != nil {
		return fmt.Errorf("更新证券 %s 失败: %w", stockID, err)
	}
	c.log.Info().Str("stockid", stockID).Str("date", model.FormatDate(d)).Msg("证券已退市")
	return nil
}

// Correct 修正主数据. 已退市证券只能通过修正改动
func (c *Catalog) Correct(ctx context.Context, sec *model.Security) (err error) {
	defer func() { c.emit(ctx, model.AuditCorrect, sec.StockID, err) }()

	normalizeDates(sec)
	if err := sec.Validate(); err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, "security/"+sec.StockID)
	if err != nil {
		return err
	}
	defer release()

	existing, err := c.Lookup(ctx, sec.StockID)
	if err != nil {
		return err
	}
	sec.CreatedAt = existing.CreatedAt

	if err := c.repo.UpdateSecurity(ctx, sec); err != nil {
		return fmt.Errorf("修正证券 %s 失败: %w", sec.StockID, err)
	}
	c.log.Warn().Str("stockid", sec.StockID).Msg("证券主数据已修正")
	return nil
}

// List 按条件列出证券
func (c *Catalog) List(ctx context.Context, filter model.SecurityFilter) ([]*model.Security, error) {
	secs, err := c.repo.ListSecurities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询证券列表失败: %w", err)
	}
	return secs, nil
}

func (c *Catalog) emit(ctx context.Context, action model.AuditAction, subject string, err error) {
	c.audit.Emit(ctx, model.NewAuditEvent(action, subject, "", err))
}

func normalizeDates(sec *model.Security) {
	sec.ListingDate = model.DateOf(sec.ListingDate)
	if sec.DelistingDate != nil {
		d := model.DateOf(*sec.DelistingDate)
		sec.DelistingDate = &d
	}
}
