// pkg/model/security.go
package model

import (
	"fmt"
	"strings"
	"time"
)

// Security 证券主数据
type Security struct {
	StockID       string     `gorm:"column:stockid;type:varchar(20);primaryKey" json:"stockid"`
	Name          string     `gorm:"type:varchar(64);not null" json:"name"`
	Location      string     `gorm:"type:varchar(32)" json:"location"`       // 上市地点, 如 SH/SZ/BJ
	Symbol        string     `gorm:"type:varchar(20);index" json:"symbol"`   // 交易所代码, 如 600000.SH
	Industry      string     `gorm:"type:varchar(64);index" json:"industry"` // 所属行业
	ListingDate   time.Time  `gorm:"type:date;not null" json:"listing_date"`
	DelistingDate *time.Time `gorm:"type:date" json:"delisting_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Security) TableName() string {
	return "security"
}

// Validate 校验主数据
func (s *Security) Validate() error {
	if strings.TrimSpace(s.StockID) == "" {
		return fmt.Errorf("股票ID不能为空: %w", ErrUnknownSecurity)
	}
	if s.ListingDate.IsZero() {
		return fmt.Errorf("%s 缺少上市日期: %w", s.StockID, ErrInvalidDate)
	}
	if s.DelistingDate != nil && s.DelistingDate.Before(s.ListingDate) {
		return fmt.Errorf("%s 退市日期 %s 早于上市日期 %s: %w",
			s.StockID, FormatDate(*s.DelistingDate), FormatDate(s.ListingDate), ErrInvalidDate)
	}
	return nil
}

// Delisted 是否已退市
func (s *Security) Delisted() bool {
	return s.DelistingDate != nil
}

// SecurityFilter 证券列表过滤条件
type SecurityFilter struct {
	Location   string
	Industry   string
	ActiveOnly bool
	Limit      int
}

// Match 判断证券是否满足过滤条件
func (f SecurityFilter) Match(s *Security) bool {
	if f.Location != "" && !strings.EqualFold(f.Location, s.Location) {
		return false
	}
	if f.Industry != "" && f.Industry != s.Industry {
		return false
	}
	if f.ActiveOnly && s.Delisted() {
		return false
	}
	return true
}
