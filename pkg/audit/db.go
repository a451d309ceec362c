package audit

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"Cornucopia/pkg/model"
)

// DBSink 写入 syslog 表
type DBSink struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewDBSink 创建数据库接收者
func NewDBSink(db *gorm.DB, log zerolog.Logger) *DBSink {
	return &DBSink{db: db, log: log.With().Str("component", "audit_db").Logger()}
}

func (s *DBSink) Emit(ctx context.Context, ev model.AuditEvent) {
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Event)).Str("subject", ev.Subject).Msg("写入审计日志失败")
	}
}
