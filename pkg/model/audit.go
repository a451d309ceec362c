// pkg/model/audit.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditAction 审计动作
type AuditAction string

const (
	AuditRegister       AuditAction = "register"
	AuditDelist         AuditAction = "delist"
	AuditCorrect        AuditAction = "correct"
	AuditIngest         AuditAction = "ingest"
	AuditTradeAppend    AuditAction = "trade_append"
	AuditPositionUpdate AuditAction = "position_update"
	AuditRebuild        AuditAction = "rebuild"
	AuditReconcile      AuditAction = "reconcile"
	AuditDivergence     AuditAction = "divergence"
)

// 日志级别
const (
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// AuditEvent 每次写操作产生一条审计事件, 落表 syslog
type AuditEvent struct {
	ID        string      `gorm:"type:uuid;primaryKey" json:"id"`
	Event     AuditAction `gorm:"type:varchar(32);not null;index" json:"event"`
	Level     int         `gorm:"not null" json:"level"`
	Outcome   ErrorKind   `gorm:"type:varchar(32);not null;index" json:"outcome"`
	Subject   string      `gorm:"type:varchar(128)" json:"subject"` // 自然主键, 如 daily/600000.SH/2024-01-02
	Message   string      `gorm:"type:text" json:"message"`
	OpID      string      `gorm:"column:opid;type:varchar(64)" json:"opid"` // 操作人
	CreatedAt time.Time   `gorm:"column:cdt;index" json:"cdt"`
}

func (AuditEvent) TableName() string {
	return "syslog"
}

func (e *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// NewAuditEvent 按结果构造审计事件
func NewAuditEvent(action AuditAction, subject, opID string, err error) AuditEvent {
	ev := AuditEvent{
		ID:        uuid.New().String(),
		Event:     action,
		Level:     LevelInfo,
		Outcome:   KindOf(err),
		Subject:   subject,
		OpID:      opID,
		CreatedAt: time.Now(),
	}
	if err != nil {
		ev.Level = LevelWarn
		if ev.Outcome == KindInternal || ev.Outcome == KindLedgerDiverged {
			ev.Level = LevelError
		}
		ev.Message = err.Error()
	}
	return ev
}
