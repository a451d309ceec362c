package audit

import (
	"context"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/model"
)

// Publisher 消息发布接口, 由 messaging.NATSClient 实现
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// SubjectPrefix 审计事件主题前缀
const SubjectPrefix = "audit."

// NATSSink 发布到 audit.<event> 主题
type NATSSink struct {
	pub Publisher
	log zerolog.Logger
}

// NewNATSSink 创建消息总线接收者
func NewNATSSink(pub Publisher, log zerolog.Logger) *NATSSink {
	return &NATSSink{pub: pub, log: log.With().Str("component", "audit_nats").Logger()}
}

func (s *NATSSink) Emit(_ context.Context, ev model.AuditEvent) {
	if err := s.pub.Publish(SubjectPrefix+string(ev.Event), ev); err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Event)).Str("subject", ev.Subject).Msg("发布审计事件失败")
	}
}
