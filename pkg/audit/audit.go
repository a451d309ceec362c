// Package audit 记录核心写操作的审计事件.
package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/model"
)

// Sink 审计事件接收者. 投递失败由实现自行记录, 不影响业务操作
type Sink interface {
	Emit(ctx context.Context, ev model.AuditEvent)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Emit(context.Context, model.AuditEvent) {}

// Multi 依次投递到多个接收者
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev model.AuditEvent) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// LogSink 将审计事件写入日志
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink 创建日志接收者
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Emit(_ context.Context, ev model.AuditEvent) {
	e := s.log.Info()
	switch ev.Level {
	case model.LevelWarn:
		e = s.log.Warn()
	case model.LevelError:
		e = s.log.Error()
	}
	e.Str("event", string(ev.Event)).
		Str("outcome", string(ev.Outcome)).
		Str("subject", ev.Subject).
		Str("opid", ev.OpID).
		Msg(ev.Message)
}

// Memory 在内存中保存事件
type Memory struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (m *Memory) Emit(_ context.Context, ev model.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events 返回事件副本
func (m *Memory) Events() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Count 按动作和结果统计事件数
func (m *Memory) Count(action model.AuditAction, outcome model.ErrorKind) int {
	n := 0
	for _, ev := range m.Events() {
		if ev.Event == action && ev.Outcome == outcome {
			n++
		}
	}
	return n
}
