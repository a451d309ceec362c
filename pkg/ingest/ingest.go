// Package ingest 消费行情主题, 把信封中的记录写入行情存储.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/messaging"
	"Cornucopia/pkg/model"
)

// Recorder 行情写入接口, 由 market.Store 实现
type Recorder interface {
	Record(ctx context.Context, rec model.Record) error
}

// Subscriber 消息订阅接口, 由 messaging.NATSClient 实现
type Subscriber interface {
	Subscribe(streamName, consumerName, filterSubject string, workers int, handler messaging.MessageHandler) error
}

// Stats 处理计数
type Stats struct {
	Stored   int64 `json:"stored"`
	Rejected int64 `json:"rejected"`
	Retried  int64 `json:"retried"`
	Dropped  int64 `json:"dropped"`
}

// Worker 行情入库消费者
type Worker struct {
	store Recorder
	log   zerolog.Logger

	stored   atomic.Int64
	rejected atomic.Int64
	retried  atomic.Int64
	dropped  atomic.Int64
}

// NewWorker 创建入库消费者
func NewWorker(store Recorder, log zerolog.Logger) *Worker {
	return &Worker{store: store, log: log.With().Str("component", "ingest").Logger()}
}

// Start 以持久化消费者订阅全部行情主题
func (w *Worker) Start(sub Subscriber, consumerName string, workers int) error {
	return sub.Subscribe(messaging.QuotesStream, consumerName, messaging.QuotesSubject, workers, w.Handle)
}

// Handle 处理一条行情消息.
// 数据校验类错误不会因重试而改变, 确认后丢弃; 并发冲突与内部错误交由消息总线重投
func (w *Worker) Handle(ctx context.Context, subject string, data []byte) messaging.Disposition {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.dropped.Add(1)
		w.log.Error().Err(err).Str("subject", subject).Msg("无法解析行情信封")
		return messaging.Term
	}
	if want := strings.TrimPrefix(subject, "quotes."); want != subject && want != string(env.Granularity) {
		w.log.Warn().Str("subject", subject).Str("granularity", string(env.Granularity)).Msg("主题与记录粒度不一致")
	}

	rec, err := env.Open()
	if err != nil {
		w.dropped.Add(1)
		w.log.Error().Err(err).Str("subject", subject).Msg("无法解析行情记录")
		return messaging.Term
	}

	err = w.store.Record(ctx, rec)
	switch kind := model.KindOf(err); {
	case err == nil:
		w.stored.Add(1)
		return messaging.Ack
	case model.Retryable(err), kind == model.KindInternal:
		w.retried.Add(1)
		w.log.Warn().Err(err).Str("key", rec.Key().String()).Msg("写入失败, 等待重投")
		return messaging.Nak
	default:
		w.rejected.Add(1)
		w.log.Warn().Err(err).Str("kind", string(kind)).Str("key", rec.Key().String()).Msg("记录被拒绝")
		return messaging.Ack
	}
}

// Stats 返回处理计数快照
func (w *Worker) Stats() Stats {
	return Stats{
		Stored:   w.stored.Load(),
		Rejected: w.rejected.Load(),
		Retried:  w.retried.Load(),
		Dropped:  w.dropped.Load(),
	}
}
