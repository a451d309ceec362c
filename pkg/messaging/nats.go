// pkg/messaging/nats.go
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	QuotesStream  = "QUOTES_STREAM"
	QuotesSubject = "quotes.*"
	AuditStream   = "AUDIT_STREAM"
	AuditSubject  = "audit.*"
)

// Disposition 消息处理结果
type Disposition int

const (
	Ack  Disposition = iota // 确认, 不再投递
	Nak                     // 稍后重新投递
	Term                    // 无法处理, 终止投递
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// MessageHandler 通用消息处理函数类型
type MessageHandler func(ctx context.Context, subject string, data []byte) Disposition

// NATSClient NATS JetStream客户端
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	natsURL   string
	nakDelay  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	consumers map[string]jetstream.MessagesContext
	mu        sync.RWMutex
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// NewNATSClient 创建新的NATS客户端
func NewNATSClient(natsURL, clientName string, log zerolog.Logger) (*NATSClient, error) {
	log = log.With().Str("component", "nats").Logger()

	nc, err := nats.Connect(natsURL,
		nats.Name(clientName),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		natsURL:   natsURL,
		nakDelay:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]jetstream.MessagesContext),
		log:       log,
	}

	if err := client.setupStreams(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// setupStreams 设置行情与审计两个 Stream
func (c *NATSClient) setupStreams() error {
	streams := []jetstream.StreamConfig{
		{
			Name:        QuotesStream,
			Subjects:    []string{QuotesSubject},
			Description: "行情与快照记录流",
			Retention:   jetstream.WorkQueuePolicy,
			MaxBytes:    512 * 1024 * 1024,
			MaxAge:      72 * time.Hour,
		},
		{
			Name:        AuditStream,
			Subjects:    []string{AuditSubject},
			Description: "审计事件流",
			Retention:   jetstream.LimitsPolicy,
			MaxMsgs:     1000000,
			MaxAge:      30 * 24 * time.Hour,
		},
	}

	for _, streamConfig := range streams {
		if err := c.CreateStream(streamConfig); err != nil {
			return err
		}
	}
	return nil
}

// Publish 发布消息到指定主题
func (c *NATSClient) Publish(subject string, data interface{}) error {
	var payload []byte
	var err error

	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("序列化数据失败: %w", err)
		}
	}

	if _, err = c.jetStream.Publish(c.ctx, subject, payload); err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", subject, err)
	}

	c.log.Debug().Str("subject", subject).Int("bytes", len(payload)).Msg("消息已发布")
	return nil
}

// Subscribe 以持久化消费者订阅主题, workers 个协程并发处理
func (c *NATSClient) Subscribe(streamName, consumerName, filterSubject string, workers int, handler MessageHandler) error {
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       consumerName,
		Description:   fmt.Sprintf("%s 消费者", consumerName),
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxDeliver:    10,
	}

	consumer, err := c.jetStream.CreateOrUpdateConsumer(c.ctx, streamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", consumerName, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(10 * max(workers, 1)))
	if err != nil {
		return fmt.Errorf("获取 %s 消息迭代器失败: %w", consumerName, err)
	}

	c.mu.Lock()
	c.consumers[consumerName] = iter
	c.mu.Unlock()

	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.consumeMessages(iter, consumerName, handler)
	}

	c.log.Info().Str("subject", filterSubject).Str("stream", streamName).
		Str("consumer", consumerName).Int("workers", workers).Msg("订阅成功")
	return nil
}

// consumeMessages 消费消息的通用逻辑
func (c *NATSClient) consumeMessages(iter jetstream.MessagesContext, consumerName string, handler MessageHandler) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("consumer", consumerName).Msg("消费者异常退出")
		}
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || c.ctx.Err() != nil {
				c.log.Info().Str("consumer", consumerName).Msg("消费者收到停止信号")
				return
			}
			c.log.Warn().Err(err).Str("consumer", consumerName).Msg("获取消息失败")
			time.Sleep(time.Second)
			continue
		}

		switch handler(c.ctx, msg.Subject(), msg.Data()) {
		case Ack:
			err = msg.Ack()
		case Nak:
			err = msg.NakWithDelay(c.nakDelay)
		case Term:
			err = msg.Term()
		}
		if err != nil {
			c.log.Warn().Err(err).Str("consumer", consumerName).Msg("回复消息失败")
		}
	}
}

// CreateStream 创建新的Stream
func (c *NATSClient) CreateStream(config jetstream.StreamConfig) error {
	if _, err := c.jetStream.CreateOrUpdateStream(c.ctx, config); err != nil {
		return fmt.Errorf("创建Stream %s 失败: %w", config.Name, err)
	}
	c.log.Info().Str("stream", config.Name).Msg("Stream 设置成功")
	return nil
}

// Close 停止所有消费者并关闭连接
func (c *NATSClient) Close() error {
	c.log.Info().Msg("正在关闭NATS连接...")
	c.cancel()

	c.mu.Lock()
	for name, iter := range c.consumers {
		iter.Stop()
		c.log.Debug().Str("consumer", name).Msg("消费者已停止")
	}
	c.consumers = make(map[string]jetstream.MessagesContext)
	c.mu.Unlock()

	c.wg.Wait()
	if c.conn != nil {
		c.conn.Close()
	}
	c.log.Info().Msg("NATS连接已关闭")
	return nil
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// GetStats 获取连接统计信息
func (c *NATSClient) GetStats() nats.Statistics {
	if c.conn != nil {
		return c.conn.Stats()
	}
	return nats.Statistics{}
}
