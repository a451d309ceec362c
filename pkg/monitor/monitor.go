// Package monitor 定期探测依赖组件 (数据库、消息总线) 的健康状态.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// 组件状态
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc 组件探测函数, 返回 nil 表示健康
type CheckFunc func(ctx context.Context) error

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

type component struct {
	check  CheckFunc
	status HealthStatus
}

// Snapshot 组件状态与运行统计
type Snapshot struct {
	Components []*HealthStatus        `json:"components"`
	Stats      map[string]interface{} `json:"stats,omitempty"`
}

// Monitor 监控系统
type Monitor struct {
	components map[string]*component
	stats      map[string]func() interface{}
	mutex      sync.RWMutex
	timeout    time.Duration
	log        zerolog.Logger
}

// NewMonitor 创建新的监控系统, timeout 为单次探测超时
func NewMonitor(timeout time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		components: make(map[string]*component),
		stats:      make(map[string]func() interface{}),
		timeout:    timeout,
		log:        log.With().Str("component", "monitor").Logger(),
	}
}

// RegisterComponent 注册组件
func (m *Monitor) RegisterComponent(name string, check CheckFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.components[name] = &component{
		check:  check,
		status: HealthStatus{Component: name, Status: StatusUnknown, LastChecked: time.Now()},
	}
}

// RegisterStats 注册运行统计来源, 例如消息总线收发计数
func (m *Monitor) RegisterStats(name string, fn func() interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats[name] = fn
}

// Snapshot 返回组件状态及各统计来源的当前值
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{Components: m.GetAllStatus()}

	m.mutex.RLock()
	fns := make(map[string]func() interface{}, len(m.stats))
	for name, fn := range m.stats {
		fns[name] = fn
	}
	m.mutex.RUnlock()

	if len(fns) > 0 {
		snap.Stats = make(map[string]interface{}, len(fns))
		for name, fn := range fns {
			snap.Stats[name] = fn()
		}
	}
	return snap
}

// CheckAll 探测所有组件
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mutex.RLock()
	checks := make(map[string]CheckFunc, len(m.components))
	for name, c := range m.components {
		checks[name] = c.check
	}
	m.mutex.RUnlock()

	for name, check := range checks {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := check(pctx)
		cancel()
		m.update(name, err)
	}
}

func (m *Monitor) update(name string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.components[name]
	if !ok {
		return
	}
	old := c.status.Status
	c.status.LastChecked = time.Now()
	c.status.Status = StatusHealthy
	c.status.Message = ""
	if err != nil {
		c.status.Status = StatusUnhealthy
		c.status.Message = err.Error()
	}

	if old == c.status.Status {
		return
	}
	if err != nil {
		m.log.Error().Err(err).Str("target", name).Str("from", old).Msg("组件状态变为不健康")
	} else {
		m.log.Info().Str("target", name).Str("from", old).Msg("组件恢复健康")
	}
}

// GetStatus 获取组件状态
func (m *Monitor) GetStatus(name string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if c, exists := m.components[name]; exists {
		s := c.status
		return &s
	}
	return nil
}

// GetAllStatus 获取所有组件状态, 按名称排序
func (m *Monitor) GetAllStatus() []*HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]*HealthStatus, 0, len(m.components))
	for _, c := range m.components {
		s := c.status
		statuses = append(statuses, &s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Component < statuses[j].Component })
	return statuses
}

// Healthy 所有组件最近一次探测均健康; 尚未探测的组件视为不健康
func (m *Monitor) Healthy() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, c := range m.components {
		if c.status.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// StartChecking 立即探测一次, 之后每 interval 探测, ctx 取消后停止
func (m *Monitor) StartChecking(ctx context.Context, interval time.Duration) {
	m.CheckAll(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}
