package database

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"Cornucopia/pkg/model"
)

func TestLockTimeoutSQL(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want string
	}{
		{500 * time.Microsecond, "SET LOCAL lock_timeout = '1ms'"},
		{time.Nanosecond, "SET LOCAL lock_timeout = '1ms'"},
		{1500 * time.Microsecond, "SET LOCAL lock_timeout = '2ms'"},
		{2 * time.Second, "SET LOCAL lock_timeout = '2000ms'"},
	}
	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, lockTimeoutSQL(tt.wait))
		})
	}
}

// statementLog 记录 DryRun 模式下生成的 SQL
type statementLog struct {
	mu   sync.Mutex
	sqls []string
}

func (l *statementLog) record(db *gorm.DB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sqls = append(l.sqls, db.Statement.SQL.String())
}

func (l *statementLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sqls...)
}

// newDryRunDB 只生成 SQL 不连接数据库
func newDryRunDB(t *testing.T) (*PostgresDB, *statementLog) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=cornucopia dbname=cornucopia sslmode=disable"}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	log := &statementLog{}
	cb := db.Callback()
	require.NoError(t, cb.Create().After("gorm:create").Register("test:record", log.record))
	require.NoError(t, cb.Query().After("gorm:query").Register("test:record", log.record))
	require.NoError(t, cb.Row().After("gorm:row").Register("test:record", log.record))
	require.NoError(t, cb.Update().After("gorm:update").Register("test:record", log.record))
	return &PostgresDB{db: db, log: zerolog.Nop()}, log
}

func TestQuoteDB_UpsertStatements(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		write    func(q *QuoteDB) error
		conflict string
		updates  []string
	}{
		{
			name: "日线",
			write: func(q *QuoteDB) error {
				return q.UpsertDaily(ctx, &model.DailyQuote{StockID: "600000.SH", TradeDate: day, Close: decimal.RequireFromString("10.5")})
			},
			conflict: `ON CONFLICT ("stockid","trade_date") DO UPDATE SET`,
			updates:  []string{`"close"="excluded"."close"`, `"turnover_rate"="excluded"."turnover_rate"`, `"updated_at"="excluded"."updated_at"`},
		},
		{
			name: "估值",
			write: func(q *QuoteDB) error {
				return q.UpsertValuation(ctx, &model.ValuationSnapshot{StockID: "600000.SH", AsOf: day})
			},
			conflict: `ON CONFLICT ("stockid","as_of") DO UPDATE SET`,
			updates:  []string{`"pe_ttm"="excluded"."pe_ttm"`, `"total_mv"="excluded"."total_mv"`},
		},
		{
			name: "财务",
			write: func(q *QuoteDB) error {
				return q.UpsertFinance(ctx, &model.FinanceSnapshot{StockID: "600000.SH", AsOf: day})
			},
			conflict: `ON CONFLICT ("stockid","as_of") DO UPDATE SET`,
			updates:  []string{`"roe"="excluded"."roe"`, `"bps"="excluded"."bps"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, log := newDryRunDB(t)
			require.NoError(t, tt.write(p.Quote()))

			sqls := log.all()
			require.Len(t, sqls, 1)
			assert.True(t, strings.HasPrefix(sqls[0], "INSERT INTO"))
			assert.Contains(t, sqls[0], tt.conflict)
			for _, u := range tt.updates {
				assert.Contains(t, sqls[0], u)
			}
			// 主键和创建时间不能被覆盖
			assert.NotContains(t, sqls[0], `"id"="excluded"."id"`)
			assert.NotContains(t, sqls[0], `"created_at"="excluded"."created_at"`)
		})
	}
}

func TestQuoteDB_AppendStatements(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)

	p, log := newDryRunDB(t)
	q := p.Quote()
	_, err := q.AppendRealtime(ctx, &model.RealtimeQuote{StockID: "600000.SH", CapturedAt: at, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = q.AppendIntraday(ctx, &model.IntradayTick{StockID: "600000.SH", TradeDate: model.DateOf(at), Bucket: at, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)

	sqls := log.all()
	require.Len(t, sqls, 2)
	assert.Contains(t, sqls[0], `INSERT INTO "realtime_quote"`)
	assert.Contains(t, sqls[1], `INSERT INTO "intraday_tick"`)
	for _, sql := range sqls {
		assert.Contains(t, sql, "ON CONFLICT DO NOTHING")
		assert.NotContains(t, sql, "DO UPDATE")
	}
}

func TestGormTx_HoldingLocksRow(t *testing.T) {
	p, log := newDryRunDB(t)
	tx := &gormTx{db: p.db, pair: model.Pair{UserID: "u1", StockID: "600000.SH"}}

	_, err := tx.Holding(context.Background())
	require.NoError(t, err)

	sqls := log.all()
	require.Len(t, sqls, 2)
	// 先插入占位行, 保证首笔交易也有行可锁
	assert.Contains(t, sqls[0], `INSERT INTO "holding"`)
	assert.Contains(t, sqls[0], "ON CONFLICT DO NOTHING")
	assert.True(t, strings.HasPrefix(sqls[1], `SELECT * FROM "holding"`))
	assert.Contains(t, sqls[1], "userid = $1 AND stockid = $2")
	assert.True(t, strings.HasSuffix(sqls[1], "FOR UPDATE"))
}

func TestTradeDB_ListPairsStatement(t *testing.T) {
	p, log := newDryRunDB(t)

	// DryRun 下 Scan 拿不到结果集, 只检查生成的 SQL
	_, _ = p.Trade(0).ListPairs(context.Background())

	sqls := log.all()
	require.NotEmpty(t, sqls)
	assert.True(t, strings.HasPrefix(sqls[0], `SELECT DISTINCT userid AS user_id, stockid AS stock_id FROM "trade_operation"`))
	assert.Contains(t, sqls[0], "ORDER BY user_id ASC, stock_id ASC")
}

func TestTradeDB_UpdateMarketValueStatement(t *testing.T) {
	p, log := newDryRunDB(t)
	pair := model.Pair{UserID: "u1", StockID: "600000.SH"}

	// DryRun 不执行, RowsAffected 为 0
	err := p.Trade(0).UpdateMarketValue(context.Background(), pair, decimal.RequireFromString("4.115"), time.Now())
	assert.ErrorIs(t, err, model.ErrNotFound)

	sqls := log.all()
	require.Len(t, sqls, 1)
	assert.True(t, strings.HasPrefix(sqls[0], `UPDATE "holding" SET`))
	assert.Contains(t, sqls[0], `"market_value"=`)
	assert.Contains(t, sqls[0], "userid = ")
}
