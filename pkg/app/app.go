// Package app 按配置装配存储、审计和各业务服务, 供各可执行程序共用.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/blotter"
	"Cornucopia/pkg/catalog"
	"Cornucopia/pkg/config"
	"Cornucopia/pkg/database"
	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/market"
	"Cornucopia/pkg/repository"
)

// App 装配好的服务集合
type App struct {
	Config  *config.Config
	DB      *database.PostgresDB // 内存存储时为 nil
	Catalog *catalog.Catalog
	Market  *market.Store
	Ledger  *ledger.Ledger
	Blotter *blotter.Blotter
	Audit   audit.Sink

	log zerolog.Logger
}

type stores struct {
	catalog catalog.Repository
	market  market.Repository
	trades  ledger.Repository
}

// New 按 cfg.Storage.Driver 打开存储并创建服务. pub 非空时审计事件同时发布到消息总线
func New(ctx context.Context, cfg *config.Config, pub audit.Publisher, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	var st stores
	sinks := audit.Multi{audit.NewLogSink(log)}
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		repo := repository.NewRepository(cfg.Ingest.LockWait)
		st = stores{catalog: repo, market: repo, trades: repo}
		log.Warn().Msg("使用内存存储, 进程退出后数据丢失")
	default:
		db, err := database.NewPostgresDB(cfg.Database.Postgres, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.DB = db
		st = stores{catalog: db.Stock(), market: db.Quote(), trades: db.Trade(cfg.Ingest.LockWait)}
		sinks = append(sinks, audit.NewDBSink(db.Gorm(), log))
	}
	if pub != nil {
		sinks = append(sinks, audit.NewNATSSink(pub, log))
	}
	a.Audit = sinks

	a.Catalog = catalog.New(st.catalog, keylock.New(cfg.Ingest.LockWait), a.Audit, log)
	a.Market = market.NewStore(st.market, a.Catalog, keylock.New(cfg.Ingest.LockWait), a.Audit, log,
		market.WithLocation(cfg.Location()))
	a.Ledger = ledger.New(st.trades, a.Market, a.Audit, ledger.Config{
		Policy:    ledger.Policy{AllowShort: cfg.Ledger.AllowShort},
		Staleness: cfg.Ledger.ValueStaleness,
	}, log)
	a.Blotter = blotter.New(st.trades, a.Catalog, a.Ledger, a.Audit, cfg.Ledger.PageSize, log,
		blotter.WithLocation(cfg.Location()))

	log.Info().Str("storage", cfg.Storage.Driver).Bool("allow_short", cfg.Ledger.AllowShort).Msg("服务装配完成")
	return a, nil
}

// Ready 存储可用性检查
func (a *App) Ready(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("数据库不可用: %w", err)
	}
	return nil
}

// Close 释放存储连接
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
