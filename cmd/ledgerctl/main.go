package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"Cornucopia/pkg/app"
	"Cornucopia/pkg/config"
	"Cornucopia/pkg/logging"
	"Cornucopia/pkg/model"
)

const configPathInfo = "配置文件路径, 默认按 CONFIG_PATH/APP_ENV 查找"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "持仓账本与参考目录运维工具",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", configPathInfo)

	open := func(ctx context.Context) (*app.App, error) {
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		logger := logging.ForService("ledgerctl", cfg.App.Env, cfg.App.LogLevel).Level(zerolog.WarnLevel)
		return app.New(ctx, cfg, nil, logger)
	}

	rootCmd.AddCommand(
		migrateCmd(open),
		rebuildCmd(open),
		statementCmd(open),
		verifyCmd(open),
		reconcileCmd(open),
		registerCmd(open),
		delistCmd(open),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

type opener func(ctx context.Context) (*app.App, error)

// withApp 打开服务并在命令结束后释放
func withApp(open opener, fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, _ []string) error {
		ctx := c.Context()
		a, err := open(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pairFlags(c *cobra.Command, pair *model.Pair) {
	c.Flags().StringVar(&pair.UserID, "user", "", "用户ID (必填)")
	c.Flags().StringVar(&pair.StockID, "stock", "", "证券代码 (必填)")
	c.MarkFlagRequired("user")
	c.MarkFlagRequired("stock")
}

func migrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "建表及索引 (app.New 打开数据库时自动执行)",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			if a.DB == nil {
				return fmt.Errorf("当前存储驱动为 %s, 无需迁移", a.Config.Storage.Driver)
			}
			fmt.Println("迁移完成")
			return nil
		}),
	}
}

func rebuildCmd(open opener) *cobra.Command {
	var pair model.Pair
	c := &cobra.Command{
		Use:   "rebuild",
		Short: "按流水重放并覆盖持仓",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			st, err := a.Ledger.Rebuild(ctx, pair)
			if err != nil {
				return err
			}
			return printJSON(st)
		}),
	}
	pairFlags(c, &pair)
	return c
}

func statementCmd(open opener) *cobra.Command {
	var pair model.Pair
	c := &cobra.Command{
		Use:   "statement",
		Short: "只读重放流水, 输出持仓与累计已实现盈亏",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			st, err := a.Ledger.Replay(ctx, pair)
			if err != nil {
				return err
			}
			return printJSON(st)
		}),
	}
	pairFlags(c, &pair)
	return c
}

func verifyCmd(open opener) *cobra.Command {
	var pair model.Pair
	c := &cobra.Command{
		Use:   "verify",
		Short: "重放校验持仓, 不指定 --user/--stock 时校验全部",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			if pair.UserID == "" && pair.StockID == "" {
				report, err := a.Ledger.VerifyAll(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if len(report.Diverged) > 0 {
					return fmt.Errorf("%d 个持仓不一致: %w", len(report.Diverged), model.ErrLedgerDiverged)
				}
				return nil
			}
			if pair.UserID == "" || pair.StockID == "" {
				return fmt.Errorf("--user 与 --stock 需同时指定")
			}
			if err := a.Ledger.Verify(ctx, pair); err != nil {
				return err
			}
			fmt.Printf("%s 一致\n", pair)
			return nil
		}),
	}
	c.Flags().StringVar(&pair.UserID, "user", "", "用户ID")
	c.Flags().StringVar(&pair.StockID, "stock", "", "证券代码")
	return c
}

func reconcileCmd(open opener) *cobra.Command {
	var pair model.Pair
	c := &cobra.Command{
		Use:   "reconcile",
		Short: "人工对账: 重建持仓并解除冻结",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			st, err := a.Ledger.Reconcile(ctx, pair)
			if err != nil {
				return err
			}
			return printJSON(st)
		}),
	}
	pairFlags(c, &pair)
	return c
}

func registerCmd(open opener) *cobra.Command {
	var sec model.Security
	var listing string
	c := &cobra.Command{
		Use:   "register",
		Short: "登记证券",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			d, err := model.ParseDate(listing)
			if err != nil {
				return fmt.Errorf("无效的上市日期 %s: %w", listing, err)
			}
			sec.ListingDate = d
			if err := a.Catalog.Register(ctx, &sec); err != nil {
				return err
			}
			return printJSON(&sec)
		}),
	}
	c.Flags().StringVar(&sec.StockID, "stock", "", "证券代码, 如 600000.SH (必填)")
	c.Flags().StringVar(&sec.Name, "name", "", "证券名称 (必填)")
	c.Flags().StringVar(&sec.Location, "location", "", "上市地点, 如 SH")
	c.Flags().StringVar(&sec.Symbol, "symbol", "", "交易代码")
	c.Flags().StringVar(&sec.Industry, "industry", "", "行业")
	c.Flags().StringVar(&listing, "listing", "", "上市日期 YYYY-MM-DD (必填)")
	c.MarkFlagRequired("stock")
	c.MarkFlagRequired("name")
	c.MarkFlagRequired("listing")
	return c
}

func delistCmd(open opener) *cobra.Command {
	var stockID, date string
	c := &cobra.Command{
		Use:   "delist",
		Short: "登记退市日期",
		RunE: withApp(open, func(ctx context.Context, a *app.App) error {
			d, err := model.ParseDate(date)
			if err != nil {
				return fmt.Errorf("无效的退市日期 %s: %w", date, err)
			}
			if err := a.Catalog.Delist(ctx, stockID, d); err != nil {
				return err
			}
			fmt.Printf("%s 已于 %s 退市\n", stockID, model.FormatDate(d))
			return nil
		}),
	}
	c.Flags().StringVar(&stockID, "stock", "", "证券代码 (必填)")
	c.Flags().StringVar(&date, "date", "", "退市日期 YYYY-MM-DD (必填)")
	c.MarkFlagRequired("stock")
	c.MarkFlagRequired("date")
	return c
}
