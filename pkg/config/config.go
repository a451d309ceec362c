package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	DataSources struct {
		Tushare struct {
			APIKey  string        `yaml:"api_key"`
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"tushare"`
		AKShare struct {
			BaseURL string        `yaml:"base_url"` // 为空时不采集实时行情/分时/财务
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"akshare"`
	} `yaml:"data_sources"`

	Database struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"database"`

	NATS struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
	} `yaml:"nats"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"api"`

	Storage struct {
		Driver string `yaml:"driver"` // postgres | memory
	} `yaml:"storage"`

	Ingest struct {
		Workers  int           `yaml:"workers"`
		LockWait time.Duration `yaml:"lock_wait"`
		Timezone string        `yaml:"timezone"`
	} `yaml:"ingest"`

	Ledger struct {
		AllowShort     bool          `yaml:"allow_short"`
		ValueStaleness time.Duration `yaml:"value_staleness"`
		PageSize       int           `yaml:"page_size"`
	} `yaml:"ledger"`

	Scheduler struct {
		RefreshValues   string `yaml:"refresh_values"`
		VerifyLedger    string `yaml:"verify_ledger"`
		CollectDaily    string `yaml:"collect_daily"`
		CollectRealtime string `yaml:"collect_realtime"`
		CollectIntraday string `yaml:"collect_intraday"`
		CollectFinance  string `yaml:"collect_finance"`
	} `yaml:"scheduler"`
}

// PostgresConfig 数据库连接配置
type PostgresConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	DBName       string        `yaml:"dbname"`
	SSLMode      string        `yaml:"sslmode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

// DSN 生成 postgres 连接串
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 填充默认值并检查必填项
func (c *Config) Validate() error {
	if c.App.Name == "" {
		c.App.Name = "cornucopia"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.DataSources.Tushare.BaseURL == "" {
		c.DataSources.Tushare.BaseURL = "http://api.tushare.pro"
	}
	if c.DataSources.Tushare.Timeout <= 0 {
		c.DataSources.Tushare.Timeout = 30 * time.Second
	}

	if c.DataSources.AKShare.Timeout <= 0 {
		c.DataSources.AKShare.Timeout = 60 * time.Second
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = StoragePostgres
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	pg := &c.Database.Postgres
	if c.Storage.Driver == StoragePostgres {
		if pg.Host == "" || pg.DBName == "" || pg.User == "" {
			return errors.New("数据库配置不完整: 需要 host、dbname、user")
		}
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}
	if pg.MaxOpenConns <= 0 {
		pg.MaxOpenConns = 20
	}
	if pg.MaxIdleConns <= 0 {
		pg.MaxIdleConns = 5
	}
	if pg.ConnMaxLife <= 0 {
		pg.ConnMaxLife = 30 * time.Minute
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = c.App.Name
	}

	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.API.ReadTimeout <= 0 {
		c.API.ReadTimeout = 10 * time.Second
	}
	if c.API.WriteTimeout <= 0 {
		c.API.WriteTimeout = 10 * time.Second
	}

	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.LockWait < 0 {
		return fmt.Errorf("ingest.lock_wait 不能为负: %s", c.Ingest.LockWait)
	}
	if c.Ingest.LockWait == 0 {
		c.Ingest.LockWait = 2 * time.Second
	}
	if c.Ingest.Timezone == "" {
		c.Ingest.Timezone = "Asia/Shanghai"
	}
	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %s: %w", c.Ingest.Timezone, err)
	}

	if c.Ledger.ValueStaleness <= 0 {
		c.Ledger.ValueStaleness = 5 * time.Minute
	}
	if c.Ledger.PageSize <= 0 {
		c.Ledger.PageSize = 500
	}

	if c.Scheduler.RefreshValues == "" {
		c.Scheduler.RefreshValues = "*/5 9-15 * * 1-5"
	}
	if c.Scheduler.VerifyLedger == "" {
		c.Scheduler.VerifyLedger = "30 2 * * *"
	}
	if c.Scheduler.CollectDaily == "" {
		c.Scheduler.CollectDaily = "0 18 * * 1-5"
	}
	if c.Scheduler.CollectRealtime == "" {
		c.Scheduler.CollectRealtime = "* 9-15 * * 1-5"
	}
	if c.Scheduler.CollectIntraday == "" {
		c.Scheduler.CollectIntraday = "10 15 * * 1-5"
	}
	if c.Scheduler.CollectFinance == "" {
		c.Scheduler.CollectFinance = "0 20 * * 6"
	}
	return nil
}

// Location 交易日所在时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		config.App.LogLevel = env
	}

	// Tushare配置
	if env := os.Getenv("TUSHARE_API_KEY"); env != "" {
		config.DataSources.Tushare.APIKey = env
	}
	if env := os.Getenv("TUSHARE_BASE_URL"); env != "" {
		config.DataSources.Tushare.BaseURL = env
	}

	if env := os.Getenv("AKSHARE_BASE_URL"); env != "" {
		config.DataSources.AKShare.BaseURL = env
	}

	// 数据库配置
	pg := &config.Database.Postgres
	if env := os.Getenv("DB_HOST"); env != "" {
		pg.Host = env
	}
	if port := envInt("DB_PORT"); port > 0 {
		pg.Port = port
	}
	if env := os.Getenv("DB_USER"); env != "" {
		pg.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		pg.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		pg.DBName = env
	}
	if n := envInt("DB_POOL_SIZE"); n > 0 {
		pg.MaxOpenConns = n
	}
	if env := os.Getenv("STORAGE_DRIVER"); env != "" {
		config.Storage.Driver = env
	}

	// NATS配置
	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}
	if env := os.Getenv("NATS_CLIENT_ID"); env != "" {
		config.NATS.ClientID = env
	}

	if env := os.Getenv("API_PORT"); env != "" {
		config.API.Port = env
	}

	if env := os.Getenv("LEDGER_ALLOW_SHORT"); env != "" {
		if v, err := strconv.ParseBool(env); err == nil {
			config.Ledger.AllowShort = v
		}
	}
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("configs/%s/app.yaml", env)
}
