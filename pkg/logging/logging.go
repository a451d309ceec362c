// Package logging 构建 zerolog 日志器
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config 日志配置
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // 控制台彩色输出, 开发环境使用
}

// New 创建日志器并设为全局日志器
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ForService 为某个可执行程序创建日志器
func ForService(service, env, level string) zerolog.Logger {
	return New(Config{Level: level, Pretty: env == "dev"}).
		With().Str("service", service).Logger()
}
