package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"resume-screener/internal/extractor"
	"resume-screener/internal/notifier"
	"resume-screener/internal/pipeline"
	"resume-screener/internal/scheduler"
	"resume-screener/internal/screening"
	"resume-screener/internal/storage"
	"resume-screener/internal/subscription"
)

const (
	app       = "screener"
	envPrefix = "SCREENER"
)

// AppConfig 应用配置。
type AppConfig struct {
	Server       ServerConfig        `mapstructure:"server"`
	Database     storage.Config      `mapstructure:"database"`
	Catalog      string              `mapstructure:"catalog"`
	Stopwords    string              `mapstructure:"stopwords"`
	Scoring      ScoringConfig       `mapstructure:"scoring"`
	Extractor    extractor.Config    `mapstructure:"extractor"`
	Pipeline     pipeline.Config     `mapstructure:"pipeline"`
	Screening    screening.Config    `mapstructure:"screening"`
	Scheduler    scheduler.Config    `mapstructure:"scheduler"`
	Mail         MailConfig          `mapstructure:"mail"`
	Subscription subscription.Config `mapstructure:"subscription"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ScoringConfig struct {
	DefaultPolicy    string        `mapstructure:"default_policy"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	MaxFeatures      int           `mapstructure:"max_features"`
}

// MailConfig 选择投递方式：log 只写日志，smtp 直接发送，amqp 写入队列由 relay 命令发送。
type MailConfig struct {
	Transport                 string               `mapstructure:"transport"`
	SMTP                      notifier.EmailConfig `mapstructure:"smtp"`
	AMQP                      notifier.AMQPConfig  `mapstructure:"amqp"`
	notifier.DispatcherConfig `mapstructure:",squash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "jobs.db")
	v.SetDefault("catalog", "")
	v.SetDefault("stopwords", "")
	v.SetDefault("scoring.default_policy", "standard")
	v.SetDefault("scoring.inference_timeout", "2s")
	v.SetDefault("scoring.max_features", 5000)
	v.SetDefault("extractor.timeout", "30s")
	v.SetDefault("extractor.pdf_license_key", "")
	v.SetDefault("pipeline.max_video_bytes", 20<<20)
	v.SetDefault("pipeline.logical_mean_threshold", 70)
	v.SetDefault("pipeline.global_stage_fallback", true)
	v.SetDefault("pipeline.invitation_validity", "360h")
	v.SetDefault("screening.batch_size", 100)
	v.SetDefault("scheduler.screen", "10m")
	v.SetDefault("scheduler.retrain", "1h")
	v.SetDefault("scheduler.summary_daily", "0 8 * * *")
	v.SetDefault("scheduler.summary_weekly", "0 8 * * 1")
	v.SetDefault("scheduler.summary_monthly", "0 8 1 * *")
	v.SetDefault("scheduler.timeout", "30s")
	v.SetDefault("mail.transport", "log")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.subject_prefix", "")
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.amqp.url", "")
	v.SetDefault("mail.amqp.queue", "screener_mail")
	v.SetDefault("mail.amqp.publish_timeout", "5s")
	v.SetDefault("subscription.allowed_channels", []string{"email"})
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig 读取配置文件与 SCREENER_ 环境变量。path 为空时在当前目录查找 screener.yaml，找不到则只用默认值。
func loadConfig(v *viper.Viper, path string) (AppConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(app)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
