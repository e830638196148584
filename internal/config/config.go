package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/fsds-cli/internal/fsds"
)

// Config holds the full application configuration.
type Config struct {
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Trigger   TriggerConfig   `yaml:"trigger" mapstructure:"trigger"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// FetchConfig configures archive downloads from the SEC.
type FetchConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	MinInterval time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StorageConfig configures the S3-compatible object store.
type StorageConfig struct {
	Bucket             string `yaml:"bucket" mapstructure:"bucket"`
	Prefix             string `yaml:"prefix" mapstructure:"prefix"`
	Region             string `yaml:"region" mapstructure:"region"`
	Endpoint           string `yaml:"endpoint" mapstructure:"endpoint"`
	ForcePathStyle     bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	AccessKeyID        string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey    string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	MultipartThreshold int64  `yaml:"multipart_threshold" mapstructure:"multipart_threshold"`
	Concurrency        int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts        int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// WarehouseConfig configures the Postgres warehouse and its bulk-load format.
type WarehouseConfig struct {
	DatabaseURL        string            `yaml:"database_url" mapstructure:"database_url"`
	Schema             string            `yaml:"schema" mapstructure:"schema"`
	Stage              string            `yaml:"stage" mapstructure:"stage"`
	Tables             map[string]string `yaml:"tables" mapstructure:"tables"`
	MaxConns           int32             `yaml:"max_conns" mapstructure:"max_conns"`
	TruncateBeforeLoad bool              `yaml:"truncate_before_load" mapstructure:"truncate_before_load"`
	Format             FileFormatConfig  `yaml:"format" mapstructure:"format"`
}

// FileFormatConfig describes how staged files are parsed during COPY.
type FileFormatConfig struct {
	Delimiter   string   `yaml:"delimiter" mapstructure:"delimiter"`
	SkipHeader  int      `yaml:"skip_header" mapstructure:"skip_header"`
	QuoteChar   string   `yaml:"quote_char" mapstructure:"quote_char"`
	NullIf      []string `yaml:"null_if" mapstructure:"null_if"`
	EmptyAsNull bool     `yaml:"empty_as_null" mapstructure:"empty_as_null"`
	OnError     string   `yaml:"on_error" mapstructure:"on_error"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	TempDir            string `yaml:"temp_dir" mapstructure:"temp_dir"`
	PublishJSON        bool   `yaml:"publish_json" mapstructure:"publish_json"`
	TranscodeChunkRows int    `yaml:"transcode_chunk_rows" mapstructure:"transcode_chunk_rows"`
	TriggerOnDegraded  bool   `yaml:"trigger_on_degraded" mapstructure:"trigger_on_degraded"`
	RecordRuns         bool   `yaml:"record_runs" mapstructure:"record_runs"`
}

// TriggerConfig configures the downstream notification fired after a load.
type TriggerConfig struct {
	Kind       string         `yaml:"kind" mapstructure:"kind"`
	WebhookURL string         `yaml:"webhook_url" mapstructure:"webhook_url"`
	Temporal   TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
}

// TemporalConfig configures the Temporal workflow trigger.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
	Workflow  string `yaml:"workflow" mapstructure:"workflow"`
}

// ServerConfig configures the query pass-through server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	MaxRows      int      `yaml:"max_rows" mapstructure:"max_rows"`
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TableFor returns the configured table for a member, falling back to its default.
func (w WarehouseConfig) TableFor(m fsds.Member) string {
	if t, ok := w.Tables[m.Name()]; ok && t != "" {
		return t
	}
	return m.DefaultTable()
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FSDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("fetch.base_url", "https://www.sec.gov/files/dera/data/financial-statement-data-sets")
	v.SetDefault("fetch.user_agent", "Sells Advisors blake@sellsadvisors.com")
	v.SetDefault("fetch.min_interval", "100ms")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.timeout", "0s")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", fsds.DefaultKeyPrefix)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.multipart_threshold", 8*1024*1024)
	v.SetDefault("storage.concurrency", 8)
	v.SetDefault("storage.max_attempts", 3)
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("warehouse.schema", "raw_staging")
	v.SetDefault("warehouse.stage", "sec_stage")
	v.SetDefault("warehouse.max_conns", 4)
	v.SetDefault("warehouse.truncate_before_load", false)
	v.SetDefault("warehouse.format.delimiter", "\t")
	v.SetDefault("warehouse.format.skip_header", 1)
	v.SetDefault("warehouse.format.quote_char", "")
	v.SetDefault("warehouse.format.null_if", []string{})
	v.SetDefault("warehouse.format.empty_as_null", true)
	v.SetDefault("warehouse.format.on_error", "continue")
	v.SetDefault("pipeline.temp_dir", "/tmp/fsds")
	v.SetDefault("pipeline.publish_json", true)
	v.SetDefault("pipeline.transcode_chunk_rows", 1000)
	v.SetDefault("pipeline.trigger_on_degraded", true)
	v.SetDefault("pipeline.record_runs", true)
	v.SetDefault("trigger.kind", "none")
	v.SetDefault("trigger.webhook_url", "")
	v.SetDefault("trigger.temporal.host_port", "localhost:7233")
	v.SetDefault("trigger.temporal.namespace", "default")
	v.SetDefault("trigger.temporal.task_queue", "fsds-transform")
	v.SetDefault("trigger.temporal.workflow", "dbt_transformation_pipeline")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_rows", 10000)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
