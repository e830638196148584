package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the fields required by a command mode are present.
// Modes: run, check, migrate, status, serve, transcode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.validateFetch()...)
		errs = append(errs, c.validateStorage()...)
		errs = append(errs, c.validateWarehouse()...)
		errs = append(errs, c.validatePipeline()...)
		errs = append(errs, c.validateTrigger()...)
	case "check":
		errs = append(errs, c.validateStorage()...)
		errs = append(errs, c.validateWarehouse()...)
	case "migrate", "status":
		if c.Warehouse.DatabaseURL == "" {
			errs = append(errs, "warehouse.database_url is required")
		}
	case "serve":
		if c.Warehouse.DatabaseURL == "" {
			errs = append(errs, "warehouse.database_url is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.MaxRows < 0 {
			errs = append(errs, "server.max_rows must be >= 0")
		}
	case "transcode":
		if c.Pipeline.TranscodeChunkRows <= 0 {
			errs = append(errs, "pipeline.transcode_chunk_rows must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateFetch() []string {
	var errs []string
	if c.Fetch.BaseURL == "" {
		errs = append(errs, "fetch.base_url is required")
	}
	if c.Fetch.UserAgent == "" {
		errs = append(errs, "fetch.user_agent is required")
	}
	if c.Fetch.MinInterval < 0 {
		errs = append(errs, "fetch.min_interval must be >= 0")
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, "fetch.max_retries must be >= 0")
	}
	return errs
}

func (c *Config) validateStorage() []string {
	var errs []string
	if c.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket is required")
	}
	if c.Storage.Region == "" {
		errs = append(errs, "storage.region is required")
	}
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		errs = append(errs, "storage.access_key_id and storage.secret_access_key must be set together")
	}
	if c.Storage.MultipartThreshold < 5*1024*1024 {
		errs = append(errs, "storage.multipart_threshold must be >= 5MiB")
	}
	if c.Storage.Concurrency < 1 {
		errs = append(errs, "storage.concurrency must be >= 1")
	}
	if c.Storage.MaxAttempts < 1 {
		errs = append(errs, "storage.max_attempts must be >= 1")
	}
	return errs
}

func (c *Config) validateWarehouse() []string {
	var errs []string
	w := c.Warehouse
	if w.DatabaseURL == "" {
		errs = append(errs, "warehouse.database_url is required")
	}
	if w.Schema == "" {
		errs = append(errs, "warehouse.schema is required")
	}
	if w.Stage == "" {
		errs = append(errs, "warehouse.stage is required")
	}
	for name := range w.Tables {
		switch name {
		case "num", "pre", "sub", "tag":
		default:
			errs = append(errs, "warehouse.tables."+name+" is not a known member")
		}
	}
	if len(w.Format.Delimiter) != 1 {
		errs = append(errs, "warehouse.format.delimiter must be a single character")
	}
	if len(w.Format.QuoteChar) > 1 {
		errs = append(errs, "warehouse.format.quote_char must be empty or a single character")
	}
	if w.Format.SkipHeader < 0 {
		errs = append(errs, "warehouse.format.skip_header must be >= 0")
	}
	if w.Format.OnError != "continue" && w.Format.OnError != "abort" {
		errs = append(errs, "warehouse.format.on_error must be continue or abort")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Pipeline.TempDir == "" {
		errs = append(errs, "pipeline.temp_dir is required")
	}
	if c.Pipeline.TranscodeChunkRows <= 0 {
		errs = append(errs, "pipeline.transcode_chunk_rows must be > 0")
	}
	return errs
}

func (c *Config) validateTrigger() []string {
	switch c.Trigger.Kind {
	case "", "none":
		return nil
	case "webhook":
		if c.Trigger.WebhookURL == "" {
			return []string{"trigger.webhook_url is required when trigger.kind is webhook"}
		}
	case "temporal":
		var errs []string
		t := c.Trigger.Temporal
		if t.HostPort == "" {
			errs = append(errs, "trigger.temporal.host_port is required")
		}
		if t.TaskQueue == "" {
			errs = append(errs, "trigger.temporal.task_queue is required")
		}
		if t.Workflow == "" {
			errs = append(errs, "trigger.temporal.workflow is required")
		}
		return errs
	default:
		return []string{"trigger.kind must be none, webhook or temporal"}
	}
	return nil
}
