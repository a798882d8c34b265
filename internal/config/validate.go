package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRubric(); err != nil {
		return err
	}
	if err := c.validateDrift(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver is postgres (or set %s)", envDatabaseURL)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.MaxOpenConns < 1 {
		return errors.New("store.max_open_conns must be >= 1")
	}
	if c.Store.MaxIdleConns < 0 || c.Store.MaxIdleConns > c.Store.MaxOpenConns {
		return errors.New("store.max_idle_conns must be between 0 and store.max_open_conns")
	}
	if c.Store.PingTimeoutSeconds <= 0 {
		return errors.New("store.ping_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":            c.Workflow.Workers,
		"workflow.run_poll_interval":  c.Workflow.RunPollInterval,
		"workflow.heartbeat_interval": c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":  c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Workflow.SweepSchedule); err != nil {
		return fmt.Errorf("workflow.sweep_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateRubric() error {
	switch c.Rubric.Mode {
	case "http":
		if c.Rubric.BaseURL == "" {
			return errors.New("rubric.base_url must be set when rubric.mode is http")
		}
	case "file":
		if c.Rubric.ScoresPath == "" {
			return errors.New("rubric.scores_path must be set when rubric.mode is file")
		}
	case "disabled":
		return nil
	default:
		return fmt.Errorf("rubric.mode: unsupported value %q (expected http, file or disabled)", c.Rubric.Mode)
	}
	if err := ensurePositiveMap(map[string]int{
		"rubric.timeout_seconds":      c.Rubric.TimeoutSeconds,
		"rubric.retry_attempts":       c.Rubric.RetryAttempts,
		"rubric.initial_poll_seconds": c.Rubric.InitialPollSeconds,
		"rubric.max_poll_seconds":     c.Rubric.MaxPollSeconds,
		"rubric.max_wait_hours":       c.Rubric.MaxWaitHours,
		"rubric.max_poll_errors":      c.Rubric.MaxPollErrors,
	}); err != nil {
		return err
	}
	if c.Rubric.MaxPollSeconds < c.Rubric.InitialPollSeconds {
		return errors.New("rubric.max_poll_seconds must be >= rubric.initial_poll_seconds")
	}
	if c.Rubric.PollBackoffFactor < 1 {
		return errors.New("rubric.poll_backoff_factor must be >= 1")
	}
	return nil
}

func (c *Config) validateDrift() error {
	if c.Drift.Alpha <= 0 || c.Drift.Alpha >= 1 {
		return errors.New("drift.alpha must be between 0 and 1 (exclusive)")
	}
	if c.Drift.Ceiling < 0 || c.Drift.Ceiling > 1 {
		return errors.New("drift.ceiling must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	switch c.Classifier.TiePolicy {
	case "lower", "upper":
	default:
		return fmt.Errorf("classifier.tie_policy: unsupported value %q (expected lower or upper)", c.Classifier.TiePolicy)
	}
	if len(c.Classifier.CutPoints) == 0 {
		return nil
	}
	if len(c.Classifier.CutPoints) != 3 {
		return fmt.Errorf("classifier.cut_points must contain exactly 3 values, got %d", len(c.Classifier.CutPoints))
	}
	for i := 1; i < len(c.Classifier.CutPoints); i++ {
		if c.Classifier.CutPoints[i] <= c.Classifier.CutPoints[i-1] {
			return errors.New("classifier.cut_points must be strictly ascending")
		}
	}
	return nil
}

func (c *Config) validateArchive() error {
	if !c.Archive.Enabled {
		return nil
	}
	if c.Archive.Endpoint == "" {
		return errors.New("archive.endpoint must be set when archive.enabled is true")
	}
	if c.Archive.Bucket == "" {
		return errors.New("archive.bucket must be set when archive.enabled is true")
	}
	if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
		return fmt.Errorf("archive credentials must be set when archive.enabled is true (or set %s and %s)", envArchiveAccessKey, envArchiveSecretKey)
	}
	return nil
}

func (c *Config) validateBus() error {
	if !c.Bus.Enabled {
		return nil
	}
	if c.Store.DSN == "" {
		return errors.New("bus.enabled requires a postgres store.dsn")
	}
	for _, r := range c.Bus.Channel {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("bus.channel %q must contain only lowercase letters, digits and underscores", c.Bus.Channel)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		return nil
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
