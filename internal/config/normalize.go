package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	if err := c.normalizeRubric(); err != nil {
		return err
	}
	c.normalizeClassifier()
	c.normalizeArchive()
	c.normalizeBus()
	c.normalizeWatcher()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ArtifactPath, err = expandPath(c.Paths.ArtifactPath); err != nil {
		return fmt.Errorf("paths.artifact_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv(envAPIToken); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if c.Store.Driver == "postgresql" || c.Store.Driver == "pgx" {
		c.Store.Driver = "postgres"
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv(envDatabaseURL); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeRubric() error {
	c.Rubric.Mode = strings.ToLower(strings.TrimSpace(c.Rubric.Mode))
	if c.Rubric.Mode == "" {
		c.Rubric.Mode = defaultRubricMode
	}
	c.Rubric.BaseURL = strings.TrimRight(strings.TrimSpace(c.Rubric.BaseURL), "/")
	if c.Rubric.APIKey == "" {
		if value, ok := os.LookupEnv(envRubricAPIKey); ok {
			c.Rubric.APIKey = strings.TrimSpace(value)
		}
	}
	c.Rubric.Model = strings.TrimSpace(c.Rubric.Model)
	if c.Rubric.ScoresPath != "" {
		expanded, err := expandPath(c.Rubric.ScoresPath)
		if err != nil {
			return fmt.Errorf("rubric.scores_path: %w", err)
		}
		c.Rubric.ScoresPath = expanded
	}
	return nil
}

func (c *Config) normalizeClassifier() {
	c.Classifier.TiePolicy = strings.ToLower(strings.TrimSpace(c.Classifier.TiePolicy))
	if c.Classifier.TiePolicy == "" {
		c.Classifier.TiePolicy = defaultTiePolicy
	}
}

func (c *Config) normalizeArchive() {
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	if c.Archive.AccessKey == "" {
		if value, ok := os.LookupEnv(envArchiveAccessKey); ok {
			c.Archive.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Archive.SecretKey == "" {
		if value, ok := os.LookupEnv(envArchiveSecretKey); ok {
			c.Archive.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeBus() {
	c.Bus.Channel = strings.TrimSpace(c.Bus.Channel)
	if c.Bus.Channel == "" {
		c.Bus.Channel = defaultBusChannel
	}
}

func (c *Config) normalizeWatcher() {
	c.Watcher.MarkerFile = strings.TrimSpace(c.Watcher.MarkerFile)
	if c.Watcher.MarkerFile == "" {
		c.Watcher.MarkerFile = defaultWatcherMarker
	}
	if c.Watcher.DebounceMillis <= 0 {
		c.Watcher.DebounceMillis = defaultWatcherDebounceMillis
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
