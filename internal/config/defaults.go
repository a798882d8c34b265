package config

const (
	defaultDataDir               = "~/.local/share/triage/uploads"
	defaultStateDir              = "~/.local/share/triage/state"
	defaultLogDir                = "~/.local/share/triage/logs"
	defaultArtifactPath          = "~/.config/triage/model.yaml"
	defaultAPIBind               = "127.0.0.1:7590"
	defaultStoreDriver           = "sqlite"
	defaultStoreMaxOpenConns     = 10
	defaultStoreMaxIdleConns     = 5
	defaultStoreConnMaxLifetime  = 1800
	defaultStorePingTimeout      = 2
	defaultWorkers               = 2
	defaultRunPollInterval       = 5
	defaultHeartbeatInterval     = 30
	defaultHeartbeatTimeout      = 600
	defaultSweepSchedule         = "*/2 * * * *"
	defaultRubricMode            = "http"
	defaultRubricBaseURL         = "http://127.0.0.1:8088/v1"
	defaultRubricModel           = "rubric-v2"
	defaultRubricTimeoutSeconds  = 30
	defaultRubricRetryAttempts   = 5
	defaultRubricInitialPoll     = 30
	defaultRubricMaxPoll         = 600
	defaultRubricBackoffFactor   = 2.0
	defaultRubricMaxWaitHours    = 36
	defaultRubricMaxPollErrors   = 3
	defaultDriftAlpha            = 0.05
	defaultDriftCeiling          = 0.20
	defaultTiePolicy             = "lower"
	defaultArchiveBucket         = "triage-results"
	defaultArchivePrefix         = "snapshots"
	defaultBusChannel            = "triage_results"
	defaultWatcherMarker         = "APPROVED"
	defaultWatcherDebounceMillis = 500
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	envRubricAPIKey              = "TRIAGE_RUBRIC_API_KEY"
	envDatabaseURL               = "TRIAGE_DATABASE_URL"
	envArchiveAccessKey          = "TRIAGE_ARCHIVE_ACCESS_KEY"
	envArchiveSecretKey          = "TRIAGE_ARCHIVE_SECRET_KEY"
	envAPIToken                  = "TRIAGE_API_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			ArtifactPath: defaultArtifactPath,
			APIBind:      defaultAPIBind,
		},
		Store: Store{
			Driver:                 defaultStoreDriver,
			MaxOpenConns:           defaultStoreMaxOpenConns,
			MaxIdleConns:           defaultStoreMaxIdleConns,
			ConnMaxLifetimeSeconds: defaultStoreConnMaxLifetime,
			PingTimeoutSeconds:     defaultStorePingTimeout,
		},
		Workflow: Workflow{
			Workers:           defaultWorkers,
			RunPollInterval:   defaultRunPollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			SweepSchedule:     defaultSweepSchedule,
		},
		Rubric: Rubric{
			Mode:               defaultRubricMode,
			BaseURL:            defaultRubricBaseURL,
			Model:              defaultRubricModel,
			TimeoutSeconds:     defaultRubricTimeoutSeconds,
			RetryAttempts:      defaultRubricRetryAttempts,
			InitialPollSeconds: defaultRubricInitialPoll,
			MaxPollSeconds:     defaultRubricMaxPoll,
			PollBackoffFactor:  defaultRubricBackoffFactor,
			MaxWaitHours:       defaultRubricMaxWaitHours,
			MaxPollErrors:      defaultRubricMaxPollErrors,
		},
		Drift: Drift{
			Alpha:   defaultDriftAlpha,
			Ceiling: defaultDriftCeiling,
		},
		Classifier: Classifier{
			TiePolicy: defaultTiePolicy,
		},
		Archive: Archive{
			Bucket: defaultArchiveBucket,
			Prefix: defaultArchivePrefix,
			UseSSL: true,
		},
		Bus: Bus{
			Channel: defaultBusChannel,
		},
		Watcher: Watcher{
			MarkerFile:     defaultWatcherMarker,
			DebounceMillis: defaultWatcherDebounceMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunStarted:     true,
			RunCompleted:   true,
			RunFailed:      true,
			Drift:          true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			RunLogs:       true,
		},
	}
}
