package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"      validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"    validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"        validate:"required"`
	Execution   ExecutionConfig   `mapstructure:"execution"   validate:"required"`
	Submission  SubmissionConfig  `mapstructure:"submission"  validate:"required"`
	Polling     PollingConfig     `mapstructure:"polling"     validate:"required"`
	Consistency ConsistencyConfig `mapstructure:"consistency" validate:"required"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"    validate:"required"`
}

// ServerConfig contains all HTTP control-plane settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all task-store connection settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"required,gte=1,lte=100"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"required,gte=1,lte=100"`
}

// AuthConfig contains operator authentication settings for the control plane.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// ExecutionConfig contains settings for the remote execution service client.
// Submissions can be long-running, so the response timeout is allowed to be
// much larger than the connect timeout.
type ExecutionConfig struct {
	BaseURL                string `mapstructure:"base_url"                 validate:"required,url"`
	ConnectTimeoutSeconds  int    `mapstructure:"connect_timeout_seconds"  validate:"required,gte=1,lte=120"`
	ResponseTimeoutSeconds int    `mapstructure:"response_timeout_seconds" validate:"required,gte=1,lte=600"`
}

// SubmissionConfig drives the pending-task submission loop.
type SubmissionConfig struct {
	IntervalSeconds          int `mapstructure:"interval_seconds"           validate:"required,gte=1"`
	BatchSize                int `mapstructure:"batch_size"                 validate:"required,gte=1,lte=500"`
	MaxRetries               int `mapstructure:"max_retries"                validate:"required,gte=1,lte=10"`
	RecoveryFailureThreshold int `mapstructure:"recovery_failure_threshold" validate:"required,gte=1,lte=10"`
}

// PollingConfig drives the in-flight outcome polling loop.
type PollingConfig struct {
	IntervalSeconds          int `mapstructure:"interval_seconds"           validate:"required,gte=1"`
	BatchSize                int `mapstructure:"batch_size"                 validate:"required,gte=1,lte=500"`
	StalenessMinutes         int `mapstructure:"staleness_minutes"          validate:"required,gte=1"`
	RecoveryFailureThreshold int `mapstructure:"recovery_failure_threshold" validate:"required,gte=1,lte=10"`
}

// ConsistencyConfig drives the periodic reconciliation sweep. It runs on a
// deliberately slower cadence than the two task loops.
type ConsistencyConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds" validate:"required,gte=30"`
	AutoFix         bool `mapstructure:"auto_fix"`
}

// RecoveryConfig bounds the self-healing engine. The ranges here are
// re-checked when the configuration is changed at runtime through the
// control plane.
type RecoveryConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent"     validate:"required,gte=1,lte=10"`
	TimeoutMs        int `mapstructure:"timeout_ms"         validate:"required,gte=30000,lte=600000"`
	MaxRetryAttempts int `mapstructure:"max_retry_attempts" validate:"required,gte=1,lte=10"`
	HistorySize      int `mapstructure:"history_size"       validate:"required,gte=10,lte=1000"`
}
