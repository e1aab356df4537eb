package config

// Config represents the complete configuration for p2prelay
type Config struct {
	// Version of the configuration format
	Version string `json:"version" yaml:"version"`

	// Peer identifies this agent and the remote agent it talks to
	Peer PeerConfig `json:"peer" yaml:"peer"`

	// Safeguard holds the loop-prevention limits
	Safeguard SafeguardConfig `json:"safeguard" yaml:"safeguard"`

	// Dialog configures the issue triage dialog
	Dialog DialogConfig `json:"dialog" yaml:"dialog"`

	// Tracker configures where issues are fetched from
	Tracker TrackerConfig `json:"tracker" yaml:"tracker"`

	// Executor configures the prompt executor
	Executor ExecutorConfig `json:"executor" yaml:"executor"`

	// Storage configures state persistence
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Server configures the HTTP listener
	Server ServerConfig `json:"server" yaml:"server"`

	// Mail configures outbound email
	Mail MailConfig `json:"mail,omitempty" yaml:"mail,omitempty"`

	// Report configures the GitHub report and daily digest
	Report ReportConfig `json:"report,omitempty" yaml:"report,omitempty"`

	// Logging configuration
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// PeerConfig defines the local identity and the remote peer endpoint
type PeerConfig struct {
	// LocalID is the identifier this agent uses as "from" on outbound
	// messages. Inbound messages claiming this id are never answered.
	LocalID string `json:"local_id" yaml:"local_id" validate:"required"`

	// RemoteID is the identifier of the remote agent
	RemoteID string `json:"remote_id" yaml:"remote_id"`

	// RemoteURL is the base URL of the remote agent
	RemoteURL string `json:"remote_url" yaml:"remote_url" validate:"omitempty,url"`

	// Timeout for message delivery to the remote agent
	Timeout Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`

	// HealthTimeout for the liveness probe issued before each send
	HealthTimeout Duration `json:"health_timeout" yaml:"health_timeout" validate:"gt=0"`

	// ExchangeLog is the append-only log of outbound exchanges
	ExchangeLog string `json:"exchange_log,omitempty" yaml:"exchange_log,omitempty"`
}

// SafeguardConfig defines the limits that stop reply loops between peers
type SafeguardConfig struct {
	Cooldown            Duration `json:"cooldown" yaml:"cooldown" validate:"min=0"`
	MaxTurns            int      `json:"max_turns" yaml:"max_turns" validate:"min=1"`
	ConversationTimeout Duration `json:"conversation_timeout" yaml:"conversation_timeout" validate:"gt=0"`
	CleanupHorizon      Duration `json:"cleanup_horizon" yaml:"cleanup_horizon" validate:"gt=0"`

	// DoneSignals are matched case-insensitively as substrings of a
	// response to decide whether it closes its conversation
	DoneSignals []string `json:"done_signals" yaml:"done_signals" validate:"min=1,dive,required"`
}

// DialogConfig defines the issue triage dialog behaviour
type DialogConfig struct {
	// Repo is the default tracker scope (owner/name)
	Repo string `json:"repo" yaml:"repo" validate:"repo_slug"`

	// ShownItems caps how many items are listed per prompt
	ShownItems int `json:"shown_items" yaml:"shown_items" validate:"min=1,max=20"`

	// PromptTimeout bounds the executor call made after confirmation
	PromptTimeout Duration `json:"prompt_timeout" yaml:"prompt_timeout" validate:"gt=0"`

	BodyPreview    int `json:"body_preview" yaml:"body_preview" validate:"min=0"`
	CommentPreview int `json:"comment_preview" yaml:"comment_preview" validate:"min=0"`
	CommentsShown  int `json:"comments_shown" yaml:"comments_shown" validate:"min=1"`

	// BusyThreshold is the comment count above which an item is rated high priority
	BusyThreshold int `json:"busy_threshold" yaml:"busy_threshold" validate:"min=0"`

	Vocabulary VocabularyConfig `json:"vocabulary" yaml:"vocabulary"`
}

// VocabularyConfig is the keyword table used to classify dialog input.
// Terminate and Back match whole words, Comments and Analyze match the
// start of a word; Confirm and Decline must match the whole (trimmed) input.
type VocabularyConfig struct {
	Terminate []string `json:"terminate" yaml:"terminate" validate:"min=1,dive,required"`
	Comments  []string `json:"comments" yaml:"comments" validate:"min=1,dive,required"`
	Analyze   []string `json:"analyze" yaml:"analyze" validate:"min=1,dive,required"`
	Confirm   []string `json:"confirm" yaml:"confirm" validate:"min=1,dive,required"`
	Decline   []string `json:"decline" yaml:"decline" validate:"min=1,dive,required"`
	Back      []string `json:"back" yaml:"back" validate:"min=1,dive,required"`
}

// TrackerConfig selects and configures the issue tracker adapter
type TrackerConfig struct {
	// Backend is "gh" (GitHub CLI) or "rest" (GitHub REST API)
	Backend string `json:"backend" yaml:"backend" validate:"tracker_backend"`

	// GHPath is the gh binary used by the "gh" backend
	GHPath string `json:"gh_path,omitempty" yaml:"gh_path,omitempty"`

	// BaseURL overrides the REST API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Token for the REST backend; read from TokenEnvVar when empty
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	TokenEnvVar string `json:"token_env_var,omitempty" yaml:"token_env_var,omitempty"`

	Timeout   Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	ListLimit int      `json:"list_limit" yaml:"list_limit" validate:"min=1,max=100"`
}

// ExecutorConfig configures the script based prompt executor
type ExecutorConfig struct {
	// ScriptsDir holds AskScript and StatusScript
	ScriptsDir   string `json:"scripts_dir" yaml:"scripts_dir"`
	AskScript    string `json:"ask_script" yaml:"ask_script" validate:"required"`
	StatusScript string `json:"status_script,omitempty" yaml:"status_script,omitempty"`

	// SkillsDir contains one directory per skill, each with a SKILL.md
	SkillsDir string `json:"skills_dir,omitempty" yaml:"skills_dir,omitempty"`

	// TmuxSession is the session the executor drives
	TmuxSession string `json:"tmux_session" yaml:"tmux_session"`

	DefaultTimeout Duration `json:"default_timeout" yaml:"default_timeout" validate:"gt=0"`

	// Grace is added on top of the requested timeout before the script is killed
	Grace Duration `json:"grace" yaml:"grace" validate:"min=0"`
}

// StorageConfig configures where state blobs live
type StorageConfig struct {
	// Backend is one of "json", "sqlite" or "bolt"
	Backend string `json:"backend" yaml:"backend" validate:"store_backend"`

	// Dir is the state directory
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

// MailConfig configures the mutt based mailer
type MailConfig struct {
	Command  string   `json:"command,omitempty" yaml:"command,omitempty"`
	To       string   `json:"to,omitempty" yaml:"to,omitempty" validate:"omitempty,email"`
	FromName string   `json:"from_name,omitempty" yaml:"from_name,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"min=0"`
}

// ReportConfig configures the GitHub report and the daily digest
type ReportConfig struct {
	// ReposDir is scanned for git repositories with activity today
	ReposDir string `json:"repos_dir,omitempty" yaml:"repos_dir,omitempty"`

	// Services are systemd user units reported by the digest
	Services []string `json:"services,omitempty" yaml:"services,omitempty"`

	ActivityDays int `json:"activity_days,omitempty" yaml:"activity_days,omitempty" validate:"min=0"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is the output format (text, json)
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"log_format"`
}

// ConfigPrecedence defines the order of configuration loading
type ConfigPrecedence struct {
	// SystemConfig path
	SystemConfig string

	// UserConfig path
	UserConfig string

	// ProjectConfig path
	ProjectConfig string

	// ExplicitConfig is the --config flag; it wins over every file
	ExplicitConfig string

	// EnvironmentPrefix for env var overrides
	EnvironmentPrefix string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ConfigSource indicates where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"
	SourceUser        ConfigSource = "user"
	SourceProject     ConfigSource = "project"
	SourceExplicit    ConfigSource = "explicit"
	SourceEnvironment ConfigSource = "environment"
)

// Storage backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Tracker backends
const (
	TrackerGH   = "gh"
	TrackerREST = "rest"
)
