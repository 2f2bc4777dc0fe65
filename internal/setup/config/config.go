package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidGuildID        = errors.New("invalid guild id in appeal config")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.3.0"

// Current version of the config files.
const (
	CurrentCommonVersion = 1
	CurrentAppealVersion = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Appeal AppealConfig
}

// CommonConfig contains infrastructure configuration.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Retry      Retry      `koanf:"retry"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Discord    Discord    `koanf:"discord"`
	Telemetry  Telemetry  `koanf:"telemetry"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log files to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
}

// Retry contains retry configuration for outbound calls.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Discord contains Discord REST configuration.
type Discord struct {
	// Bot token used for reversals and direct messages.
	Token string `koanf:"token"`
	// Channel that receives escalations and reviewer pings.
	ModLogChannelID uint64 `koanf:"mod_log_channel_id"`
	// Optional webhook URL that mirrors notifications.
	WebhookURL string `koanf:"webhook_url"`
}

// Telemetry contains tracing and metrics configuration.
type Telemetry struct {
	// Uptrace DSN. Tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Port for the prometheus metrics endpoint. Disabled when zero.
	MetricsPort int `koanf:"metrics_port"`
}

// AppealConfig contains the appeal engine parameter sets.
type AppealConfig struct {
	// Version of the appeal config.
	Version      int                `koanf:"version"`
	Analyzer     AnalyzerConfig     `koanf:"analyzer"`
	Workflow     WorkflowConfig     `koanf:"workflow"`
	Notification NotificationConfig `koanf:"notification"`
	// Guilds holds fully resolved per-guild parameter sets.
	Guilds map[uint64]GuildConfig `koanf:"-"`
}

// GuildConfig is the set of parameters applied to a single guild.
type GuildConfig struct {
	Analyzer     AnalyzerConfig     `koanf:"analyzer"`
	Workflow     WorkflowConfig     `koanf:"workflow"`
	Notification NotificationConfig `koanf:"notification"`
}

// AnalyzerConfig tunes how appeals are scored.
type AnalyzerConfig struct {
	// Score apology, ownership and hostility signals.
	SentimentAnalysisEnabled bool `koanf:"sentiment_analysis_enabled"`
	// Score specificity and references to the original action.
	ContextAnalysisEnabled bool `koanf:"context_analysis_enabled"`
	// Detect boilerplate and copy-pasted appeal text.
	EnablePatternDetection bool `koanf:"enable_pattern_detection"`
	// Confidence at or above which an approval is recommended.
	SincerityThreshold float64 `koanf:"sincerity_threshold"`
	// Score at or below which a rejection is recommended.
	RejectThreshold float64 `koanf:"reject_threshold"`
	// Reasons shorter than this many characters are too thin to score.
	MinReasonLength int `koanf:"min_reason_length"`
	// Phrases that indicate a templated appeal.
	BoilerplatePhrases []string `koanf:"boilerplate_phrases"`
	// Token overlap ratio above which two reasons count as the same text.
	PatternSimilarity float64 `koanf:"pattern_similarity"`
}

// WorkflowConfig tunes routing and the review queue.
type WorkflowConfig struct {
	// Allow the analyzer to decide low-severity appeals.
	AutoReviewEnabled bool `koanf:"auto_review_enabled"`
	// Send priority and escalated appeals to their own lane.
	PriorityLaneEnabled bool `koanf:"priority_lane_enabled"`
	// Hours a queued or claimed appeal may wait before expiring.
	ReviewTimeoutHours int `koanf:"review_timeout_hours"`
	// Maximum appeals that may be under review at once.
	MaxConcurrentReviews int `koanf:"max_concurrent_reviews"`
	// Lower bound of the ambiguous confidence band.
	AmbiguousBandLow float64 `koanf:"ambiguous_band_low"`
	// Prior appeals needed before a repeat appellant is escalated.
	EscalateAfterAppeals int `koanf:"escalate_after_appeals"`
	// Seconds between reaper sweeps.
	ReaperIntervalSeconds int `koanf:"reaper_interval_seconds"`
	// Hours after which a waiting regular-lane appeal outranks the priority lane.
	// Zero keeps strict lane priority.
	RegularLanePromoteAfterHours int `koanf:"regular_lane_promote_after_hours"`
	// Follow-up applied when an appeal is rejected ("" or "escalate").
	RejectFollowUp string `koanf:"reject_follow_up"`
}

// ReviewTimeout returns the review timeout as a duration.
func (w WorkflowConfig) ReviewTimeout() time.Duration {
	return time.Duration(w.ReviewTimeoutHours) * time.Hour
}

// ReaperInterval returns the reaper sweep interval as a duration.
func (w WorkflowConfig) ReaperInterval() time.Duration {
	return time.Duration(w.ReaperIntervalSeconds) * time.Second
}

// PromoteAfter returns the regular lane promotion age as a duration.
func (w WorkflowConfig) PromoteAfter() time.Duration {
	return time.Duration(w.RegularLanePromoteAfterHours) * time.Hour
}

// NotificationConfig controls which notifications are sent.
type NotificationConfig struct {
	// Tell the appellant their appeal was received.
	NotifyOnSubmission bool `koanf:"notify_on_submission"`
	// Tell the appellant about the decision.
	NotifyOnDecision bool `koanf:"notify_on_decision"`
	// Ping the reviewer channel when an appeal is queued.
	NotifyReviewers bool `koanf:"notify_reviewers"`
	// Channel that receives reviewer pings. Falls back to the mod-log channel.
	ReviewerChannelID uint64 `koanf:"reviewer_channel_id"`
	// Seconds to wait before sending a notification.
	DelaySeconds int `koanf:"delay_seconds"`
	// Send attempts before a notification is dropped.
	MaxAttempts uint64 `koanf:"max_attempts"`
}

// Delay returns the notification delay as a duration.
func (n NotificationConfig) Delay() time.Duration {
	return time.Duration(n.DelaySeconds) * time.Second
}

// DefaultAnalyzerConfig returns the analyzer defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SentimentAnalysisEnabled: true,
		ContextAnalysisEnabled:   true,
		EnablePatternDetection:   true,
		SincerityThreshold:       0.6,
		RejectThreshold:          0.25,
		MinReasonLength:          20,
		BoilerplatePhrases: []string{
			"please unban me",
			"i didnt do anything",
			"i did nothing wrong",
			"it wasnt me",
			"my account was hacked",
			"give me another chance",
		},
		PatternSimilarity: 0.8,
	}
}

// DefaultWorkflowConfig returns the workflow defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		AutoReviewEnabled:     true,
		PriorityLaneEnabled:   true,
		ReviewTimeoutHours:    48,
		MaxConcurrentReviews:  10,
		AmbiguousBandLow:      0.4,
		EscalateAfterAppeals:  3,
		ReaperIntervalSeconds: 60,
	}
}

// DefaultNotificationConfig returns the notification defaults.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		NotifyOnSubmission: true,
		NotifyOnDecision:   true,
		NotifyReviewers:    false,
		MaxAttempts:        3,
	}
}

// DefaultAppealConfig returns an appeal config made of the defaults.
func DefaultAppealConfig() AppealConfig {
	return AppealConfig{
		Version:      CurrentAppealVersion,
		Analyzer:     DefaultAnalyzerConfig(),
		Workflow:     DefaultWorkflowConfig(),
		Notification: DefaultNotificationConfig(),
		Guilds:       make(map[uint64]GuildConfig),
	}
}

// ConfigPaths returns the directories searched for config files, in order.
func ConfigPaths() []string {
	paths := []string{".arbiter"}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, homeDir+"/.arbiter/config")
	}

	return append(paths,
		"/etc/arbiter/config",
		"/app/config",
		"config",
		".",
	)
}

// LoadConfig loads the configuration from the first directory holding the files.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	for _, path := range ConfigPaths() {
		if _, err := os.Stat(filepath.Join(path, "common.toml")); err != nil {
			continue
		}

		cfg, err := LoadConfigFrom(path)
		if err != nil {
			return nil, "", err
		}

		return cfg, path, nil
	}

	return nil, "", fmt.Errorf("%w: common.toml", ErrConfigFileNotFound)
}

// LoadConfigFrom loads common.toml and appeal.toml from a single directory.
func LoadConfigFrom(dir string) (*Config, error) {
	common, err := loadCommon(filepath.Join(dir, "common.toml"))
	if err != nil {
		return nil, err
	}

	appeal, err := LoadAppealConfig(filepath.Join(dir, "appeal.toml"))
	if err != nil {
		return nil, err
	}

	return &Config{Common: *common, Appeal: *appeal}, nil
}

// loadCommon reads the infrastructure config file.
func loadCommon(path string) (*CommonConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s (%w)", ErrConfigFileNotFound, filepath.Base(path), err)
	}

	cfg := CommonConfig{
		Debug: Debug{LogLevel: "info", MaxLogsToKeep: 10, MaxLogLines: 10000},
		Retry: Retry{MaxRetries: 3, Delay: 500, MaxDelay: 5000},
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling common config: %w", err)
	}

	if err := checkConfigVersion("common", cfg.Version, CurrentCommonVersion); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadAppealConfig reads appeal.toml and resolves every guild override on top
// of the file's defaults. Keys missing from an override keep the default value.
func LoadAppealConfig(path string) (*AppealConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s (%w)", ErrConfigFileNotFound, filepath.Base(path), err)
	}

	cfg := DefaultAppealConfig()
	cfg.Version = 0
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling appeal config: %w", err)
	}

	if err := checkConfigVersion("appeal", cfg.Version, CurrentAppealVersion); err != nil {
		return nil, err
	}

	// Resolve overrides against the file-level parameter sets
	for _, key := range k.MapKeys("guilds") {
		guildID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGuildID, key)
		}

		guild := GuildConfig{
			Analyzer:     cfg.Analyzer,
			Workflow:     cfg.Workflow,
			Notification: cfg.Notification,
		}
		guild.Analyzer.BoilerplatePhrases = slices.Clone(cfg.Analyzer.BoilerplatePhrases)

		if err := k.Unmarshal("guilds."+key, &guild); err != nil {
			return nil, fmt.Errorf("error unmarshaling guild %s config: %w", key, err)
		}

		cfg.Guilds[guildID] = guild
	}

	return &cfg, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/arbiter/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
