package config

import (
	"slices"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
	"go.uber.org/zap"
)

// Source is a read-only, hot-reloadable view of the appeal parameter sets.
// Readers always get value copies so a reload never mutates a set in use.
type Source struct {
	current atomic.Pointer[AppealConfig]
	watcher *file.File
	logger  *zap.Logger
}

// NewSource creates a Source serving the given config.
func NewSource(cfg AppealConfig, logger *zap.Logger) *Source {
	s := &Source{logger: logger.Named("config")}
	s.Store(cfg)
	return s
}

// Store replaces the served config.
func (s *Source) Store(cfg AppealConfig) {
	if cfg.Guilds == nil {
		cfg.Guilds = make(map[uint64]GuildConfig)
	}
	s.current.Store(&cfg)
}

// Current returns the config currently served.
func (s *Source) Current() AppealConfig {
	return *s.current.Load()
}

// Analyzer returns the analyzer parameters for a guild.
func (s *Source) Analyzer(guildID uint64) AnalyzerConfig {
	cfg := s.current.Load()

	analyzer := cfg.Analyzer
	if guild, ok := cfg.Guilds[guildID]; ok {
		analyzer = guild.Analyzer
	}

	analyzer.BoilerplatePhrases = slices.Clone(analyzer.BoilerplatePhrases)
	return analyzer
}

// Workflow returns the workflow parameters for a guild.
func (s *Source) Workflow(guildID uint64) WorkflowConfig {
	cfg := s.current.Load()
	if guild, ok := cfg.Guilds[guildID]; ok {
		return guild.Workflow
	}
	return cfg.Workflow
}

// Notification returns the notification parameters for a guild.
func (s *Source) Notification(guildID uint64) NotificationConfig {
	cfg := s.current.Load()
	if guild, ok := cfg.Guilds[guildID]; ok {
		return guild.Notification
	}
	return cfg.Notification
}

// Watch reloads the appeal config whenever the file at path changes.
// A reload that fails validation keeps the previous config in place.
func (s *Source) Watch(path string) error {
	s.watcher = file.Provider(path)

	return s.watcher.Watch(func(_ any, err error) {
		if err != nil {
			s.logger.Error("Appeal config watcher failed", zap.Error(err))
			return
		}

		cfg, err := LoadAppealConfig(path)
		if err != nil {
			s.logger.Error("Failed to reload appeal config, keeping previous",
				zap.String("path", path),
				zap.Error(err))
			return
		}

		s.Store(*cfg)
		s.logger.Info("Reloaded appeal config",
			zap.String("path", path),
			zap.Int("guildOverrides", len(cfg.Guilds)))
	})
}

// Close stops watching the config file.
func (s *Source) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Unwatch()
}
