package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Triggers TriggersConfig `mapstructure:"triggers"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AnalysisConfig holds the veto sweep parameters
type AnalysisConfig struct {
	IFO                 string    `mapstructure:"ifo"`
	SNRThresholds       []float64 `mapstructure:"snr_thresholds"`
	TimeWindows         []float64 `mapstructure:"time_windows"`
	MinimumSignificance float64   `mapstructure:"minimum_significance"`
	Nproc               int       `mapstructure:"nproc"`
}

// ChannelsConfig names the primary channel and the auxiliary channels to
// sweep. Auxiliary order is significant: it fixes the winner tie-break.
type ChannelsConfig struct {
	Primary   string   `mapstructure:"primary"`
	Auxiliary []string `mapstructure:"auxiliary"`
}

// TriggersConfig holds trigger-input configuration
type TriggersConfig struct {
	Dir         string  `mapstructure:"dir"`
	MinSNR      float64 `mapstructure:"min_snr"`
	SegmentFile string  `mapstructure:"segment_file"`
}

// OutputConfig holds output-directory configuration
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig holds round-archive configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// TelegramConfig holds run-completion notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from one or more files, applied in order with
// later files overriding earlier ones, plus environment variable overrides.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one config file is required")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HVETO")
	v.AutomaticEnv()

	v.SetConfigFile(paths[0])
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", paths[0], err)
	}
	for _, path := range paths[1:] {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to merge config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Analysis defaults mirror the standard sweep grid.
	v.SetDefault("analysis.ifo", "L1")
	v.SetDefault("analysis.snr_thresholds", []float64{7.75, 8, 8.5, 9, 10, 11, 12, 15, 20, 40, 100, 300})
	v.SetDefault("analysis.time_windows", []float64{0.1, 0.2, 0.4, 0.8, 1})
	v.SetDefault("analysis.minimum_significance", 5.0)
	v.SetDefault("analysis.nproc", 1)

	v.SetDefault("triggers.dir", "./triggers")
	v.SetDefault("triggers.min_snr", 7.75)

	v.SetDefault("output.dir", ".")
	v.SetDefault("storage.db_path", "./data/hveto.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Analysis.IFO == "" {
		return fmt.Errorf("analysis.ifo is required")
	}
	if err := validateAscending("analysis.snr_thresholds", c.Analysis.SNRThresholds); err != nil {
		return err
	}
	if err := validateAscending("analysis.time_windows", c.Analysis.TimeWindows); err != nil {
		return err
	}
	if c.Analysis.MinimumSignificance < 0 {
		return fmt.Errorf("analysis.minimum_significance must not be negative")
	}
	if c.Analysis.Nproc < 1 {
		return fmt.Errorf("analysis.nproc must be at least 1")
	}

	if c.Channels.Primary == "" {
		return fmt.Errorf("channels.primary is required")
	}
	if len(c.Channels.Auxiliary) == 0 {
		return fmt.Errorf("channels.auxiliary must contain at least one channel")
	}
	seen := make(map[string]bool, len(c.Channels.Auxiliary))
	for _, channel := range c.Channels.Auxiliary {
		if channel == c.Channels.Primary {
			return fmt.Errorf("channels.auxiliary must not contain the primary channel")
		}
		if seen[channel] {
			return fmt.Errorf("channels.auxiliary contains %s twice", channel)
		}
		seen[channel] = true
	}

	if c.Triggers.Dir == "" {
		return fmt.Errorf("triggers.dir is required")
	}
	if c.Triggers.MinSNR < 0 {
		return fmt.Errorf("triggers.min_snr must not be negative")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func validateAscending(name string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("%s must contain at least one value", name)
	}
	for i, v := range values {
		if v <= 0 {
			return fmt.Errorf("%s values must be positive", name)
		}
		if i > 0 && v <= values[i-1] {
			return fmt.Errorf("%s must be strictly ascending", name)
		}
	}
	return nil
}
