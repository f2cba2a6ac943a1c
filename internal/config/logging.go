package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logging defaults. The file names are relative to LoggingConfig.Dir.
const (
	DefaultLogDir       = "logs"
	DefaultLogFile      = "memefeed.log"
	DefaultErrorLogFile = "errors.log"
	DefaultLogLevel     = "info"
	DefaultErrorLevel   = "warn"
	DefaultLogFormat    = "text"
)

// LoggingConfig holds logging configuration. Level and Format are inherited
// by any output that leaves its own empty.
type LoggingConfig struct {
	Level    string           `yaml:"level"`
	Format   string           `yaml:"format"` // text, json
	Dir      string           `yaml:"dir"`
	Rotation RotationConfig   `yaml:"rotation"`
	Console  OutputConfig     `yaml:"console"`
	File     FileOutputConfig `yaml:"file"`
}

// RotationConfig is passed to lumberjack for both log files.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"` // MB
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"` // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log sink.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileOutputConfig writes every record at Level to Name and records at
// ErrorLevel and above to ErrorName as well.
type FileOutputConfig struct {
	OutputConfig `yaml:",inline"`
	Name         string `yaml:"name"`
	ErrorName    string `yaml:"error_name"`
	ErrorLevel   string `yaml:"error_level"`
}

// ParseLevel maps a case-insensitive level name to a slog level. "warning"
// is accepted as an alias of "warn".
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
}

// SlogLevel returns the output's level, or info when it does not parse.
func (o OutputConfig) SlogLevel() slog.Level {
	level, _ := ParseLevel(o.Level)
	return level
}

// SlogErrorLevel returns the error log threshold, or warn when it does not parse.
func (f FileOutputConfig) SlogErrorLevel() slog.Level {
	level, err := ParseLevel(f.ErrorLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}

// DefaultLoggingConfig returns the production logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Dir:    DefaultLogDir,
		Rotation: RotationConfig{
			MaxSize:    50,
			MaxBackups: 7,
			MaxAge:     14,
			Compress:   true,
		},
		Console: OutputConfig{Enabled: true, Level: DefaultLogLevel, Format: DefaultLogFormat},
		File: FileOutputConfig{
			OutputConfig: OutputConfig{Enabled: true, Level: DefaultLogLevel, Format: DefaultLogFormat},
			Name:         DefaultLogFile,
			ErrorName:    DefaultErrorLogFile,
			ErrorLevel:   DefaultErrorLevel,
		},
	}
}

// ApplyDefaults fills in missing values. Compress is left alone because an
// explicit false looks the same as an unset field.
func (c *LoggingConfig) ApplyDefaults() {
	def := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = def.Level
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.Dir == "" {
		c.Dir = def.Dir
	}

	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = def.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = def.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = def.Rotation.MaxAge
	}

	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
	if c.File.Name == "" {
		c.File.Name = def.File.Name
	}
	if c.File.ErrorName == "" {
		c.File.ErrorName = def.File.ErrorName
	}
	if c.File.ErrorLevel == "" {
		c.File.ErrorLevel = def.File.ErrorLevel
	}
}

// inherit enables an untouched output and copies the shared level and format
// into empty fields.
func (o *OutputConfig) inherit(level, format string) {
	if *o == (OutputConfig{}) {
		o.Enabled = true
	}
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

// ApplyEnvOverrides applies MEMEFEED_LOG_LEVEL and MEMEFEED_LOG_DIR.
// The level override applies to every output.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_LOG_LEVEL"); v != "" {
		level := strings.ToLower(v)
		c.Level = level
		c.Console.Level = level
		c.File.Level = level
	}
	if v := os.Getenv("MEMEFEED_LOG_DIR"); v != "" {
		c.Dir = v
	}
}

// ResolvePaths resolves a relative log directory against baseDir.
func (c *LoggingConfig) ResolvePaths(baseDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) {
		c.Dir = filepath.Clean(filepath.Join(baseDir, c.Dir))
	}
}

// Validate checks levels, formats and file names. Disabled outputs are not checked.
func (c *LoggingConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := validateFormat(c.Format); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Dir == "" {
		return fmt.Errorf("logging: dir cannot be empty")
	}
	if c.Console.Enabled {
		if err := c.Console.validate(); err != nil {
			return fmt.Errorf("logging.console: %w", err)
		}
	}
	if !c.File.Enabled {
		return nil
	}
	if err := c.File.validate(); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	if _, err := ParseLevel(c.File.ErrorLevel); c.File.ErrorLevel != "" && err != nil {
		return fmt.Errorf("logging.file.error_level: %w", err)
	}
	for _, name := range []string{c.File.Name, c.File.ErrorName} {
		if name != "" && (name != filepath.Base(name) || name == "." || name == "..") {
			return fmt.Errorf("logging.file: %q must be a file name inside dir", name)
		}
	}
	if c.File.Name != "" && c.File.Name == c.File.ErrorName {
		return fmt.Errorf("logging.file: name and error_name must differ, both are %q", c.File.Name)
	}
	return nil
}

func (o OutputConfig) validate() error {
	if o.Level != "" {
		if _, err := ParseLevel(o.Level); err != nil {
			return err
		}
	}
	if o.Format != "" {
		return validateFormat(o.Format)
	}
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown log format %q (want text or json)", format)
}
