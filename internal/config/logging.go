package config

// LoggingConfig controls the per-category log files under .livenote/logs.
// Nothing is written unless DebugMode is set.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // text or json
	DebugMode  bool            `yaml:"debug_mode"` // master switch for file logs
	Categories map[string]bool `yaml:"categories"` // category -> enabled; missing means enabled
	MaxSizeMB  int             `yaml:"max_size_mb"`
	MaxBackups int             `yaml:"max_backups"`
}

// IsCategoryEnabled reports whether category gets a log file.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if enabled, ok := c.Categories[category]; ok {
		return enabled
	}
	return true
}

// Rotation returns the lumberjack size and backup limits, with defaults
// for unset values.
func (c *LoggingConfig) Rotation() (maxSizeMB, maxBackups int) {
	maxSizeMB, maxBackups = c.MaxSizeMB, c.MaxBackups
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	return maxSizeMB, maxBackups
}
