package config

// ServiceConfig is the configuration lifecycle every section implements.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies MEMEFEED_* environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against baseDir, the parent of the config directory.
	ResolvePaths(baseDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// ApplyServiceConfigs runs ApplyDefaults, ApplyEnvOverrides, ResolvePaths
// and Validate on each config in order and stops at the first error.
func ApplyServiceConfigs(baseDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(baseDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
