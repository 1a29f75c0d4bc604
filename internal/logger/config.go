package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Timezone      string                  `yaml:"timezone" json:"timezone" mapstructure:"timezone"`                // "Local", "UTC", or IANA name
	DefaultLevel  string                  `yaml:"default_level" json:"default_level" mapstructure:"default_level"` // default log level for all modules
	Console       *ConsoleOutput          `yaml:"console" json:"console" mapstructure:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" json:"file_output" mapstructure:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" json:"modules" mapstructure:"modules"`
	ModuleLevels  map[string]string       `yaml:"module_levels" json:"module_levels" mapstructure:"module_levels"`
}

// ConsoleOutput configures human-readable output on stderr. Stdout is kept
// free for the run summary and command output.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// FileOutput configures the JSON run log. Rotation settings also apply to
// module files.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" json:"path" mapstructure:"path"`
	Level           string `yaml:"level" json:"level" mapstructure:"level"`
	MaxSize         int    `yaml:"max_size" json:"max_size" mapstructure:"max_size"`                            // MB before rotation, 0 disables
	MaxRotatedFiles int    `yaml:"max_rotated_files" json:"max_rotated_files" mapstructure:"max_rotated_files"` // 0 keeps one
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" json:"file_path" mapstructure:"file_path"`
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" json:"console_also" mapstructure:"console_also"`
}

// Default values for logging configuration. Kept in sync with conf defaults.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/cmsbridge.log"
	DefaultAuthLogPath     = "logs/auth.log"
	DefaultMediaLogPath    = "logs/media.log"
	DefaultMaxSize         = 50
	DefaultMaxRotatedFiles = 5
	DefaultConsoleEnabled  = true
	DefaultFileEnabled     = true
)

func ensureModuleOutput(cfg *LoggingConfig, module, filePath string) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:     true,
			FilePath:    filePath,
			Level:       DefaultLogLevel,
			ConsoleAlso: true,
		}
	}
}

// applyConfigDefaults fills nil sections so a config file without a logging
// block still gets console and file output.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled:         DefaultFileEnabled,
			Path:            DefaultLogPath,
			Level:           DefaultLogLevel,
			MaxSize:         DefaultMaxSize,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)

		// Strategy negotiation and media transfers are the noisiest parts of
		// a run, so they get their own files by default.
		ensureModuleOutput(cfg, "auth", DefaultAuthLogPath)
		ensureModuleOutput(cfg, "media", DefaultMediaLogPath)
	}
}
