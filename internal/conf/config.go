// Package conf loads cmsbridge settings from config.yaml, .env files,
// environment variables and command line flags.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/cmsbridge/internal/logger"
)

// SourceSettings describes the JSON:API source platform.
type SourceSettings struct {
	BaseURL            string        `mapstructure:"baseurl" yaml:"baseurl"`
	APIPrefix          string        `mapstructure:"apiprefix" yaml:"apiprefix"`   // path prefix of the JSON:API root
	ProbePath          string        `mapstructure:"probepath" yaml:"probepath"`   // cheap authenticated endpoint used to verify credentials
	LoginPath          string        `mapstructure:"loginpath" yaml:"loginpath"`   // form login used by the cookie strategy
	TokenPath          string        `mapstructure:"tokenpath" yaml:"tokenpath"`   // OAuth2 token endpoint
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
	ClientID           string        `mapstructure:"clientid" yaml:"clientid"`
	ClientSecret       string        `mapstructure:"clientsecret" yaml:"clientsecret"`
	InsecureSkipVerify bool          `mapstructure:"insecureskipverify" yaml:"insecureskipverify"` // non-production only
	ForceIPv4          bool          `mapstructure:"forceipv4" yaml:"forceipv4"`
	PageDelay          time.Duration `mapstructure:"pagedelay" yaml:"pagedelay"`
	PageLimit          int           `mapstructure:"pagelimit" yaml:"pagelimit"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TargetSettings describes the collection API being migrated into.
type TargetSettings struct {
	BaseURL string        `mapstructure:"baseurl" yaml:"baseurl"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RetrySettings is the single retry policy applied to source fetches and
// media transfers.
type RetrySettings struct {
	MaxRetries int           `mapstructure:"maxretries" yaml:"maxretries"`
	BaseDelay  time.Duration `mapstructure:"basedelay" yaml:"basedelay"`
}

// MediaSettings holds target folder hints per asset kind.
type MediaSettings struct {
	LogoFolder    string `mapstructure:"logofolder" yaml:"logofolder"`
	GalleryFolder string `mapstructure:"galleryfolder" yaml:"galleryfolder"`
}

// NotifySettings configures the end-of-run summary notification.
type NotifySettings struct {
	URLs          []string      `mapstructure:"urls" yaml:"urls"` // shoutrrr service URLs
	OnFailureOnly bool          `mapstructure:"onfailureonly" yaml:"onfailureonly"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TelemetrySettings configures Sentry reporting of systemic failures.
type TelemetrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// MetricsSettings configures the Prometheus textfile written after each stage.
type MetricsSettings struct {
	TextfilePath string `mapstructure:"textfilepath" yaml:"textfilepath"`
}

// Settings is the root configuration.
type Settings struct {
	Debug     bool                 `mapstructure:"debug" yaml:"debug"`
	DataDir   string               `mapstructure:"datadir" yaml:"datadir"`
	Source    SourceSettings       `mapstructure:"source" yaml:"source"`
	Target    TargetSettings       `mapstructure:"target" yaml:"target"`
	Retry     RetrySettings        `mapstructure:"retry" yaml:"retry"`
	Media     MediaSettings        `mapstructure:"media" yaml:"media"`
	Notify    NotifySettings       `mapstructure:"notify" yaml:"notify"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CSVDir holds audit CSVs and the JSON identity and image maps.
func (s *Settings) CSVDir() string {
	return filepath.Join(s.DataDir, "csv")
}

// LogDir holds the append-only error logs.
func (s *Settings) LogDir() string {
	return filepath.Join(s.DataDir, "logs")
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads settings through the global viper instance, which the root
// command has already bound to its flags.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadWith(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// LoadWith reads settings through v. An empty configFile searches the
// default config paths; a missing config file is not an error.
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range defaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Flags and environment alone are a valid configuration.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cmsbridge"))
	}
	return append(paths, "/etc/cmsbridge")
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
