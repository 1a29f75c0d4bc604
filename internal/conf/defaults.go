// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/cmsbridge/internal/logger"
)

// Default values shared with other packages.
const (
	DefaultPageDelay  = 200 * time.Millisecond
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 500 * time.Millisecond
)

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("datadir", ".")

	v.SetDefault("source.apiprefix", "/jsonapi")
	v.SetDefault("source.probepath", "/jsonapi")
	v.SetDefault("source.loginpath", "/user/login")
	v.SetDefault("source.tokenpath", "/oauth/token")
	v.SetDefault("source.insecureskipverify", false)
	v.SetDefault("source.forceipv4", true)
	v.SetDefault("source.pagedelay", DefaultPageDelay)
	v.SetDefault("source.pagelimit", 50)
	v.SetDefault("source.timeout", 30*time.Second)

	v.SetDefault("target.timeout", 30*time.Second)

	v.SetDefault("retry.maxretries", DefaultMaxRetries)
	v.SetDefault("retry.basedelay", DefaultBaseDelay)

	v.SetDefault("media.logofolder", "")
	v.SetDefault("media.galleryfolder", "")

	v.SetDefault("notify.onfailureonly", false)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.environment", "production")

	v.SetDefault("metrics.textfilepath", "")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", "debug")
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
}
