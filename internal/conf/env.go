// env.go - environment variable and .env support
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"datadir", "CMSBRIDGE_DATADIR", nil},

		{"source.baseurl", "CMSBRIDGE_SOURCE_URL", validateEnvURL},
		{"source.username", "CMSBRIDGE_SOURCE_USERNAME", nil},
		{"source.password", "CMSBRIDGE_SOURCE_PASSWORD", nil},
		{"source.clientid", "CMSBRIDGE_SOURCE_CLIENT_ID", nil},
		{"source.clientsecret", "CMSBRIDGE_SOURCE_CLIENT_SECRET", nil},
		{"source.insecureskipverify", "CMSBRIDGE_SOURCE_INSECURE", validateEnvBool},
		{"source.forceipv4", "CMSBRIDGE_SOURCE_FORCE_IPV4", validateEnvBool},
		{"source.pagedelay", "CMSBRIDGE_SOURCE_PAGE_DELAY", validateEnvDuration},

		{"target.baseurl", "CMSBRIDGE_TARGET_URL", validateEnvURL},
		{"target.token", "CMSBRIDGE_TARGET_TOKEN", nil},

		{"retry.maxretries", "CMSBRIDGE_RETRY_MAX", validateEnvNonNegativeInt},

		{"telemetry.dsn", "CMSBRIDGE_SENTRY_DSN", nil},
		{"metrics.textfilepath", "CMSBRIDGE_METRICS_FILE", nil},
	}
}

// bindEnvVars binds every known variable and validates those that are set.
// All problems are reported together.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}

// loadDotEnv loads .env from the working directory into the process
// environment. Variables already set win. A missing file is fine.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s'", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", value, err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer '%s'", value)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
