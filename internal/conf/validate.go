// conf/validate.go

package conf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory marks validation failures as configuration errors.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings checks value ranges and formats and rebases relative log
// paths onto the data directory. It does not require either endpoint to be
// set; commands call RequireSource and RequireTarget for that.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if settings.Source.BaseURL != "" {
		if err := validateEnvURL(settings.Source.BaseURL); err != nil {
			ve.Errors = append(ve.Errors, "source.baseurl: "+err.Error())
		}
	}
	if settings.Target.BaseURL != "" {
		if err := validateEnvURL(settings.Target.BaseURL); err != nil {
			ve.Errors = append(ve.Errors, "target.baseurl: "+err.Error())
		}
	}

	if settings.Source.PageDelay < 0 {
		ve.Errors = append(ve.Errors, "source.pagedelay must not be negative")
	}
	if settings.Source.PageLimit < 1 {
		ve.Errors = append(ve.Errors, "source.pagelimit must be at least 1")
	}
	if settings.Retry.MaxRetries < 0 {
		ve.Errors = append(ve.Errors, "retry.maxretries must not be negative")
	}
	if settings.Retry.BaseDelay < 0 {
		ve.Errors = append(ve.Errors, "retry.basedelay must not be negative")
	}
	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn is required when telemetry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	settings.rebaseLogPaths()
	return nil
}

func (s *Settings) rebaseLogPaths() {
	if s.DataDir == "" || s.DataDir == "." {
		return
	}
	rebase := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(s.DataDir, p)
	}

	if s.Logging.FileOutput != nil {
		s.Logging.FileOutput.Path = rebase(s.Logging.FileOutput.Path)
	}
	for name, out := range s.Logging.ModuleOutputs {
		out.FilePath = rebase(out.FilePath)
		s.Logging.ModuleOutputs[name] = out
	}
	if s.Logging.ModuleOutputs == nil {
		s.Logging.ModuleOutputs = map[string]logger.ModuleOutput{
			"auth":  {Enabled: true, FilePath: rebase(logger.DefaultAuthLogPath), Level: logger.DefaultLogLevel, ConsoleAlso: true},
			"media": {Enabled: true, FilePath: rebase(logger.DefaultMediaLogPath), Level: logger.DefaultLogLevel, ConsoleAlso: true},
		}
	}
}

// RequireSource fails unless the source endpoint and at least one
// credential set are configured.
func (s *Settings) RequireSource() error {
	var missing []string
	if s.Source.BaseURL == "" {
		missing = append(missing, "source.baseurl")
	}
	if s.Source.Username == "" || s.Source.Password == "" {
		missing = append(missing, "source.username/source.password")
	}
	return requireKeys(missing)
}

// RequireTarget fails unless the target endpoint and token are configured.
func (s *Settings) RequireTarget() error {
	var missing []string
	if s.Target.BaseURL == "" {
		missing = append(missing, "target.baseurl")
	}
	if s.Target.Token == "" {
		missing = append(missing, "target.token")
	}
	return requireKeys(missing)
}

func requireKeys(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.Newf("missing required settings: %s", strings.Join(missing, ", ")).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Build()
}
