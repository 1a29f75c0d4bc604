package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const maskedValue = "********"

// MaskedYAML renders the effective settings with credentials replaced.
func MaskedYAML(s *Settings) ([]byte, error) {
	masked := *s
	masked.Source.Password = mask(s.Source.Password)
	masked.Source.ClientSecret = mask(s.Source.ClientSecret)
	masked.Target.Token = mask(s.Target.Token)
	masked.Telemetry.DSN = mask(s.Telemetry.DSN)
	if len(s.Notify.URLs) > 0 {
		masked.Notify.URLs = make([]string, len(s.Notify.URLs))
		for i := range s.Notify.URLs {
			masked.Notify.URLs[i] = maskedValue
		}
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings: %w", err)
	}
	return out, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}
