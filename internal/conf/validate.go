// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateStreamSettings(&settings.Stream); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDetectionSettings(&settings.Detection); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEnrichmentSettings(&settings.Enrichment); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateNotifySettings(&settings.Notify); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateStreamSettings(settings *StreamSettings) error {
	var errs []string

	if settings.Source == "" {
		errs = append(errs, "stream source must be set to a file path or RTSP URL")
	}
	if settings.Transport != "tcp" && settings.Transport != "udp" {
		errs = append(errs, fmt.Sprintf("stream transport must be tcp or udp, got %q", settings.Transport))
	}
	if settings.SampleInterval <= 0 {
		errs = append(errs, "stream sample interval must be positive")
	}
	if settings.Reconnect.MaxRetries < 0 {
		errs = append(errs, "stream reconnect maxretries must not be negative")
	}
	if settings.Reconnect.InitialDelay <= 0 || settings.Reconnect.MaxDelay < settings.Reconnect.InitialDelay {
		errs = append(errs, "stream reconnect delays must be positive with maxdelay >= initialdelay")
	}

	if len(errs) > 0 {
		return fmt.Errorf("stream settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDetectionSettings(settings *DetectionSettings) error {
	var errs []string

	if settings.LowThreshold < 0 || settings.LowThreshold > 1 {
		errs = append(errs, "low threshold must be between 0.0 and 1.0")
	}
	if settings.HighThreshold < 0 || settings.HighThreshold > 1 {
		errs = append(errs, "high threshold must be between 0.0 and 1.0")
	}
	if settings.LowThreshold > settings.HighThreshold {
		errs = append(errs, "low threshold must not exceed high threshold")
	}
	if settings.WindowSize <= 0 {
		errs = append(errs, "window size must be at least 1")
	}
	if settings.MinConfirmFraction <= 0 || settings.MinConfirmFraction > 1 {
		errs = append(errs, "min confirm fraction must be in (0.0, 1.0]")
	}
	if settings.WindowTimeout <= 0 {
		errs = append(errs, "window timeout must be positive")
	}
	if settings.Cooldown <= 0 {
		errs = append(errs, "cooldown must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("detection settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEnrichmentSettings(settings *EnrichmentSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	switch settings.Provider {
	case "gemini", "ollama":
	default:
		errs = append(errs, fmt.Sprintf("enrichment provider must be gemini or ollama, got %q", settings.Provider))
	}
	if settings.Timeout <= 0 {
		errs = append(errs, "enrichment timeout must be positive")
	}
	if settings.EventTimeout < settings.Timeout {
		errs = append(errs, "enrichment event timeout must be at least the per-call timeout")
	}
	if settings.MaxRetries < 0 {
		errs = append(errs, "enrichment maxretries must not be negative")
	}
	if settings.Concurrency <= 0 {
		errs = append(errs, "enrichment concurrency must be at least 1")
	}
	if settings.Provider == "ollama" && settings.Ollama.Host == "" {
		errs = append(errs, "ollama host must be set when ollama provider is selected")
	}

	if len(errs) > 0 {
		return fmt.Errorf("enrichment settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateNotifySettings(settings *NotifySettings) error {
	var errs []string

	if settings.Telegram.Enabled {
		if settings.Telegram.Token == "" {
			errs = append(errs, "telegram enabled but TELEGRAM_BOT_TOKEN is not set")
		}
		if settings.Telegram.AlertChat == "" {
			errs = append(errs, "telegram enabled but alert chat id is not set")
		}
	}
	if settings.Shoutrrr.Enabled && len(settings.Shoutrrr.URLs) == 0 {
		errs = append(errs, "shoutrrr enabled but no URLs configured")
	}
	if settings.Retry.MaxRetries < 0 {
		errs = append(errs, "notify retry maxretries must not be negative")
	}
	if settings.Retry.Multiplier < 1.0 {
		errs = append(errs, "notify retry multiplier must be at least 1.0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
