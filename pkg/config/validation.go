package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittovfs/pkg/address"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that cannot
// be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Every scheme maps to exactly one provider or view.
	taken := map[string]string{"file": "local", "temp": "local"}
	claim := func(scheme, owner string) error {
		if prev, ok := taken[scheme]; ok {
			return fmt.Errorf("%s: scheme %q already used by %s", owner, scheme, prev)
		}
		taken[scheme] = owner
		return nil
	}

	for _, s := range cfg.Remote.Schemes {
		if err := claim(s, "remote"); err != nil {
			return err
		}
	}
	for _, s := range cfg.Archive.Schemes {
		if err := claim(s, "archive"); err != nil {
			return err
		}
	}
	for i, v := range cfg.Views {
		if err := claim(v.Scheme, fmt.Sprintf("views[%d]", i)); err != nil {
			return err
		}
		if _, err := address.Parse(v.URI); err != nil {
			return fmt.Errorf("views[%d]: invalid uri %q: %w", i, v.URI, err)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
