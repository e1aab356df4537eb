package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration values using go-playground/validator
type Validator struct {
	validate *validator.Validate
}

var repoSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	v := validator.New()
	RegisterValidations(v)

	return &Validator{
		validate: v,
	}
}

// RegisterValidations adds the custom tags used by Config to v. The HTTP
// server registers them too, for request bodies.
func RegisterValidations(v *validator.Validate) {
	v.RegisterValidation("store_backend", validateStoreBackend)
	v.RegisterValidation("tracker_backend", validateTrackerBackend)
	v.RegisterValidation("log_format", validateLogFormat)
	v.RegisterValidation("repo_slug", validateRepoSlug)
}

// Validate validates a complete configuration
func (v *Validator) Validate(config *Config) error {
	if config.Version == "" {
		config.Version = "1.0"
	}

	if err := v.validate.Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			e := validationErrors[0]
			return ValidationError{
				Field:   e.Namespace(),
				Message: fmt.Sprintf("validation failed on tag '%s' with value '%v'", e.Tag(), e.Value()),
				Value:   e.Value(),
			}
		}
		return err
	}

	if config.Safeguard.CleanupHorizon.Std() < config.Safeguard.ConversationTimeout.Std() {
		return ValidationError{
			Field:   "Config.Safeguard.CleanupHorizon",
			Message: "cleanup horizon must not be shorter than the conversation timeout",
			Value:   config.Safeguard.CleanupHorizon,
		}
	}

	return nil
}

// Custom validation functions for go-playground/validator

func validateStoreBackend(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Allow empty, will be filled by defaults
	}
	return slices.Contains([]string{BackendJSON, BackendSQLite, BackendBolt}, value)
}

func validateTrackerBackend(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return slices.Contains([]string{TrackerGH, TrackerREST}, value)
}

func validateLogFormat(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return slices.Contains([]string{"json", "text"}, value)
}

// validateRepoSlug accepts an empty value or owner/name
func validateRepoSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return repoSlugPattern.MatchString(value)
}
