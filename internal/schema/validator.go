package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"socwatch/internal/apierr"
)

// Validator checks events against the canonical schema and maps failures
// to the API error taxonomy.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return Severity(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event. The returned error, if any, is an
// *apierr.Error carrying the error kind for the ingestion response.
func (v *Validator) Validate(event *SecurityEvent) error {
	// Timestamp checks first so an unset severity on the same event still
	// reports the timestamp problem deterministically.
	if event.Timestamp.IsZero() {
		return apierr.MissingField("timestamp")
	}

	now := time.Now().UTC()
	if v.maxAge > 0 && event.Timestamp.Before(now.Add(-v.maxAge)) {
		return apierr.InvalidTimestamp("timestamp too old")
	}
	if v.maxFuture > 0 && event.Timestamp.After(now.Add(v.maxFuture)) {
		return apierr.InvalidTimestamp("timestamp in the future")
	}

	if err := v.validate.Struct(event); err != nil {
		return mapValidationError(err)
	}

	return nil
}

// mapValidationError converts a validator.ValidationErrors into the
// documented error kinds, reporting the first failing field.
func mapValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierr.New(apierr.KindInternal, "validation failed")
	}

	fe := verrs[0]
	field := jsonFieldName(fe.Field())

	switch {
	case fe.Tag() == "severity":
		return apierr.InvalidSeverity(fmt.Sprintf("%v", fe.Value()))
	case fe.Tag() == "required":
		if field == "severity" {
			return apierr.MissingField("severity")
		}
		return apierr.MissingField(field)
	default:
		return &apierr.Error{
			Kind:   apierr.KindInvalidArgument,
			Field:  field,
			Detail: "failed " + fe.Tag() + " validation",
		}
	}
}

// jsonFieldName maps struct field names to their wire names.
func jsonFieldName(structField string) string {
	switch structField {
	case "ID":
		return "id"
	case "Timestamp":
		return "timestamp"
	case "Severity":
		return "severity"
	case "AttackType":
		return "attack_type"
	case "SourceIP":
		return "source_ip"
	case "DestinationIP":
		return "destination_ip"
	case "Description":
		return "description"
	case "Country":
		return "country"
	case "AffectedAsset":
		return "affected_asset"
	case "Port":
		return "port"
	case "Protocol":
		return "protocol"
	default:
		return structField
	}
}
