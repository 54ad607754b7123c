// config_validation.go - Startup validation of the FD_* environment.
//
// Every integration is optional, so validation only checks values that are
// present and the combinations that only make sense together. All problems
// are collected and reported at once.
package server

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ConfigValidationError names one offending variable.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator accumulates ConfigValidationErrors. Each Validate* method
// ignores empty values.
type ConfigValidator struct {
	errors []ConfigValidationError
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{Field: field, Message: message})
}

func (v *ConfigValidator) HasErrors() bool { return len(v.errors) > 0 }

func (v *ConfigValidator) Errors() []ConfigValidationError { return v.errors }

// ErrorString renders all errors as a numbered list.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid configuration, %d error(s):\n", len(v.errors))
	for i, e := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
	}
	return sb.String()
}

// ValidateURL accepts absolute http and https URLs.
func (v *ConfigValidator) ValidateURL(key, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.AddError(key, "not a URL: "+err.Error())
	case u.Scheme != "http" && u.Scheme != "https":
		v.AddError(key, "scheme must be http or https")
	case u.Host == "":
		v.AddError(key, "missing host")
	}
}

// ValidateListenAddr accepts ":8000" and "127.0.0.1:9090" forms.
func (v *ConfigValidator) ValidateListenAddr(key, value string) {
	if value == "" {
		return
	}
	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, "must be host:port or :port")
		return
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 0 || port > 65535 {
		v.AddError(key, "port must be a number between 0 and 65535")
	}
}

func (v *ConfigValidator) ValidateMinLength(key, value string, minLen int) {
	if value != "" && len(value) < minLen {
		v.AddError(key, fmt.Sprintf("too short, need at least %d characters", minLen))
	}
}

func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, value) {
		v.AddError(key, fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")))
	}
}

func (v *ConfigValidator) ValidatePositiveInt(key, value string) {
	if value == "" {
		return
	}
	if n, err := strconv.ParseInt(value, 10, 64); err != nil || n <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

// ValidateDuration accepts Go durations such as "30s" or "1h". Zero is
// allowed.
func (v *ConfigValidator) ValidateDuration(key, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.AddError(key, "must be a duration such as 30m or 1h")
		return
	}
	if d < 0 {
		v.AddError(key, "must not be negative")
	}
}

// ValidateBcryptHash rejects anything bcrypt cannot read a cost from, which
// catches a plain token pasted where its hash belongs.
func (v *ConfigValidator) ValidateBcryptHash(key, value string) {
	if value == "" {
		return
	}
	if _, err := bcrypt.Cost([]byte(value)); err != nil {
		v.AddError(key, "must be a bcrypt hash (see cmd/tokenhash)")
	}
}

// ValidateAllOrNone reports an error when only some of keys are set.
func (v *ConfigValidator) ValidateAllOrNone(keys ...string) {
	var set, missing []string
	for _, k := range keys {
		if os.Getenv(k) == "" {
			missing = append(missing, k)
		} else {
			set = append(set, k)
		}
	}
	if len(set) > 0 && len(missing) > 0 {
		v.AddError(strings.Join(missing, ", "),
			fmt.Sprintf("must be set together with %s", strings.Join(set, ", ")))
	}
}

// ValidateAllConfiguration validates the environment at startup. Nothing is
// required: every integration is off unless configured.
func ValidateAllConfiguration() error {
	v := NewConfigValidator()

	v.ValidateListenAddr("FD_ADDR", os.Getenv("FD_ADDR"))
	v.ValidateListenAddr("FD_OPS_ADDR", os.Getenv("FD_OPS_ADDR"))

	v.ValidatePositiveInt("FD_MAX_FILE_BYTES", os.Getenv("FD_MAX_FILE_BYTES"))
	v.ValidatePositiveInt("FD_MAX_FORM_BYTES", os.Getenv("FD_MAX_FORM_BYTES"))

	// Upload token is configured as a bcrypt hash, never in clear
	v.ValidateBcryptHash("FD_UPLOAD_TOKEN_HASH", os.Getenv("FD_UPLOAD_TOKEN_HASH"))

	// Database configuration
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
			v.AddError("DATABASE_URL", "must be a postgres:// connection URL")
		}
	}

	// MinIO/S3 mirror
	v.ValidateAllOrNone("FD_S3_ENDPOINT", "FD_S3_ACCESS_KEY", "FD_S3_SECRET_KEY", "FD_BUCKET")
	if endpoint := os.Getenv("FD_S3_ENDPOINT"); endpoint != "" {
		if _, _, err := normaliseEndpoint(endpoint); err != nil {
			v.AddError("FD_S3_ENDPOINT", err.Error())
		}
	}

	// Events
	v.ValidateURL("FD_WEBHOOK_URL", os.Getenv("FD_WEBHOOK_URL"))
	v.ValidateMinLength("FD_WEBHOOK_SECRET", os.Getenv("FD_WEBHOOK_SECRET"), 16)
	if os.Getenv("FD_WEBHOOK_SECRET") != "" && os.Getenv("FD_WEBHOOK_URL") == "" {
		v.AddError("FD_WEBHOOK_SECRET", "set without FD_WEBHOOK_URL")
	}
	if os.Getenv("FD_KAFKA_TOPIC") != "" && os.Getenv("KAFKA_BROKER_ADDRESS") == "" {
		v.AddError("FD_KAFKA_TOPIC", "set without KAFKA_BROKER_ADDRESS")
	}

	// Temp sweeper
	v.ValidateDuration("FD_TEMP_SWEEP_INTERVAL", os.Getenv("FD_TEMP_SWEEP_INTERVAL"))
	v.ValidateDuration("FD_TEMP_MAX_AGE", os.Getenv("FD_TEMP_MAX_AGE"))

	// Log configuration
	v.ValidateEnum("FD_LOG_FORMAT", os.Getenv("FD_LOG_FORMAT"), []string{"", "json", "text"})
	v.ValidateEnum("FD_LOG_LEVEL", os.Getenv("FD_LOG_LEVEL"), []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum("FD_ENV", os.Getenv("FD_ENV"), []string{"", "development", "production", "staging"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}

// WarnOnOptionalMissingConfig logs which optional integrations are off.
func WarnOnOptionalMissingConfig() {
	off := map[string]string{
		"FD_UPLOAD_TOKEN_HASH": "POST /upload is open to anyone",
		"DATABASE_URL":         "upload audit disabled",
		"FD_S3_ENDPOINT":       "bucket mirror disabled",
		"FD_OPS_ADDR":          "health and metrics endpoints disabled",
	}

	var warnings []string
	for _, key := range []string{"FD_UPLOAD_TOKEN_HASH", "DATABASE_URL", "FD_S3_ENDPOINT", "FD_OPS_ADDR"} {
		if os.Getenv(key) == "" {
			warnings = append(warnings, key+" not set: "+off[key])
		}
	}
	if os.Getenv("FD_LOG_FORMAT") == "" && os.Getenv("FD_ENV") == "production" {
		warnings = append(warnings, "FD_LOG_FORMAT not set: production defaults to json")
	}

	if len(warnings) > 0 {
		Info("configuration_warnings", map[string]any{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}
